// Package pipeline wires a catalog, a survey mask and an isochrone library
// to the search configuration: it builds grid-scan requests for a sky region
// and runs the fit-then-sample follow-up of a single candidate.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/ultrafaint/internal/background"
	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/config"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
	"github.com/banshee-data/ultrafaint/internal/roi"
	"github.com/banshee-data/ultrafaint/internal/search"
)

// Inputs are the read-only collaborators shared by scans and samplers.
type Inputs struct {
	Objects []catalog.Object
	Mask    mask.Adapter
	Library *isochrone.Library
	Config  *config.SearchConfig
}

func (in Inputs) validate() error {
	if len(in.Objects) == 0 {
		return catalog.ErrEmptyCatalog
	}
	if in.Mask == nil {
		return fmt.Errorf("pipeline needs a mask: %w", mask.ErrMaskUnavailable)
	}
	if in.Library == nil {
		return fmt.Errorf("pipeline needs an isochrone library: %w", isochrone.ErrMalformedLibrary)
	}
	if in.Config == nil {
		return fmt.Errorf("pipeline needs a search configuration")
	}
	return in.Config.Validate()
}

// Manager indexes the catalog at the configured coarse resolution.
func (in Inputs) Manager() (*roi.Manager, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	cat := catalog.New(in.Objects, catalog.WithBand(in.Config.GetBand()))
	return roi.NewManager(cat, in.Mask, in.Config.ROIOptions().NsideTarget)
}

// ScanRequest builds a grid scan over the observed coarse pixels whose
// centres lie inside region.
func (in Inputs) ScanRequest(region roi.Disc) (search.ScanRequest, error) {
	mgr, err := in.Manager()
	if err != nil {
		return search.ScanRequest{}, err
	}
	pixels, err := mgr.Pixelize(region)
	if err != nil {
		return search.ScanRequest{}, err
	}
	if len(pixels) == 0 {
		// Small regions can miss every pixel centre.
		pixels = []int{mgr.Scheme().Ang2Pix(region.Lon, region.Lat)}
	}
	lopts, err := in.Config.LikelihoodOptions()
	if err != nil {
		return search.ScanRequest{}, err
	}
	grid, err := in.Config.Grid()
	if err != nil {
		return search.ScanRequest{}, err
	}
	return search.ScanRequest{
		Manager:    mgr,
		Pixels:     pixels,
		ROI:        in.Config.ROIOptions(),
		Background: in.Config.BackgroundOptions(),
		Library:    in.Library,
		Likelihood: lopts,
		Shape:      in.Config.Shape(),
		Grid:       grid,
		Workers:    in.Config.GetWorkers(),
		FullPDF:    in.Config.GetFullPDF(),
	}, nil
}

// EvaluatorAt builds the likelihood of the coarse pixel containing
// (lon, lat), the same region a grid scan would use there.
func (in Inputs) EvaluatorAt(lon, lat float64) (*likelihood.Evaluator, error) {
	mgr, err := in.Manager()
	if err != nil {
		return nil, err
	}
	opts := in.Config.ROIOptions()
	pix := mgr.Scheme().Ang2Pix(lon, lat)
	r, err := mgr.ROI(pix, opts)
	if err != nil {
		return nil, err
	}
	objs, err := mgr.ObjectsInPixel(pix, opts.Margin())
	if err != nil {
		return nil, err
	}
	bg, err := background.Build(objs, r, in.Mask, in.Config.BackgroundOptions())
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	if bg.LowStatistics() {
		monitoring.Logf("pipeline: pixel %d background built on %d objects (low statistics)", pix, bg.NumObjects())
	}
	lopts, err := in.Config.LikelihoodOptions()
	if err != nil {
		return nil, err
	}
	return likelihood.New(r, objs, bg, in.Library, in.Mask, lopts)
}

// StartFromScan returns the best candidate of a scan as a sampler start.
func StartFromScan(res *search.ScanResult, shape search.Point) (search.Point, bool) {
	best, ok := res.Max()
	if !ok {
		return search.Point{}, false
	}
	p := shape
	p.Richness = best.Result.Richness
	p.Spatial.Lon, p.Spatial.Lat = best.Lon, best.Lat
	p.Iso = best.Iso
	return p, true
}

// Bounds limits the free parameters to the region around start: the
// centroid to radius degrees, the distance modulus and isochrone to the
// configured grid and library.
func Bounds(start search.Point, radius float64, grid search.IsoGrid, lib *isochrone.Library) map[string]search.Bound {
	dlon := radius / math.Max(math.Cos(start.Spatial.Lat*math.Pi/180), 1e-3)
	b := map[string]search.Bound{
		search.ParamRichness:    {Lo: 0, Hi: math.Inf(1)},
		search.ParamLon:         {Lo: start.Spatial.Lon - dlon, Hi: start.Spatial.Lon + dlon},
		search.ParamLat:         {Lo: start.Spatial.Lat - radius, Hi: start.Spatial.Lat + radius},
		search.ParamExtension:   {Lo: 1e-3, Hi: radius},
		search.ParamEllipticity: {Lo: 0, Hi: 0.95},
	}
	if len(grid.DistanceModulus) > 0 {
		lo, hi := minMax(grid.DistanceModulus)
		b[search.ParamDistanceModulus] = search.Bound{Lo: lo, Hi: hi}
	}
	if lib != nil {
		aMin, aMax, zMin, zMax := lib.Bounds()
		b[search.ParamAge] = search.Bound{Lo: aMin, Hi: aMax}
		b[search.ParamMetallicity] = search.Bound{Lo: zMin, Hi: zMax}
	}
	return b
}

func minMax(v []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	return lo, hi
}

// SampleResult is the outcome of a fit followed by an ensemble run.
type SampleResult struct {
	Fit   *search.FitResult
	Chain *search.Chain
	Burn  int
}

// Estimate is a marginal summary of one parameter.
type Estimate struct {
	Name              string
	Median            float64
	Lower, Upper      float64 // 68% central interval
	MaximumLikelihood float64 // fitted value
}

// Estimates summarizes every free parameter of the chain after burn-in.
func (r *SampleResult) Estimates() []Estimate {
	if r.Chain == nil || r.Fit == nil {
		return nil
	}
	out := make([]Estimate, 0, len(r.Chain.Names))
	for d, name := range r.Chain.Names {
		lo, hi := r.Chain.Interval(d, r.Burn, 0.68)
		v, _ := r.Fit.Point.Get(name)
		out = append(out, Estimate{Name: name, Median: r.Chain.Median(d, r.Burn), Lower: lo, Upper: hi, MaximumLikelihood: v})
	}
	return out
}

// Sample refines start by Nelder-Mead and runs the ensemble sampler around
// the fitted point. A run stopped by its time budget returns a partial
// chain; cancellation of ctx returns the partial chain and ctx.Err().
// Cancellation during the fit returns the best fitted point and no chain.
func (in Inputs) Sample(ctx context.Context, start search.Point) (*SampleResult, error) {
	ev, err := in.EvaluatorAt(start.Spatial.Lon, start.Spatial.Lat)
	if err != nil {
		return nil, err
	}
	grid, err := in.Config.Grid()
	if err != nil {
		return nil, err
	}
	bounds := Bounds(start, in.Config.ROIOptions().RegionRadius, grid, in.Library)
	target, err := search.NewTarget(ev, start, in.Config.GetFree(), bounds)
	if err != nil {
		return nil, err
	}

	fit, err := search.Fit(ctx, target, start, 0)
	if err != nil {
		if fit == nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		return &SampleResult{Fit: fit}, fmt.Errorf("fit: %w", err)
	}
	monitoring.Logf("pipeline: fit converged to TS %.2f richness %.2f after %d evaluations", fit.Profile.TS, fit.Point.Richness, fit.Evaluations)

	centre := target.Vector(fit.Point)
	scale := make([]float64, len(centre))
	for i, name := range target.Free {
		scale[i] = 0.1 * search.DefaultScale(name, centre[i])
	}
	seed := in.Config.GetSeed()
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	walkers := max(in.Config.GetWalkers(), 2*target.Dim(), 4)
	positions, err := search.Ball(rng, centre, scale, walkers, target.LogProb)
	if err != nil {
		return nil, err
	}
	state, err := search.NewEnsembleState(positions, target.LogProb)
	if err != nil {
		return nil, err
	}
	ens := &search.Ensemble{LogProb: target.LogProb, Stretch: in.Config.GetStretch(), Workers: in.Config.GetWorkers()}
	chain, err := ens.Run(ctx, state, rng, in.Config.Budget(), target.Free)
	res := &SampleResult{Fit: fit, Chain: chain, Burn: in.Config.GetBurn()}
	if chain != nil && res.Burn >= chain.Steps {
		res.Burn = chain.Steps / 2
	}
	return res, err
}

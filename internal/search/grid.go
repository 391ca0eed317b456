package search

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ultrafaint/internal/background"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/likelihood"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
	"github.com/banshee-data/ultrafaint/internal/roi"
)

// DeltaTSEnvelope is the TS drop bounding the rough error envelopes of a
// scan: the 90% quantile of a one-parameter chi-squared.
const DeltaTSEnvelope = 2.71

// IsoGrid lists the isochrone parameters scanned at every target.
type IsoGrid struct {
	DistanceModulus []float64
	Age             []float64
	Z               []float64
}

// Points expands the grid with distance modulus varying fastest.
func (g IsoGrid) Points() ([]likelihood.IsoParams, error) {
	if len(g.DistanceModulus) == 0 || len(g.Age) == 0 || len(g.Z) == 0 {
		return nil, fmt.Errorf("isochrone grid needs at least one distance modulus, age and metallicity")
	}
	combos, err := ExpandRanges(g.Age, g.Z, g.DistanceModulus)
	if err != nil {
		return nil, err
	}
	out := make([]likelihood.IsoParams, len(combos))
	for i, c := range combos {
		out[i] = likelihood.IsoParams{Age: c[0], Z: c[1], DistanceModulus: c[2]}
	}
	return out, nil
}

// ScanRequest configures a grid scan.
type ScanRequest struct {
	Manager    *roi.Manager
	Pixels     []int // coarse target pixels at the manager's resolution
	ROI        roi.Options
	Background background.Options
	Library    *isochrone.Library
	Likelihood likelihood.Options
	// Shape holds the extension, ellipticity and position angle; the
	// centroid is set to each target pixel.
	Shape   kernel.Params
	Grid    IsoGrid
	Workers int
	// FullPDF adds the richness interval and upper limit to every point.
	FullPDF bool
	CL      float64 // interval confidence level, default 0.6827
	// Progress, if set, is called after each coarse pixel finishes.
	Progress func(done, total int)
}

// GridPoint is one evaluated hypothesis of a scan.
type GridPoint struct {
	Coarse     int // coarse pixel the target belongs to
	Pixel      int // target pixel at nside_likelihood
	Lon, Lat   float64
	Iso        likelihood.IsoParams
	Result     likelihood.Result
	Lower      float64 // richness interval, FullPDF only
	Upper      float64
	UpperLimit float64 // 95% Bayesian upper limit, FullPDF only
	Err        error   // set for points the likelihood could not evaluate

	order int
}

// Valid reports whether the point was evaluated.
func (p GridPoint) Valid() bool { return p.Err == nil }

// Candidate reports whether the point can be reported as a detection
// candidate: valid and not excluded by the negative-richness policy.
func (p GridPoint) Candidate() bool {
	return p.Valid() && !p.Result.Flags.Has(likelihood.FlagExcluded)
}

// ScanResult is a likelihood map. Points are ordered by coarse pixel, target
// pixel and isochrone grid order.
type ScanResult struct {
	Points   []GridPoint
	Failed   map[int]error // coarse pixels whose region could not be built
	Complete bool
}

func (req *ScanRequest) validate() error {
	if req.Manager == nil {
		return fmt.Errorf("scan needs an ROI manager")
	}
	if req.Library == nil {
		return fmt.Errorf("scan needs an isochrone library: %w", isochrone.ErrMalformedLibrary)
	}
	if len(req.Pixels) == 0 {
		return fmt.Errorf("scan needs at least one target pixel")
	}
	if err := req.ROI.Validate(); err != nil {
		return err
	}
	if req.ROI.NsideTarget != req.Manager.Scheme().Nside() {
		return fmt.Errorf("roi nside_target %d does not match manager nside %d", req.ROI.NsideTarget, req.Manager.Scheme().Nside())
	}
	if err := req.Background.Validate(); err != nil {
		return err
	}
	if _, err := kernel.New(req.Likelihood.Kernel, kernel.Params{Extension: req.Shape.Extension, Ellipticity: req.Shape.Ellipticity, PositionAngle: req.Shape.PositionAngle}); err != nil {
		return err
	}
	return nil
}

// GridScan profiles richness at every target pixel of every requested coarse
// pixel and every isochrone grid point. Coarse pixels run in parallel.
// Points that fail to evaluate are kept with Err set; a coarse pixel whose
// region cannot be built is listed in Failed. Neither stops the scan. If
// ctx is cancelled the points computed so far are returned with ctx.Err().
func GridScan(ctx context.Context, req ScanRequest) (*ScanResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	isos, err := req.Grid.Points()
	if err != nil {
		return nil, err
	}
	workers := req.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pixels := append([]int(nil), req.Pixels...)
	sort.Ints(pixels)

	res := &ScanResult{Failed: make(map[int]error)}
	var (
		mu   sync.Mutex
		done int
	)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, pix := range pixels {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pts, err := scanPixel(ctx, &req, pix, isos)
			mu.Lock()
			defer mu.Unlock()
			res.Points = append(res.Points, pts...)
			if err != nil && ctx.Err() == nil {
				res.Failed[pix] = err
				monitoring.Logf("scan: pixel %d skipped: %v", pix, err)
			}
			done++
			if req.Progress != nil {
				req.Progress(done, len(pixels))
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Points, func(i, j int) bool {
		a, b := res.Points[i], res.Points[j]
		if a.Coarse != b.Coarse {
			return a.Coarse < b.Coarse
		}
		if a.Pixel != b.Pixel {
			return a.Pixel < b.Pixel
		}
		return a.order < b.order
	})
	res.Complete = ctx.Err() == nil
	monitoring.Logf("scan: %d points over %d pixels (%d failed, complete=%v)", len(res.Points), len(pixels), len(res.Failed), res.Complete)
	return res, ctx.Err()
}

func scanPixel(ctx context.Context, req *ScanRequest, pix int, isos []likelihood.IsoParams) ([]GridPoint, error) {
	r, err := req.Manager.ROI(pix, req.ROI)
	if err != nil {
		return nil, err
	}
	objs, err := req.Manager.ObjectsInPixel(pix, req.ROI.Margin())
	if err != nil {
		return nil, err
	}
	msk := req.Manager.Mask()
	bg, err := background.Build(objs, r, msk, req.Background)
	if err != nil {
		return nil, fmt.Errorf("background: %w", err)
	}
	ev, err := likelihood.New(r, objs, bg, req.Library, msk, req.Likelihood)
	if err != nil {
		return nil, err
	}
	cl := req.CL
	if cl <= 0 || cl >= 1 {
		cl = 0.6827
	}

	targets := r.Targets()
	monitoring.Debugf("scan: pixel %d: %d targets x %d isochrones over %d objects", pix, len(targets), len(isos), ev.NumObjects())
	pts := make([]GridPoint, 0, len(targets)*len(isos))
	for k, iso := range isos {
		for _, t := range targets {
			if err := ctx.Err(); err != nil {
				return pts, err
			}
			lon, lat := r.TargetPosition(t)
			spatial := req.Shape
			spatial.Lon, spatial.Lat = lon, lat
			gp := GridPoint{Coarse: pix, Pixel: t, Lon: lon, Lat: lat, Iso: iso, order: k}
			gp.Result, gp.Err = ev.Profile(spatial, iso)
			if gp.Err == nil && req.FullPDF {
				terms, _ := ev.Terms(spatial, iso)
				gp.Lower, gp.Upper = terms.Interval(cl)
				gp.UpperLimit = terms.UpperLimit(0.95)
			}
			pts = append(pts, gp)
		}
	}
	return pts, nil
}

// Max returns the candidate point with the highest TS.
func (r *ScanResult) Max() (GridPoint, bool) {
	var best GridPoint
	found := false
	for _, p := range r.Points {
		if !p.Candidate() {
			continue
		}
		if !found || p.Result.TS > best.Result.TS {
			best, found = p, true
		}
	}
	return best, found
}

// TSMap returns, per target pixel, the highest TS over the isochrone grid.
func (r *ScanResult) TSMap() map[int]float64 {
	out := make(map[int]float64)
	for _, p := range r.Points {
		if !p.Candidate() {
			continue
		}
		if v, ok := out[p.Pixel]; !ok || p.Result.TS > v {
			out[p.Pixel] = p.Result.TS
		}
	}
	return out
}

// Estimate summarizes the best point of a scan with rough envelopes: the
// distance moduli at the best pixel and the pixel positions at the best
// isochrone that lie within DeltaTSEnvelope of the maximum.
type Estimate struct {
	Best            GridPoint
	DistanceModulus [2]float64
	Lon, Lat        [2]float64
	StellarMass     float64
}

// MLE returns the scan's maximum-likelihood summary.
func (r *ScanResult) MLE() (Estimate, bool) {
	best, ok := r.Max()
	if !ok {
		return Estimate{}, false
	}
	est := Estimate{
		Best:            best,
		DistanceModulus: [2]float64{math.Inf(1), math.Inf(-1)},
		Lon:             [2]float64{math.Inf(1), math.Inf(-1)},
		Lat:             [2]float64{math.Inf(1), math.Inf(-1)},
		StellarMass:     best.Result.StellarMass,
	}
	cut := best.Result.TS - DeltaTSEnvelope
	widen := func(b *[2]float64, v float64) {
		b[0] = math.Min(b[0], v)
		b[1] = math.Max(b[1], v)
	}
	for _, p := range r.Points {
		if !p.Candidate() || p.Result.TS < cut {
			continue
		}
		if p.Pixel == best.Pixel && p.Iso.Age == best.Iso.Age && p.Iso.Z == best.Iso.Z {
			widen(&est.DistanceModulus, p.Iso.DistanceModulus)
		}
		if p.Iso == best.Iso {
			widen(&est.Lon, p.Lon)
			widen(&est.Lat, p.Lat)
		}
	}
	return est, true
}

// Package likelihood evaluates the extended maximum-likelihood Poisson
// mixture of a satellite on top of a field-star background.
//
// For a hypothesis with spatial kernel K, isochrone density u and richness λ
// the expected density of catalog objects at x with photometry p is
//
//	λ s(x, p) + b(x, p),  s = K(x) u(p) ε(x, p)
//
// and the log-likelihood is, up to a constant,
//
//	ln L(λ) = -λ f + Σ_i ln(λ s_i + b_i)
//
// where f is the fraction of the satellite's stars that would be observed.
// Richness is profiled out by solving d lnL/dλ = 0; the test statistic is
// TS = 2 [ln L(λ̂) - ln L(0)] with λ̂ clamped at zero.
package likelihood

import (
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/ultrafaint/internal/background"
	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/isochrone"
	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/roi"
)

// Flags annotate a result.
type Flags uint8

const (
	// FlagLowStatistics marks results built on the sparse-field background.
	FlagLowStatistics Flags = 1 << iota
	// FlagNegativeRichness marks an unclamped MLE below zero.
	FlagNegativeRichness
	// FlagUnobserved marks hypotheses with no observable fraction.
	FlagUnobserved
	// FlagExcluded marks results dropped by the exclude policy.
	FlagExcluded
)

// Has reports whether every bit of q is set.
func (f Flags) Has(q Flags) bool { return f&q == q }

// NegativePolicy decides what happens to a negative richness MLE.
type NegativePolicy string

const (
	// PolicyFloor reports the point with richness and TS floored at zero.
	PolicyFloor NegativePolicy = "floor"
	// PolicyExclude flags the point as excluded from candidate lists.
	PolicyExclude NegativePolicy = "exclude"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (NegativePolicy, error) {
	switch NegativePolicy(s) {
	case PolicyFloor, "":
		return PolicyFloor, nil
	case PolicyExclude:
		return PolicyExclude, nil
	}
	return "", fmt.Errorf("unknown negative richness policy %q (want floor or exclude)", s)
}

// IsoParams select an isochrone and its distance.
type IsoParams struct {
	Age             float64 // Gyr
	Z               float64
	DistanceModulus float64
}

// Result is the outcome of profiling richness for one hypothesis.
type Result struct {
	TS          float64
	LogLike     float64 // ln L(λ̂) - ln L(0), λ̂ clamped
	Richness    float64 // clamped at zero
	RichnessRaw float64 // unconstrained MLE
	RichnessErr float64 // from the curvature at the clamped MLE
	Gradient    float64
	Curvature   float64
	Fraction    float64
	NSignal     float64 // Σ membership probabilities
	StellarMass float64 // richness times mean stellar mass
	Flags       Flags
}

// Options configures an Evaluator.
type Options struct {
	Kernel         kernel.Kind
	Iso            isochrone.Model
	NegativePolicy NegativePolicy
	Band           catalog.Band
}

type cmdEntry struct {
	pdf         []float64
	fracByLim   map[float64]float64
	stellarMass float64
}

// maxCMDCache bounds the per-isochrone cache; the sampler visits a
// continuum of isochrone parameters.
const maxCMDCache = 2048

// Evaluator holds the data for one ROI and evaluates hypotheses against it.
// It is safe for concurrent use.
type Evaluator struct {
	roi  *roi.ROI
	lib  *isochrone.Library
	bg   *background.Model
	mask mask.Adapter
	opts Options

	lons, lats         []float64
	colors, mags       []float64
	colorErrs, magErrs []float64
	eff                []float64
	back               []float64

	mu    sync.Mutex
	cache map[IsoParams]*cmdEntry
}

// New selects the objects inside the likelihood region and the CMD window,
// computes their background densities and detection efficiencies, and
// returns an evaluator for them. Objects with zero background density are
// dropped.
func New(r *roi.ROI, objects []catalog.Object, bg *background.Model, lib *isochrone.Library, m mask.Adapter, opts Options) (*Evaluator, error) {
	if r == nil || bg == nil || lib == nil || m == nil {
		return nil, fmt.Errorf("likelihood: roi, background, library and mask are required")
	}
	if opts.NegativePolicy == "" {
		opts.NegativePolicy = PolicyFloor
	}
	e := &Evaluator{roi: r, lib: lib, bg: bg, mask: m, opts: opts, cache: make(map[IsoParams]*cmdEntry)}
	iso := opts.Iso
	for _, o := range objects {
		if !r.InRegion(o.Lon, o.Lat) {
			continue
		}
		c, mag := o.Color(), o.Mag(opts.Band)
		if c < iso.ColorMin || c > iso.ColorMax || mag < iso.MagMin || mag > iso.MagMax {
			continue
		}
		b := bg.Density(c, mag, o.Lon, o.Lat)
		if b <= 0 {
			continue
		}
		eff := o.Efficiency
		if eff <= 0 {
			eff = mask.Efficiency(m, iso.Completeness, o.Lon, o.Lat, mag)
		}
		e.lons = append(e.lons, o.Lon)
		e.lats = append(e.lats, o.Lat)
		e.colors = append(e.colors, c)
		e.mags = append(e.mags, mag)
		e.colorErrs = append(e.colorErrs, o.ColorErr())
		e.magErrs = append(e.magErrs, o.MagErr(opts.Band))
		e.eff = append(e.eff, eff)
		e.back = append(e.back, b)
	}
	return e, nil
}

// NumObjects is the number of objects entering the likelihood.
func (e *Evaluator) NumObjects() int { return len(e.lons) }

// ROI returns the region the evaluator was built for.
func (e *Evaluator) ROI() *roi.ROI { return e.roi }

func (e *Evaluator) cmd(iso IsoParams) (*cmdEntry, error) {
	e.mu.Lock()
	entry, ok := e.cache[iso]
	e.mu.Unlock()
	if ok {
		return entry, nil
	}

	tpl, err := e.lib.Template(iso.Age, iso.Z)
	if err != nil {
		return nil, err
	}
	pts := tpl.Shift(iso.DistanceModulus)
	entry = &cmdEntry{
		pdf:         e.opts.Iso.DensityAll(pts, e.colors, e.mags, e.colorErrs, e.magErrs),
		fracByLim:   make(map[float64]float64),
		stellarMass: tpl.StellarMass(),
	}
	fp := e.roi.Footprint()
	for i := 0; i < fp.Len(); i++ {
		ml := fp.MagLim(i)
		if _, ok := entry.fracByLim[ml]; !ok {
			entry.fracByLim[ml] = e.opts.Iso.ObservableFraction(pts, ml)
		}
	}

	e.mu.Lock()
	if len(e.cache) >= maxCMDCache {
		e.cache = make(map[IsoParams]*cmdEntry)
	}
	e.cache[iso] = entry
	e.mu.Unlock()
	return entry, nil
}

// Terms computes s_i, b_i and f for a hypothesis.
func (e *Evaluator) Terms(spatial kernel.Params, iso IsoParams) (Terms, error) {
	t, _, err := e.terms(spatial, iso)
	return t, err
}

func (e *Evaluator) terms(spatial kernel.Params, iso IsoParams) (Terms, *cmdEntry, error) {
	k, err := kernel.New(e.opts.Kernel, spatial)
	if err != nil {
		return Terms{}, nil, err
	}
	entry, err := e.cmd(iso)
	if err != nil {
		return Terms{}, nil, err
	}
	fp := e.roi.Footprint()
	frac := fp.Integrate(k, func(i int) float64 { return entry.fracByLim[fp.MagLim(i)] })

	sig := make([]float64, len(e.lons))
	for i := range sig {
		if entry.pdf[i] == 0 || e.eff[i] == 0 {
			continue
		}
		sig[i] = k.SurfaceDensity(e.lons[i], e.lats[i]) * entry.pdf[i] * e.eff[i]
	}
	return Terms{Signal: sig, Background: e.back, Fraction: frac}, entry, nil
}

// NegLogLikelihood returns -2 [ln L(richness) - ln L(0)] for a hypothesis.
func (e *Evaluator) NegLogLikelihood(spatial kernel.Params, iso IsoParams, richness float64) (float64, error) {
	t, err := e.Terms(spatial, iso)
	if err != nil {
		return 0, err
	}
	return -2 * t.LogLike(richness), nil
}

// LogLike returns ln L(richness) - ln L(0) for a hypothesis.
func (e *Evaluator) LogLike(spatial kernel.Params, iso IsoParams, richness float64) (float64, error) {
	t, err := e.Terms(spatial, iso)
	if err != nil {
		return 0, err
	}
	return t.LogLike(richness), nil
}

// Profile maximizes the likelihood over richness for a hypothesis.
func (e *Evaluator) Profile(spatial kernel.Params, iso IsoParams) (Result, error) {
	t, entry, err := e.terms(spatial, iso)
	if err != nil {
		return Result{}, err
	}
	res := profile(t)
	res.StellarMass = res.Richness * entry.stellarMass
	return annotate(res, e.bg.LowStatistics(), e.opts.NegativePolicy), nil
}

func annotate(res Result, lowStats bool, policy NegativePolicy) Result {
	if lowStats {
		res.Flags |= FlagLowStatistics
	}
	if res.Flags.Has(FlagNegativeRichness) && policy == PolicyExclude {
		res.Flags |= FlagExcluded
	}
	return res
}

func profile(t Terms) Result {
	res := Result{Fraction: t.Fraction}
	if t.Fraction <= 0 {
		res.Flags |= FlagUnobserved
		res.RichnessErr = math.Inf(1)
		return res
	}
	raw := t.MLE()
	res.RichnessRaw = raw
	if raw < 0 {
		res.Flags |= FlagNegativeRichness
	}
	lam := math.Max(raw, 0)
	res.Richness = lam
	res.LogLike = t.LogLike(lam)
	res.TS = math.Max(0, 2*res.LogLike)
	res.Gradient = t.Gradient(lam)
	res.Curvature = t.Curvature(lam)
	if res.Curvature < 0 {
		res.RichnessErr = 1 / math.Sqrt(-res.Curvature)
	} else {
		res.RichnessErr = math.Inf(1)
	}
	for i, s := range t.Signal {
		if s > 0 {
			res.NSignal += lam * s / (lam*s + t.Background[i])
		}
	}
	return res
}

// Membership returns each object's probability of belonging to the
// satellite at the given richness.
func (e *Evaluator) Membership(spatial kernel.Params, iso IsoParams, richness float64) ([]float64, error) {
	t, err := e.Terms(spatial, iso)
	if err != nil {
		return nil, err
	}
	p := make([]float64, len(t.Signal))
	for i, s := range t.Signal {
		if s > 0 && richness > 0 {
			p[i] = richness * s / (richness*s + t.Background[i])
		}
	}
	return p, nil
}

// RichnessInterval returns the profile-likelihood interval on richness.
func (e *Evaluator) RichnessInterval(spatial kernel.Params, iso IsoParams, cl float64) (lo, hi float64, err error) {
	t, err := e.Terms(spatial, iso)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = t.Interval(cl)
	return lo, hi, nil
}

// RichnessUpperLimit returns the Bayesian upper limit on richness.
func (e *Evaluator) RichnessUpperLimit(spatial kernel.Params, iso IsoParams, cl float64) (float64, error) {
	t, err := e.Terms(spatial, iso)
	if err != nil {
		return 0, err
	}
	return t.UpperLimit(cl), nil
}

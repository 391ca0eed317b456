package search

import (
	"fmt"
	"math"

	"github.com/banshee-data/ultrafaint/internal/kernel"
	"github.com/banshee-data/ultrafaint/internal/likelihood"
)

// Parameter names accepted in free-parameter lists and bounds.
const (
	ParamRichness        = "richness"
	ParamLon             = "lon"
	ParamLat             = "lat"
	ParamExtension       = "extension"
	ParamEllipticity     = "ellipticity"
	ParamPositionAngle   = "position_angle"
	ParamDistanceModulus = "distance_modulus"
	ParamAge             = "age"
	ParamMetallicity     = "metallicity"
)

// ParamNames lists every parameter in canonical order.
var ParamNames = []string{
	ParamRichness, ParamLon, ParamLat, ParamExtension, ParamEllipticity,
	ParamPositionAngle, ParamDistanceModulus, ParamAge, ParamMetallicity,
}

// Point is a full satellite hypothesis.
type Point struct {
	Richness float64
	Spatial  kernel.Params
	Iso      likelihood.IsoParams
}

// Get returns the named parameter.
func (p Point) Get(name string) (float64, error) {
	switch name {
	case ParamRichness:
		return p.Richness, nil
	case ParamLon:
		return p.Spatial.Lon, nil
	case ParamLat:
		return p.Spatial.Lat, nil
	case ParamExtension:
		return p.Spatial.Extension, nil
	case ParamEllipticity:
		return p.Spatial.Ellipticity, nil
	case ParamPositionAngle:
		return p.Spatial.PositionAngle, nil
	case ParamDistanceModulus:
		return p.Iso.DistanceModulus, nil
	case ParamAge:
		return p.Iso.Age, nil
	case ParamMetallicity:
		return p.Iso.Z, nil
	}
	return 0, fmt.Errorf("unknown parameter %q", name)
}

// With returns a copy of p with the named parameter set.
func (p Point) With(name string, v float64) (Point, error) {
	switch name {
	case ParamRichness:
		p.Richness = v
	case ParamLon:
		p.Spatial.Lon = v
	case ParamLat:
		p.Spatial.Lat = v
	case ParamExtension:
		p.Spatial.Extension = v
	case ParamEllipticity:
		p.Spatial.Ellipticity = v
	case ParamPositionAngle:
		p.Spatial.PositionAngle = v
	case ParamDistanceModulus:
		p.Iso.DistanceModulus = v
	case ParamAge:
		p.Iso.Age = v
	case ParamMetallicity:
		p.Iso.Z = v
	default:
		return p, fmt.Errorf("unknown parameter %q", name)
	}
	return p, nil
}

// Bound is a closed interval on a parameter. Either side may be infinite.
type Bound struct {
	Lo, Hi float64
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool { return v >= b.Lo && v <= b.Hi }

// physicalOK applies the flat priors that hold for every run.
func physicalOK(p Point) bool {
	return p.Richness >= 0 &&
		p.Spatial.Extension > 0 &&
		p.Spatial.Ellipticity >= 0 && p.Spatial.Ellipticity < 1 &&
		p.Spatial.Lat >= -90 && p.Spatial.Lat <= 90
}

// Target is the log-posterior over a subset of free parameters, with the
// others held at Base. Priors are flat inside the physical bounds and any
// extra Bounds.
type Target struct {
	Eval   *likelihood.Evaluator
	Base   Point
	Free   []string
	Bounds map[string]Bound

	// terms is set when only richness is free; the shape terms are then
	// fixed and computed once.
	terms *likelihood.Terms
}

// NewTarget validates the free-parameter list.
func NewTarget(ev *likelihood.Evaluator, base Point, free []string, bounds map[string]Bound) (*Target, error) {
	if ev == nil {
		return nil, fmt.Errorf("target needs an evaluator")
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("target needs at least one free parameter")
	}
	seen := make(map[string]bool, len(free))
	for _, name := range free {
		if _, err := base.Get(name); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("parameter %q listed twice", name)
		}
		seen[name] = true
	}
	for name := range bounds {
		if _, err := base.Get(name); err != nil {
			return nil, fmt.Errorf("bounds: %w", err)
		}
	}
	t := &Target{Eval: ev, Base: base, Free: append([]string(nil), free...), Bounds: bounds}
	if len(free) == 1 && free[0] == ParamRichness {
		terms, err := ev.Terms(base.Spatial, base.Iso)
		if err != nil {
			return nil, err
		}
		t.terms = &terms
	}
	return t, nil
}

// Dim is the number of free parameters.
func (t *Target) Dim() int { return len(t.Free) }

// Vector extracts the free parameters of p.
func (t *Target) Vector(p Point) []float64 {
	x := make([]float64, len(t.Free))
	for i, name := range t.Free {
		x[i], _ = p.Get(name)
	}
	return x
}

// Point places the free parameters x onto Base.
func (t *Target) Point(x []float64) Point {
	p := t.Base
	for i, name := range t.Free {
		p, _ = p.With(name, x[i])
	}
	return p
}

// LogProb is the log-posterior at x up to a constant. Proposals outside the
// priors or that the likelihood cannot evaluate score -Inf.
func (t *Target) LogProb(x []float64) float64 {
	p := t.Point(x)
	if !physicalOK(p) {
		return math.Inf(-1)
	}
	for name, b := range t.Bounds {
		v, _ := p.Get(name)
		if !b.Contains(v) {
			return math.Inf(-1)
		}
	}
	var ll float64
	if t.terms != nil {
		ll = t.terms.LogLike(p.Richness)
	} else {
		var err error
		if ll, err = t.Eval.LogLike(p.Spatial, p.Iso, p.Richness); err != nil {
			return math.Inf(-1)
		}
	}
	if math.IsNaN(ll) {
		return math.Inf(-1)
	}
	return ll
}

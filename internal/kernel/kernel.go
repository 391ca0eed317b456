// Package kernel implements the spatial profiles of a candidate satellite.
//
// Every profile is an elliptical, azimuthally-stretched version of a circular
// radial profile normalized to unit integral over the tangent plane. Surface
// densities are returned per deg². The extension parameter is always the
// half-light radius along the major axis, so profiles are interchangeable in
// a fit.
package kernel

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/ultrafaint/internal/sky"
)

// ErrInvalidParameter is returned for physically meaningless kernel parameters.
var ErrInvalidParameter = errors.New("kernel: invalid parameter")

// MinExtension is the smallest half-light radius (deg) the profiles are
// evaluated with. Smaller extensions are treated as this value.
const MinExtension = 1e-4

// Params are the spatial parameters of a candidate.
type Params struct {
	Lon           float64 // deg
	Lat           float64 // deg
	Extension     float64 // half-light radius along the major axis, deg
	Ellipticity   float64 // 1 - b/a, in [0, 1)
	PositionAngle float64 // deg east of north
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	for name, v := range map[string]float64{
		"lon": p.Lon, "lat": p.Lat, "extension": p.Extension,
		"ellipticity": p.Ellipticity, "position_angle": p.PositionAngle,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidParameter, name, v)
		}
	}
	if p.Extension < 0 {
		return fmt.Errorf("%w: extension must be non-negative, got %f", ErrInvalidParameter, p.Extension)
	}
	if p.Ellipticity < 0 || p.Ellipticity >= 1 {
		return fmt.Errorf("%w: ellipticity must be in [0, 1), got %f", ErrInvalidParameter, p.Ellipticity)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude must be in [-90, 90], got %f", ErrInvalidParameter, p.Lat)
	}
	return nil
}

// Kernel is a normalized spatial density on the sky.
type Kernel interface {
	// SurfaceDensity is the density per deg² at (lon, lat).
	SurfaceDensity(lon, lat float64) float64
	// Params returns the parameters the kernel was built from.
	Params() Params
	// Extension is the effective half-light radius after flooring.
	Extension() float64
	// EdgeRadius is the major-axis radius enclosing 99% of the profile.
	EdgeRadius() float64
	// Position maps an enclosed fraction q in [0, 1) and an angle phi
	// (radians, from the major axis) to the sky.
	Position(q, phi float64) (lon, lat float64)
}

// Kind names a radial profile.
type Kind string

const (
	KindPlummer     Kind = "plummer"
	KindExponential Kind = "exponential"
	KindGaussian    Kind = "gaussian"
	KindDisk        Kind = "disk"
)

// profile is a circular radial density normalized over the plane, written in
// terms of the half-light radius rh.
type profile interface {
	density(r, rh float64) float64
	edge(rh float64) float64
	// radius is the radius enclosing fraction q of the light.
	radius(q, rh float64) float64
}

type plummer struct{}

func (plummer) density(r, rh float64) float64 {
	x := r / rh
	return 1 / (math.Pi * rh * rh * (1 + x*x) * (1 + x*x))
}

func (plummer) edge(rh float64) float64 { return math.Sqrt(99) * rh }

func (plummer) radius(q, rh float64) float64 { return rh * math.Sqrt(q/(1-q)) }

// Exponential scale length is rh / 1.678.
const expHalfLight = 1.678346990

type exponential struct{}

func (exponential) density(r, rh float64) float64 {
	re := rh / expHalfLight
	return math.Exp(-r/re) / (2 * math.Pi * re * re)
}

func (exponential) edge(rh float64) float64 { return 6.638352067 * rh / expHalfLight }

// radius inverts the enclosed fraction 1 - (1+x)e^-x by bisection.
func (exponential) radius(q, rh float64) float64 {
	lo, hi := 0.0, 64.0
	for i := 0; i < 64; i++ {
		x := 0.5 * (lo + hi)
		if 1-(1+x)*math.Exp(-x) < q {
			lo = x
		} else {
			hi = x
		}
	}
	return 0.5 * (lo + hi) * rh / expHalfLight
}

type gaussian struct{}

var gaussHalfLight = math.Sqrt(2 * math.Ln2)

func (gaussian) density(r, rh float64) float64 {
	s := rh / gaussHalfLight
	return math.Exp(-r*r/(2*s*s)) / (2 * math.Pi * s * s)
}

func (gaussian) edge(rh float64) float64 { return math.Sqrt(2*math.Log(100)) * rh / gaussHalfLight }

func (gaussian) radius(q, rh float64) float64 {
	return rh / gaussHalfLight * math.Sqrt(-2*math.Log(1-q))
}

type disk struct{}

func (disk) density(r, rh float64) float64 {
	R := rh * math.Sqrt2
	if r > R {
		return 0
	}
	return 1 / (math.Pi * R * R)
}

func (disk) edge(rh float64) float64 { return rh * math.Sqrt2 }

func (disk) radius(q, rh float64) float64 { return rh * math.Sqrt2 * math.Sqrt(q) }

// Elliptical is an elliptical kernel built on one radial profile.
type Elliptical struct {
	kind         Kind
	params       Params
	ext          float64
	prof         profile
	proj         sky.Projector
	sinPA, cosPA float64
}

// New builds a kernel of the given kind.
func New(kind Kind, p Params) (*Elliptical, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var prof profile
	switch kind {
	case KindPlummer, "":
		kind = KindPlummer
		prof = plummer{}
	case KindExponential:
		prof = exponential{}
	case KindGaussian:
		prof = gaussian{}
	case KindDisk:
		prof = disk{}
	default:
		return nil, fmt.Errorf("%w: unknown kernel kind %q", ErrInvalidParameter, kind)
	}
	s, c := math.Sincos(p.PositionAngle * math.Pi / 180)
	return &Elliptical{
		kind:   kind,
		params: p,
		ext:    math.Max(p.Extension, MinExtension),
		prof:   prof,
		proj:   sky.NewProjector(p.Lon, p.Lat),
		sinPA:  s,
		cosPA:  c,
	}, nil
}

// NewPlummer is shorthand for New(KindPlummer, p).
func NewPlummer(p Params) (*Elliptical, error) { return New(KindPlummer, p) }

// Kind returns the radial profile name.
func (k *Elliptical) Kind() Kind { return k.kind }

// Params implements Kernel.
func (k *Elliptical) Params() Params { return k.params }

// Extension implements Kernel.
func (k *Elliptical) Extension() float64 { return k.ext }

// EdgeRadius implements Kernel.
func (k *Elliptical) EdgeRadius() float64 { return k.prof.edge(k.ext) }

// EllipticalRadius returns the major-axis-equivalent radius of (lon, lat) in
// degrees. Points without a tangent-plane image are infinitely far.
func (k *Elliptical) EllipticalRadius(lon, lat float64) float64 {
	x, y, ok := k.proj.SphereToImage(lon, lat)
	if !ok {
		return math.Inf(1)
	}
	u := x*k.sinPA + y*k.cosPA // along the major axis
	v := x*k.cosPA - y*k.sinPA
	v /= 1 - k.params.Ellipticity
	return math.Hypot(u, v)
}

// SurfaceDensity implements Kernel.
func (k *Elliptical) SurfaceDensity(lon, lat float64) float64 {
	r := k.EllipticalRadius(lon, lat)
	if math.IsInf(r, 1) {
		return 0
	}
	return k.prof.density(r, k.ext) / (1 - k.params.Ellipticity)
}

// Position implements Kernel.
func (k *Elliptical) Position(q, phi float64) (lon, lat float64) {
	r := k.prof.radius(q, k.ext)
	u := r * math.Cos(phi)
	v := r * math.Sin(phi) * (1 - k.params.Ellipticity)
	x := u*k.sinPA + v*k.cosPA
	y := u*k.cosPA - v*k.sinPA
	return k.proj.ImageToSphere(x, y)
}

// Sample draws a position from the kernel using draw, which must return
// independent uniform deviates in [0, 1).
func (k *Elliptical) Sample(draw func() float64) (lon, lat float64) {
	q := draw()
	return k.Position(q, 2*math.Pi*draw())
}

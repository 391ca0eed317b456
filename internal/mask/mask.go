// Package mask adapts survey coverage and depth maps to the likelihood.
//
// The mask itself is owned by the caller; this package only defines the
// read-only Adapter interface plus a few in-memory implementations, and the
// completeness function that turns magnitude depth into detection efficiency.
package mask

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/ultrafaint/internal/healpix"
	"github.com/banshee-data/ultrafaint/internal/sky"
)

// ErrMaskUnavailable means the mask has no information at a position.
// Callers treat the position as unobserved; it is never fatal.
var ErrMaskUnavailable = errors.New("mask: no coverage information")

// Adapter answers coverage questions about a sky position (degrees).
type Adapter interface {
	// ObservedFraction is the fraction of the local area that was observed, in [0, 1].
	ObservedFraction(lon, lat float64) (float64, error)
	// LimitingMagnitude is the local magnitude depth in the detection band.
	LimitingMagnitude(lon, lat float64) (float64, error)
}

// Uniform is fully (or fractionally) observed everywhere at constant depth.
type Uniform struct {
	Fraction float64
	MagLim   float64
}

// ObservedFraction implements Adapter.
func (u Uniform) ObservedFraction(lon, lat float64) (float64, error) { return u.Fraction, nil }

// LimitingMagnitude implements Adapter.
func (u Uniform) LimitingMagnitude(lon, lat float64) (float64, error) { return u.MagLim, nil }

// Disc is observed at constant depth inside a circular footprint and
// unobserved outside.
type Disc struct {
	Lon, Lat float64
	Radius   float64
	MagLim   float64
}

// ObservedFraction implements Adapter.
func (d Disc) ObservedFraction(lon, lat float64) (float64, error) {
	if sky.Separation(d.Lon, d.Lat, lon, lat) <= d.Radius {
		return 1, nil
	}
	return 0, nil
}

// LimitingMagnitude implements Adapter.
func (d Disc) LimitingMagnitude(lon, lat float64) (float64, error) { return d.MagLim, nil }

// PixelValue is one entry of a sparse HEALPix coverage map.
type PixelValue struct {
	Pixel    int
	Fraction float64
	MagLim   float64
}

// PixelMap is a sparse HEALPix coverage map. Pixels absent from the map have
// no coverage information.
type PixelMap struct {
	scheme healpix.Scheme
	values map[int]PixelValue
}

// NewPixelMap builds a map at resolution nside from entries.
func NewPixelMap(nside int, entries []PixelValue) (*PixelMap, error) {
	s, err := healpix.New(nside)
	if err != nil {
		return nil, err
	}
	m := &PixelMap{scheme: s, values: make(map[int]PixelValue, len(entries))}
	for _, e := range entries {
		if e.Pixel < 0 || e.Pixel >= s.Npix() {
			return nil, fmt.Errorf("mask pixel %d out of range for nside %d", e.Pixel, nside)
		}
		if e.Fraction < 0 || e.Fraction > 1 || math.IsNaN(e.Fraction) {
			return nil, fmt.Errorf("mask pixel %d: fraction must be in [0, 1], got %f", e.Pixel, e.Fraction)
		}
		m.values[e.Pixel] = e
	}
	return m, nil
}

// Nside returns the map resolution.
func (m *PixelMap) Nside() int { return m.scheme.Nside() }

// Pixels returns the sorted pixel indices present in the map.
func (m *PixelMap) Pixels() []int {
	out := make([]int, 0, len(m.values))
	for p := range m.values {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (m *PixelMap) lookup(lon, lat float64) (PixelValue, error) {
	p := m.scheme.Ang2Pix(lon, lat)
	v, ok := m.values[p]
	if !ok {
		return PixelValue{}, fmt.Errorf("%w: pixel %d (nside %d)", ErrMaskUnavailable, p, m.scheme.Nside())
	}
	return v, nil
}

// ObservedFraction implements Adapter.
func (m *PixelMap) ObservedFraction(lon, lat float64) (float64, error) {
	v, err := m.lookup(lon, lat)
	if err != nil {
		return 0, err
	}
	return v.Fraction, nil
}

// LimitingMagnitude implements Adapter.
func (m *PixelMap) LimitingMagnitude(lon, lat float64) (float64, error) {
	v, err := m.lookup(lon, lat)
	if err != nil {
		return 0, err
	}
	return v.MagLim, nil
}

// Fraction returns the observed fraction at a position, mapping mask errors
// to zero (unobserved).
func Fraction(a Adapter, lon, lat float64) float64 {
	f, err := a.ObservedFraction(lon, lat)
	if err != nil || f < 0 || math.IsNaN(f) {
		return 0
	}
	return math.Min(f, 1)
}

// Efficiency is the probability that a star of magnitude mag at (lon, lat)
// is in the catalog: observed fraction times completeness at the local depth.
func Efficiency(a Adapter, c *Completeness, lon, lat, mag float64) float64 {
	f := Fraction(a, lon, lat)
	if f == 0 {
		return 0
	}
	maglim, err := a.LimitingMagnitude(lon, lat)
	if err != nil {
		return 0
	}
	return f * c.At(mag, maglim)
}

package isochrone

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/ultrafaint/internal/mask"
)

// truncSigma bounds the Gaussian smoothing kernels; contributions beyond it
// are dropped.
const truncSigma = 5.0

// Model converts shifted isochrone points into a color-magnitude density.
// The density is the IMF-weighted sum of 2-D Gaussians, one per point, with
// width set by the intrinsic smoothing and each object's photometric error
// added in quadrature. It integrates to one over the whole plane.
type Model struct {
	// Smoothing is the intrinsic spread added to every point (mag).
	Smoothing float64
	// Survey window in the detection band and color.
	MagMin, MagMax     float64
	ColorMin, ColorMax float64
	Completeness       *mask.Completeness
}

// Overlaps reports whether any shifted point falls within reach of the survey
// magnitude window.
func (m Model) Overlaps(points []Point) bool {
	pad := truncSigma * math.Max(m.Smoothing, 0.01)
	for _, p := range points {
		if p.Mag >= m.MagMin-pad && p.Mag <= m.MagMax+pad {
			return true
		}
	}
	return false
}

// Density evaluates the color-magnitude density (per mag²) at (color, mag)
// for an object with the given uncertainties. Points must already be shifted
// to the trial distance modulus. The density is zero when the isochrone
// does not reach the survey window.
func (m Model) Density(points []Point, color, mag, colorErr, magErr float64) float64 {
	if !m.Overlaps(points) {
		return 0
	}
	return m.density(points, color, mag, colorErr, magErr)
}

func (m Model) density(points []Point, color, mag, colorErr, magErr float64) float64 {
	s2 := m.Smoothing * m.Smoothing
	sc := math.Sqrt(s2 + colorErr*colorErr)
	sm := math.Sqrt(s2 + magErr*magErr)
	if sc == 0 || sm == 0 {
		return 0
	}
	var total float64
	for _, p := range points {
		if math.Abs(mag-p.Mag) > truncSigma*sm || math.Abs(color-p.Color) > truncSigma*sc {
			continue
		}
		gm := distuv.Normal{Mu: p.Mag, Sigma: sm}.Prob(mag)
		gc := distuv.Normal{Mu: p.Color, Sigma: sc}.Prob(color)
		total += p.Weight * gm * gc
	}
	return total
}

// DensityAll evaluates Density for parallel slices of object photometry.
func (m Model) DensityAll(points []Point, colors, mags, colorErrs, magErrs []float64) []float64 {
	out := make([]float64, len(colors))
	if !m.Overlaps(points) {
		return out
	}
	for i := range colors {
		out[i] = m.density(points, colors[i], mags[i], colorErrs[i], magErrs[i])
	}
	return out
}

// ObservableFraction is the fraction of stars (by IMF weight) that would be
// detected inside the survey window at limiting magnitude maglim.
func (m Model) ObservableFraction(points []Point, maglim float64) float64 {
	var f float64
	for _, p := range points {
		if p.Mag < m.MagMin || p.Mag > m.MagMax || p.Color < m.ColorMin || p.Color > m.ColorMax {
			continue
		}
		f += p.Weight * m.Completeness.At(p.Mag, maglim)
	}
	return f
}

// Density evaluates the model density for an isochrone taken from the library.
func (l *Library) Density(m Model, age, z, dm, color, mag, colorErr, magErr float64) (float64, error) {
	pts, err := l.Sample(age, z, dm)
	if err != nil {
		return 0, err
	}
	return m.Density(pts, color, mag, colorErr, magErr), nil
}

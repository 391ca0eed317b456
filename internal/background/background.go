// Package background builds the empirical field-star density model.
//
// Field stars are taken from an annulus around the candidate, binned in
// color-magnitude space, smoothed, and divided by the observed annulus area.
// The model is separable: density(color, mag, position) is the CMD density
// times the observed fraction at the position.
package background

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ultrafaint/internal/catalog"
	"github.com/banshee-data/ultrafaint/internal/mask"
	"github.com/banshee-data/ultrafaint/internal/monitoring"
)

// ErrNoAnnulusCoverage is returned when the annulus has no observed area.
var ErrNoAnnulusCoverage = errors.New("background: annulus has no observed area")

// Annulus selects field objects and reports their observed area (deg²).
type Annulus interface {
	InAnnulus(lon, lat float64) bool
	AnnulusArea() float64
}

// Options controls the CMD histogram.
type Options struct {
	Band               catalog.Band
	ColorMin, ColorMax float64
	ColorBin           float64
	MagMin, MagMax     float64
	MagBin             float64
	// SmoothingBins is the Gaussian smoothing width in bins.
	SmoothingBins float64
	// MinObjects below which the separable fallback is used.
	MinObjects int
	// FloorFraction sets the density floor as a fraction of the mean density.
	FloorFraction float64
}

// DefaultOptions returns the histogram settings used without configuration.
func DefaultOptions() Options {
	return Options{
		ColorMin: -0.5, ColorMax: 1.5, ColorBin: 0.1,
		MagMin: 16, MagMax: 24, MagBin: 0.25,
		SmoothingBins: 1,
		MinObjects:    200,
		FloorFraction: 0.01,
	}
}

// Validate checks the histogram settings.
func (o Options) Validate() error {
	if o.ColorMax <= o.ColorMin || o.ColorBin <= 0 {
		return fmt.Errorf("color window [%f, %f] step %f is invalid", o.ColorMin, o.ColorMax, o.ColorBin)
	}
	if o.MagMax <= o.MagMin || o.MagBin <= 0 {
		return fmt.Errorf("magnitude window [%f, %f] step %f is invalid", o.MagMin, o.MagMax, o.MagBin)
	}
	if o.SmoothingBins < 0 {
		return fmt.Errorf("smoothing must be non-negative, got %f", o.SmoothingBins)
	}
	if o.FloorFraction < 0 {
		return fmt.Errorf("floor fraction must be non-negative, got %f", o.FloorFraction)
	}
	return nil
}

// Model is an immutable field density model.
type Model struct {
	opts       Options
	colorEdges []float64
	magEdges   []float64
	density    [][]float64 // [color][mag], per deg² per mag²
	floor      float64
	mask       mask.Adapter
	nObjects   int
	area       float64
	lowStats   bool
}

// Build constructs the model from the objects inside the annulus.
func Build(objects []catalog.Object, ann Annulus, m mask.Adapter, opts Options) (*Model, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	area := ann.AnnulusArea()
	if area <= 0 {
		return nil, ErrNoAnnulusCoverage
	}

	nc := int(math.Round((opts.ColorMax - opts.ColorMin) / opts.ColorBin))
	nm := int(math.Round((opts.MagMax - opts.MagMin) / opts.MagBin))
	if nc < 1 {
		nc = 1
	}
	if nm < 1 {
		nm = 1
	}
	model := &Model{
		opts:       opts,
		colorEdges: floats.Span(make([]float64, nc+1), opts.ColorMin, opts.ColorMax),
		magEdges:   floats.Span(make([]float64, nm+1), opts.MagMin, opts.MagMax),
		mask:       m,
		area:       area,
	}

	var colors, mags []float64
	for _, o := range objects {
		if !ann.InAnnulus(o.Lon, o.Lat) {
			continue
		}
		c, mag := o.Color(), o.Mag(opts.Band)
		if c < opts.ColorMin || c >= opts.ColorMax || mag < opts.MagMin || mag >= opts.MagMax {
			continue
		}
		colors = append(colors, c)
		mags = append(mags, mag)
	}
	model.nObjects = len(colors)

	cellArea := (opts.ColorMax - opts.ColorMin) / float64(nc) * (opts.MagMax - opts.MagMin) / float64(nm)
	var counts [][]float64
	if model.nObjects < opts.MinObjects {
		model.lowStats = true
		counts = separableCounts(colors, mags, model.colorEdges, model.magEdges, opts.SmoothingBins)
		monitoring.Logf("background: only %d field objects (min %d), using separable CMD model", model.nObjects, opts.MinObjects)
	} else {
		counts = binCounts(colors, mags, model.colorEdges, model.magEdges)
		counts = smooth2D(counts, opts.SmoothingBins)
	}

	model.density = make([][]float64, nc)
	for i := range counts {
		model.density[i] = make([]float64, nm)
		for j, v := range counts[i] {
			model.density[i][j] = v / (area * cellArea)
		}
	}
	mean := math.Max(float64(model.nObjects), 1) / (area * (opts.ColorMax - opts.ColorMin) * (opts.MagMax - opts.MagMin))
	model.floor = opts.FloorFraction * mean
	return model, nil
}

func binCounts(colors, mags, cEdges, mEdges []float64) [][]float64 {
	nc, nm := len(cEdges)-1, len(mEdges)-1
	counts := make([][]float64, nc)
	for i := range counts {
		counts[i] = make([]float64, nm)
	}
	for k := range colors {
		i := binIndex(cEdges, colors[k])
		j := binIndex(mEdges, mags[k])
		if i >= 0 && j >= 0 {
			counts[i][j]++
		}
	}
	return counts
}

func binIndex(edges []float64, v float64) int {
	n := len(edges) - 1
	if v < edges[0] || v >= edges[n] {
		return -1
	}
	i := sort.SearchFloat64s(edges, v)
	if i < len(edges) && edges[i] == v {
		return min(i, n-1)
	}
	return i - 1
}

// separableCounts replaces the 2-D histogram with the outer product of the
// smoothed 1-D marginals, scaled to the same total.
func separableCounts(colors, mags, cEdges, mEdges []float64, sigma float64) [][]float64 {
	hc := marginal(colors, cEdges, sigma)
	hm := marginal(mags, mEdges, sigma)
	n := float64(len(colors))
	counts := make([][]float64, len(hc))
	for i := range hc {
		counts[i] = make([]float64, len(hm))
		for j := range hm {
			counts[i][j] = n * hc[i] * hm[j]
		}
	}
	return counts
}

// marginal returns the normalized, smoothed 1-D histogram; uniform if empty.
func marginal(x, edges []float64, sigma float64) []float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	h := stat.Histogram(nil, edges, sorted, nil)
	h = smooth1D(h, sigma)
	total := floats.Sum(h)
	if total == 0 {
		for i := range h {
			h[i] = 1 / float64(len(h))
		}
		return h
	}
	floats.Scale(1/total, h)
	return h
}

func gaussWeights(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	half := int(math.Ceil(3 * sigma))
	w := make([]float64, 2*half+1)
	for k := -half; k <= half; k++ {
		w[k+half] = math.Exp(-float64(k*k) / (2 * sigma * sigma))
	}
	return w
}

// smooth1D convolves h with a Gaussian, renormalizing the kernel at the edges
// so counts are not lost.
func smooth1D(h []float64, sigma float64) []float64 {
	w := gaussWeights(sigma)
	half := len(w) / 2
	out := make([]float64, len(h))
	// Scatter each bin's content so the total is conserved.
	for i, v := range h {
		if v == 0 {
			continue
		}
		var norm float64
		for k := -half; k <= half; k++ {
			if j := i + k; j >= 0 && j < len(h) {
				norm += w[k+half]
			}
		}
		for k := -half; k <= half; k++ {
			if j := i + k; j >= 0 && j < len(h) {
				out[j] += v * w[k+half] / norm
			}
		}
	}
	return out
}

func smooth2D(counts [][]float64, sigma float64) [][]float64 {
	if sigma <= 0 {
		return counts
	}
	nc := len(counts)
	nm := len(counts[0])
	rows := make([][]float64, nc)
	for i := range counts {
		rows[i] = smooth1D(counts[i], sigma)
	}
	col := make([]float64, nc)
	for j := 0; j < nm; j++ {
		for i := 0; i < nc; i++ {
			col[i] = rows[i][j]
		}
		sm := smooth1D(col, sigma)
		for i := 0; i < nc; i++ {
			rows[i][j] = sm[i]
		}
	}
	return rows
}

// CMDDensity is the field density per deg² per mag² at (color, mag),
// bilinearly interpolated between bin centres. It is zero outside the CMD
// window and never below the floor inside it.
func (m *Model) CMDDensity(color, mag float64) float64 {
	o := m.opts
	if color < o.ColorMin || color > o.ColorMax || mag < o.MagMin || mag > o.MagMax {
		return 0
	}
	ci, cf := centreIndex(m.colorEdges, color)
	mi, mf := centreIndex(m.magEdges, mag)
	d00 := m.density[ci][mi]
	d10 := m.density[min(ci+1, len(m.density)-1)][mi]
	d01 := m.density[ci][min(mi+1, len(m.density[0])-1)]
	d11 := m.density[min(ci+1, len(m.density)-1)][min(mi+1, len(m.density[0])-1)]
	d := (1-cf)*(1-mf)*d00 + cf*(1-mf)*d10 + (1-cf)*mf*d01 + cf*mf*d11
	return math.Max(d, m.floor)
}

// centreIndex returns the lower bin-centre index and fraction toward the next.
func centreIndex(edges []float64, v float64) (int, float64) {
	n := len(edges) - 1
	step := (edges[n] - edges[0]) / float64(n)
	x := (v-edges[0])/step - 0.5
	if x <= 0 {
		return 0, 0
	}
	if x >= float64(n-1) {
		return n - 1, 0
	}
	i := int(x)
	return i, x - float64(i)
}

// Density is the field density at a sky position: the CMD density times the
// observed fraction there.
func (m *Model) Density(color, mag, lon, lat float64) float64 {
	d := m.CMDDensity(color, mag)
	if d == 0 {
		return 0
	}
	return d * mask.Fraction(m.mask, lon, lat)
}

// ExpectedCount is the number of field objects expected over observedArea deg².
func (m *Model) ExpectedCount(observedArea float64) float64 {
	o := m.opts
	cell := (o.ColorMax - o.ColorMin) / float64(len(m.density)) * (o.MagMax - o.MagMin) / float64(len(m.density[0]))
	var total float64
	for i := range m.density {
		for _, d := range m.density[i] {
			total += math.Max(d, m.floor) * cell
		}
	}
	return total * observedArea
}

// LowStatistics reports whether the sparse-field fallback was used.
func (m *Model) LowStatistics() bool { return m.lowStats }

// NumObjects is the number of field objects the model was built from.
func (m *Model) NumObjects() int { return m.nObjects }

// Options returns the histogram settings.
func (m *Model) Options() Options { return m.opts }

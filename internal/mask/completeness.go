package mask

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// Completeness is the detection efficiency as a function of the distance
// below the local limiting magnitude, delta = mag - maglim. Values outside
// the tabulated range are clamped to the edge values.
type Completeness struct {
	curve interp.PiecewiseLinear
	lo    float64
	hi    float64
}

// NewCompleteness builds a completeness function from a tabulated curve.
// deltas must be strictly increasing and efficiencies in [0, 1].
func NewCompleteness(deltas, efficiencies []float64) (*Completeness, error) {
	if len(deltas) < 2 || len(deltas) != len(efficiencies) {
		return nil, fmt.Errorf("completeness curve needs at least 2 matching points, got %d/%d", len(deltas), len(efficiencies))
	}
	if !sort.SliceIsSorted(deltas, func(i, j int) bool { return deltas[i] < deltas[j] }) {
		return nil, fmt.Errorf("completeness curve magnitudes must be increasing")
	}
	for i := 1; i < len(deltas); i++ {
		if deltas[i] == deltas[i-1] {
			return nil, fmt.Errorf("completeness curve has duplicate magnitude %f", deltas[i])
		}
	}
	for i, e := range efficiencies {
		if e < 0 || e > 1 || math.IsNaN(e) {
			return nil, fmt.Errorf("completeness efficiency[%d] must be in [0, 1], got %f", i, e)
		}
	}
	c := &Completeness{lo: deltas[0], hi: deltas[len(deltas)-1]}
	if err := c.curve.Fit(deltas, efficiencies); err != nil {
		return nil, fmt.Errorf("fit completeness curve: %w", err)
	}
	return c, nil
}

// LogisticCompleteness tabulates a logistic roll-off of the given width
// (magnitudes) centred on the limiting magnitude.
func LogisticCompleteness(width float64) *Completeness {
	if width <= 0 {
		width = 0.1
	}
	const n = 101
	deltas := make([]float64, n)
	effs := make([]float64, n)
	for i := range deltas {
		d := -10*width + 20*width*float64(i)/(n-1)
		deltas[i] = d
		effs[i] = 1 / (1 + math.Exp(d/width))
	}
	c, err := NewCompleteness(deltas, effs)
	if err != nil {
		panic(err)
	}
	return c
}

// At returns the efficiency for a star of magnitude mag where the limiting
// magnitude is maglim. A nil Completeness is fully complete.
func (c *Completeness) At(mag, maglim float64) float64 {
	if c == nil {
		return 1
	}
	return c.curve.Predict(mag - maglim)
}

// Range returns the tabulated delta range.
func (c *Completeness) Range() (lo, hi float64) { return c.lo, c.hi }

// Package search drives the likelihood over parameter space: grid scans
// over target pixels and isochrone parameters, affine-invariant ensemble
// sampling, and maximum-likelihood refinement.
package search

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxValues caps a single expanded range; maxCombos caps a cartesian product.
const (
	maxValues = 10000
	maxCombos = 100000
)

// RangeSpec defines a floating-point parameter range.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses a "min:max:step" string into a RangeSpec.
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	var vals [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", vals[2])
	}
	if vals[0] > vals[1] {
		return RangeSpec{}, fmt.Errorf("min %g exceeds max %g", vals[0], vals[1])
	}
	return RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

// Values expands the range, inclusive of Max when it lies on the grid.
// Values are computed as Min + i*Step so errors do not accumulate.
func (r RangeSpec) Values() []float64 {
	if r.Step <= 0 || r.Min > r.Max {
		return nil
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	if n > maxValues || n < 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		v := r.Min + float64(i)*r.Step
		out[i] = math.Round(v*1e9) / 1e9
	}
	return out
}

// ParseCSVFloat64s parses a comma-separated list of floats.
func ParseCSVFloat64s(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseParamList parses a comma-separated list of floats or a RangeSpec.
// A string containing a colon is a "min:max:step" range.
func ParseParamList(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		vals := spec.Values()
		if len(vals) == 0 {
			return nil, fmt.Errorf("range %q expands to more than %d values", s, maxValues)
		}
		return vals, nil
	}
	return ParseCSVFloat64s(s)
}

// ExpandRanges returns the cartesian product of the value lists, last
// dimension varying fastest. An empty list contributes a single zero.
func ExpandRanges(values ...[]float64) ([][]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	dims := make([][]float64, len(values))
	total := int64(1)
	for i, v := range values {
		if len(v) == 0 {
			v = []float64{0}
		}
		dims[i] = v
		total *= int64(len(v))
		if total > maxCombos {
			return nil, fmt.Errorf("parameter combinations would exceed safe limit of %d", maxCombos)
		}
	}

	out := make([][]float64, total)
	for i := range out {
		out[i] = make([]float64, len(dims))
	}
	repeat := int64(1)
	for d := len(dims) - 1; d >= 0; d-- {
		cycle := int64(len(dims[d]))
		for i := int64(0); i < total; i++ {
			out[i][d] = dims[d][(i/repeat)%cycle]
		}
		repeat *= cycle
	}
	return out, nil
}

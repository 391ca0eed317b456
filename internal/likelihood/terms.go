package likelihood

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	bisectIters   = 200
	bracketDouble = 80
)

// Terms are the per-object quantities of the Poisson mixture for one
// (spatial, isochrone) hypothesis: signal densities s_i, background
// densities b_i and the observable fraction f. Richness is profiled on them.
type Terms struct {
	Signal     []float64
	Background []float64
	Fraction   float64
}

// LogLike is ln L(λ) - ln L(0) = Σ ln(1 + λ s_i/b_i) - λ f. It is -Inf where
// some object would have a non-positive total density.
func (t Terms) LogLike(richness float64) float64 {
	ll := -richness * t.Fraction
	for i, s := range t.Signal {
		if s == 0 {
			continue
		}
		x := 1 + richness*s/t.Background[i]
		if x <= 0 {
			return math.Inf(-1)
		}
		ll += math.Log(x)
	}
	return ll
}

// Gradient is d lnL / dλ.
func (t Terms) Gradient(richness float64) float64 {
	g := -t.Fraction
	for i, s := range t.Signal {
		if s == 0 {
			continue
		}
		g += s / (richness*s + t.Background[i])
	}
	return g
}

// Curvature is d² lnL / dλ², always <= 0.
func (t Terms) Curvature(richness float64) float64 {
	var c float64
	for i, s := range t.Signal {
		if s == 0 {
			continue
		}
		d := richness*s + t.Background[i]
		c -= s * s / (d * d)
	}
	return c
}

// LowerBound is the smallest richness keeping every density positive,
// -min(b_i/s_i). It is -Inf if no object carries signal.
func (t Terms) LowerBound() float64 {
	lb := math.Inf(-1)
	for i, s := range t.Signal {
		if s > 0 {
			lb = math.Max(lb, -t.Background[i]/s)
		}
	}
	return lb
}

func (t Terms) hasSignal() bool {
	for _, s := range t.Signal {
		if s > 0 {
			return true
		}
	}
	return false
}

// MLE returns the unconstrained maximum-likelihood richness. The likelihood
// is concave in λ, so the root of the gradient is unique. The estimate may
// be negative when the data are under-dense relative to the background.
func (t Terms) MLE() float64 {
	if !t.hasSignal() || t.Fraction <= 0 {
		return 0
	}
	g0 := t.Gradient(0)
	if g0 == 0 {
		return 0
	}
	var lo, hi float64
	if g0 > 0 {
		lo, hi = 0, 1
		for k := 0; k < bracketDouble && t.Gradient(hi) > 0; k++ {
			lo = hi
			hi *= 2
		}
	} else {
		lb := t.LowerBound()
		lo, hi = lb*(1-1e-12), 0
	}
	for k := 0; k < bisectIters; k++ {
		mid := 0.5 * (lo + hi)
		if t.Gradient(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo <= 1e-12*math.Max(1, math.Abs(hi)) {
			break
		}
	}
	return 0.5 * (lo + hi)
}

// deltaLogLike converts a two-sided confidence level to the drop in lnL
// defining the profile-likelihood interval.
func deltaLogLike(cl float64) float64 {
	return distuv.ChiSquared{K: 1}.Quantile(cl) / 2
}

// Interval returns the profile-likelihood interval on richness (clamped at
// zero) at confidence level cl.
func (t Terms) Interval(cl float64) (lo, hi float64) {
	best := math.Max(t.MLE(), 0)
	if !t.hasSignal() || t.Fraction <= 0 {
		return 0, 0
	}
	target := t.LogLike(best) - deltaLogLike(cl)
	below := func(x float64) bool { return t.LogLike(x) < target }

	if best == 0 || !below(0) {
		lo = 0
	} else {
		lo = bisectCross(0, best, below, true)
	}

	step := math.Max(1, best)
	top := best + step
	for k := 0; k < bracketDouble && !below(top); k++ {
		step *= 2
		top = best + step
	}
	hi = bisectCross(best, top, below, false)
	return lo, hi
}

// bisectCross finds where below flips inside [a, b]. If belowAtA, below(a)
// is true and below(b) false; otherwise the reverse.
func bisectCross(a, b float64, below func(float64) bool, belowAtA bool) float64 {
	for k := 0; k < bisectIters; k++ {
		mid := 0.5 * (a + b)
		if below(mid) == belowAtA {
			a = mid
		} else {
			b = mid
		}
		if b-a <= 1e-10*math.Max(1, math.Abs(b)) {
			break
		}
	}
	return 0.5 * (a + b)
}

// UpperLimit returns the Bayesian upper limit on richness at credibility cl
// under a flat prior on λ >= 0.
func (t Terms) UpperLimit(cl float64) float64 {
	if !t.hasSignal() || t.Fraction <= 0 {
		return 0
	}
	best := math.Max(t.MLE(), 0)
	peak := t.LogLike(best)

	// Integrate until the posterior has fallen by e^-25.
	step := math.Max(1, best)
	top := best + step
	for k := 0; k < bracketDouble && t.LogLike(top) > peak-25; k++ {
		step *= 2
		top = best + step
	}

	const n = 2001
	xs := make([]float64, n)
	ps := make([]float64, n)
	for i := range xs {
		xs[i] = top * float64(i) / (n - 1)
		ps[i] = math.Exp(t.LogLike(xs[i]) - peak)
	}
	total := integrate.Trapezoidal(xs, ps)
	if total <= 0 {
		return 0
	}
	want := cl * total
	var cum float64
	for i := 1; i < n; i++ {
		seg := 0.5 * (ps[i] + ps[i-1]) * (xs[i] - xs[i-1])
		if cum+seg >= want {
			return xs[i-1] + (want-cum)/seg*(xs[i]-xs[i-1])
		}
		cum += seg
	}
	return top
}

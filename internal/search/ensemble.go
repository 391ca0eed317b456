package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ultrafaint/internal/monitoring"
)

// DefaultStretch is the scale of the affine-invariant stretch move.
const DefaultStretch = 2.0

// LogProbFunc is a log-density over a parameter vector. It must be safe for
// concurrent use and return -Inf outside its support.
type LogProbFunc func(x []float64) float64

// EnsembleState is an immutable snapshot of the walkers after Step steps.
// Step returns a new snapshot and never modifies its input.
type EnsembleState struct {
	Step      int
	Positions [][]float64
	LogProbs  []float64
	Accepted  []int
}

// NewEnsembleState evaluates the starting positions. Every walker must start
// with finite log-probability, and there must be at least 2*dim walkers.
func NewEnsembleState(positions [][]float64, lp LogProbFunc) (EnsembleState, error) {
	if len(positions) == 0 {
		return EnsembleState{}, fmt.Errorf("ensemble needs walkers")
	}
	dim := len(positions[0])
	if dim == 0 {
		return EnsembleState{}, fmt.Errorf("ensemble needs at least one parameter")
	}
	if len(positions) < 2*dim || len(positions) < 4 {
		return EnsembleState{}, fmt.Errorf("ensemble needs at least max(4, 2*dim) = %d walkers, got %d", max(4, 2*dim), len(positions))
	}
	s := EnsembleState{
		Positions: make([][]float64, len(positions)),
		LogProbs:  make([]float64, len(positions)),
		Accepted:  make([]int, len(positions)),
	}
	for i, p := range positions {
		if len(p) != dim {
			return EnsembleState{}, fmt.Errorf("walker %d has %d parameters, want %d", i, len(p), dim)
		}
		s.Positions[i] = append([]float64(nil), p...)
		s.LogProbs[i] = lp(s.Positions[i])
		if math.IsInf(s.LogProbs[i], -1) || math.IsNaN(s.LogProbs[i]) {
			return EnsembleState{}, fmt.Errorf("walker %d starts outside the support at %v", i, p)
		}
	}
	return s, nil
}

// Dim is the number of parameters per walker.
func (s EnsembleState) Dim() int {
	if len(s.Positions) == 0 {
		return 0
	}
	return len(s.Positions[0])
}

func (s EnsembleState) clone() EnsembleState {
	c := EnsembleState{
		Step:      s.Step,
		Positions: make([][]float64, len(s.Positions)),
		LogProbs:  append([]float64(nil), s.LogProbs...),
		Accepted:  append([]int(nil), s.Accepted...),
	}
	for i, p := range s.Positions {
		c.Positions[i] = append([]float64(nil), p...)
	}
	return c
}

// Ball scatters walkers around centre with per-parameter Gaussian scale,
// redrawing any walker that lands outside the support of lp.
func Ball(rng *rand.Rand, centre, scale []float64, walkers int, lp LogProbFunc) ([][]float64, error) {
	if len(scale) != len(centre) {
		return nil, fmt.Errorf("scale has %d entries, centre has %d", len(scale), len(centre))
	}
	const maxTries = 1000
	out := make([][]float64, walkers)
	for i := range out {
		for try := 0; ; try++ {
			if try == maxTries {
				return nil, fmt.Errorf("could not place walker %d inside the support", i)
			}
			p := make([]float64, len(centre))
			for d := range p {
				p[d] = centre[d] + scale[d]*rng.NormFloat64()
			}
			if v := lp(p); !math.IsInf(v, -1) && !math.IsNaN(v) {
				out[i] = p
				break
			}
		}
	}
	return out, nil
}

// Ensemble is an affine-invariant ensemble sampler using the stretch move.
// Each step updates the two halves of the ensemble in turn; walkers within
// a half are evaluated in parallel.
type Ensemble struct {
	LogProb LogProbFunc
	Stretch float64 // defaults to DefaultStretch
	Workers int     // defaults to GOMAXPROCS
}

func (e *Ensemble) stretch() float64 {
	if e.Stretch > 1 {
		return e.Stretch
	}
	return DefaultStretch
}

func (e *Ensemble) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// drawZ samples g(z) ∝ 1/sqrt(z) on [1/a, a].
func drawZ(rng *rand.Rand, a float64) float64 {
	u := (a-1)*rng.Float64() + 1
	return u * u / a
}

// Step advances s by one ensemble step. Random draws are taken from rng in
// walker order before any evaluation, so the result does not depend on
// scheduling. On cancellation s is returned unchanged with the context error.
func (e *Ensemble) Step(ctx context.Context, s EnsembleState, rng *rand.Rand) (EnsembleState, error) {
	next := s.clone()
	n, dim := len(next.Positions), next.Dim()
	a := e.stretch()
	half := n / 2

	for h := 0; h < 2; h++ {
		active, other := span(0, half), span(half, n)
		if h == 1 {
			active, other = other, active
		}

		props := make([][]float64, len(active))
		zs := make([]float64, len(active))
		us := make([]float64, len(active))
		diff := make([]float64, dim)
		for k, i := range active {
			j := other[rng.IntN(len(other))]
			zs[k] = drawZ(rng, a)
			us[k] = rng.Float64()
			floats.SubTo(diff, next.Positions[i], next.Positions[j])
			props[k] = floats.AddScaledTo(make([]float64, dim), next.Positions[j], zs[k], diff)
		}

		lps := make([]float64, len(active))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers())
		for k := range active {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				lps[k] = e.LogProb(props[k])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return s, err
		}
		if err := ctx.Err(); err != nil {
			return s, err
		}

		for k, i := range active {
			if math.IsInf(lps[k], -1) || math.IsNaN(lps[k]) {
				continue
			}
			lnq := float64(dim-1)*math.Log(zs[k]) + lps[k] - next.LogProbs[i]
			if math.Log(us[k]) < lnq {
				next.Positions[i] = props[k]
				next.LogProbs[i] = lps[k]
				next.Accepted[i]++
			}
		}
	}
	next.Step++
	return next, nil
}

func span(lo, hi int) []int {
	out := make([]int, hi-lo)
	for i := range out {
		out[i] = lo + i
	}
	return out
}

// Sample is one walker position recorded after a step.
type Sample struct {
	Walker  int
	Step    int
	Params  []float64
	LogProb float64
}

// Chain is the raw output of a run, step-major. Convergence is not assessed;
// callers decide burn-in and judge acceptance fractions.
type Chain struct {
	Names      []string
	Walkers    int
	Steps      int
	Samples    []Sample
	Acceptance []float64 // per walker
	Complete   bool      // false if the run stopped on its time budget or cancellation
}

// Run advances init until the budget is spent. A run that stops on its own
// wall-clock budget returns the partial chain without error; cancellation of
// ctx returns the partial chain and ctx.Err().
func (e *Ensemble) Run(ctx context.Context, init EnsembleState, rng *rand.Rand, budget Budget, names []string) (*Chain, error) {
	if e.LogProb == nil {
		return nil, fmt.Errorf("ensemble has no log-probability")
	}
	if budget.Steps <= 0 && budget.Timeout <= 0 {
		return nil, fmt.Errorf("ensemble run needs a step or time budget")
	}
	if names != nil && len(names) != init.Dim() {
		return nil, fmt.Errorf("%d names for %d parameters", len(names), init.Dim())
	}
	runCtx, cancel := budget.Context(ctx)
	defer cancel()

	chain := &Chain{Names: names, Walkers: len(init.Positions)}
	state := init
	var runErr error
	for budget.StepsLeft(state.Step - init.Step) {
		next, err := e.Step(runCtx, state, rng)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
			} else if !errors.Is(err, context.DeadlineExceeded) {
				runErr = err
			}
			break
		}
		state = next
		for i, p := range state.Positions {
			chain.Samples = append(chain.Samples, Sample{Walker: i, Step: state.Step, Params: p, LogProb: state.LogProbs[i]})
		}
	}

	chain.Steps = state.Step - init.Step
	chain.Complete = budget.Steps > 0 && chain.Steps >= budget.Steps
	chain.Acceptance = make([]float64, len(state.Accepted))
	if chain.Steps > 0 {
		for i, acc := range state.Accepted {
			chain.Acceptance[i] = float64(acc-init.Accepted[i]) / float64(chain.Steps)
		}
	}
	monitoring.Logf("ensemble: %d walkers, %d steps, mean acceptance %.2f", chain.Walkers, chain.Steps, chain.MeanAcceptance())
	return chain, runErr
}

// MeanAcceptance is the acceptance fraction averaged over walkers.
func (c *Chain) MeanAcceptance() float64 {
	if len(c.Acceptance) == 0 {
		return 0
	}
	return stat.Mean(c.Acceptance, nil)
}

// Index returns the position of the named parameter, or -1.
func (c *Chain) Index(name string) int {
	for i, n := range c.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Column returns parameter d of every sample after the first burn steps.
func (c *Chain) Column(d, burn int) []float64 {
	var out []float64
	for _, s := range c.Samples {
		if s.Step > burn {
			out = append(out, s.Params[d])
		}
	}
	return out
}

// Quantiles returns the empirical quantiles of parameter d after burn-in.
func (c *Chain) Quantiles(d, burn int, ps ...float64) []float64 {
	x := c.Column(d, burn)
	out := make([]float64, len(ps))
	if len(x) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sort.Float64s(x)
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, x, nil)
	}
	return out
}

// Interval returns the central credible interval of parameter d at level cl.
func (c *Chain) Interval(d, burn int, cl float64) (lo, hi float64) {
	q := c.Quantiles(d, burn, (1-cl)/2, (1+cl)/2)
	return q[0], q[1]
}

// Median returns the posterior median of parameter d.
func (c *Chain) Median(d, burn int) float64 {
	return c.Quantiles(d, burn, 0.5)[0]
}

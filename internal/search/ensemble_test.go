package search

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func gaussian2D(x []float64) float64 {
	a := x[0] - 1
	b := (x[1] + 2) / 0.5
	return -0.5 * (a*a + b*b)
}

func halfNormal(x []float64) float64 {
	if x[0] < 0 {
		return math.Inf(-1)
	}
	return -0.5 * x[0] * x[0]
}

func newState(t *testing.T, seed uint64, lp LogProbFunc, centre, scale []float64, walkers int) EnsembleState {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 99))
	pos, err := Ball(rng, centre, scale, walkers, lp)
	require.NoError(t, err)
	s, err := NewEnsembleState(pos, lp)
	require.NoError(t, err)
	return s
}

func TestNewEnsembleState_Errors(t *testing.T) {
	_, err := NewEnsembleState(nil, gaussian2D)
	assert.Error(t, err)

	_, err = NewEnsembleState([][]float64{{0, 0}, {1, 1}, {2, 2}}, gaussian2D)
	assert.Error(t, err, "too few walkers")

	_, err = NewEnsembleState([][]float64{{1}, {2}, {3}, {-1}}, halfNormal)
	assert.Error(t, err, "walker outside support")

	_, err = NewEnsembleState([][]float64{{1}, {2}, {3}, {4, 5}}, halfNormal)
	assert.Error(t, err, "ragged walkers")
}

func TestEnsemble_SamplesGaussian(t *testing.T) {
	s := newState(t, 1, gaussian2D, []float64{0, 0}, []float64{0.5, 0.5}, 20)
	e := &Ensemble{LogProb: gaussian2D, Workers: 4}

	chain, err := e.Run(context.Background(), s, rand.New(rand.NewPCG(2, 3)), Budget{Steps: 2000}, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, chain.Complete)
	assert.Equal(t, 2000, chain.Steps)
	assert.Len(t, chain.Samples, 2000*20)

	a := chain.Column(chain.Index("a"), 200)
	b := chain.Column(chain.Index("b"), 200)
	assert.InDelta(t, 1, stat.Mean(a, nil), 0.15)
	assert.InDelta(t, -2, stat.Mean(b, nil), 0.08)
	assert.InDelta(t, 1, stat.StdDev(a, nil), 0.15)
	assert.InDelta(t, 0.5, stat.StdDev(b, nil), 0.08)

	acc := chain.MeanAcceptance()
	assert.Greater(t, acc, 0.2)
	assert.Less(t, acc, 0.9)

	lo, hi := chain.Interval(0, 200, 0.6827)
	assert.InDelta(t, 0, lo, 0.2)
	assert.InDelta(t, 2, hi, 0.2)
	assert.InDelta(t, 1, chain.Median(0, 200), 0.15)
	assert.Equal(t, -1, chain.Index("missing"))
}

func TestEnsemble_RespectsSupport(t *testing.T) {
	s := newState(t, 4, halfNormal, []float64{1}, []float64{0.2}, 8)
	e := &Ensemble{LogProb: halfNormal}
	chain, err := e.Run(context.Background(), s, rand.New(rand.NewPCG(5, 6)), Budget{Steps: 300}, nil)
	require.NoError(t, err)
	for _, smp := range chain.Samples {
		assert.GreaterOrEqual(t, smp.Params[0], 0.0)
		assert.False(t, math.IsInf(smp.LogProb, -1))
	}
}

func TestEnsemble_StepIsPure(t *testing.T) {
	s := newState(t, 7, gaussian2D, []float64{0, 0}, []float64{1, 1}, 8)
	before := s.clone()

	e := &Ensemble{LogProb: gaussian2D}
	next, err := e.Step(context.Background(), s, rand.New(rand.NewPCG(8, 9)))
	require.NoError(t, err)

	if diff := cmp.Diff(before, s); diff != "" {
		t.Errorf("Step modified its input (-before +after):\n%s", diff)
	}
	assert.Equal(t, s.Step+1, next.Step)
}

func TestEnsemble_Deterministic(t *testing.T) {
	run := func(workers int) *Chain {
		s := newState(t, 10, gaussian2D, []float64{0, 0}, []float64{1, 1}, 12)
		e := &Ensemble{LogProb: gaussian2D, Workers: workers}
		c, err := e.Run(context.Background(), s, rand.New(rand.NewPCG(11, 12)), Budget{Steps: 50}, nil)
		require.NoError(t, err)
		return c
	}
	if diff := cmp.Diff(run(1), run(8)); diff != "" {
		t.Errorf("chains differ with worker count (-1 +8):\n%s", diff)
	}
}

func TestEnsemble_Cancellation(t *testing.T) {
	s := newState(t, 13, gaussian2D, []float64{0, 0}, []float64{1, 1}, 8)
	e := &Ensemble{LogProb: gaussian2D}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain, err := e.Run(ctx, s, rand.New(rand.NewPCG(1, 1)), Budget{Steps: 10}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, chain)
	assert.Equal(t, 0, chain.Steps)
	assert.False(t, chain.Complete)
}

func TestEnsemble_TimeBudget(t *testing.T) {
	slow := func(x []float64) float64 {
		time.Sleep(200 * time.Microsecond)
		return gaussian2D(x)
	}
	s := newState(t, 14, gaussian2D, []float64{0, 0}, []float64{1, 1}, 8)
	e := &Ensemble{LogProb: slow, Workers: 2}

	chain, err := e.Run(context.Background(), s, rand.New(rand.NewPCG(1, 2)), Budget{Timeout: 30 * time.Millisecond}, nil)
	require.NoError(t, err)
	assert.False(t, chain.Complete)
	assert.Len(t, chain.Samples, chain.Steps*chain.Walkers)
}

func TestEnsemble_RunErrors(t *testing.T) {
	s := newState(t, 15, gaussian2D, []float64{0, 0}, []float64{1, 1}, 8)

	_, err := (&Ensemble{}).Run(context.Background(), s, rand.New(rand.NewPCG(1, 2)), Budget{Steps: 1}, nil)
	assert.Error(t, err)

	_, err = (&Ensemble{LogProb: gaussian2D}).Run(context.Background(), s, rand.New(rand.NewPCG(1, 2)), Budget{}, nil)
	assert.Error(t, err)

	_, err = (&Ensemble{LogProb: gaussian2D}).Run(context.Background(), s, rand.New(rand.NewPCG(1, 2)), Budget{Steps: 1}, []string{"only_one"})
	assert.Error(t, err)
}

func TestDrawZ(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 1000; i++ {
		z := drawZ(rng, 2)
		assert.GreaterOrEqual(t, z, 0.5)
		assert.LessOrEqual(t, z, 2.0)
	}
}

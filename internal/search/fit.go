package search

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/ultrafaint/internal/likelihood"
)

// penalty stands in for -ln L outside the support; Nelder-Mead only needs an
// ordering and the function convergence test needs finite differences.
const penalty = 1e100

// FitResult is the outcome of a maximum-likelihood refinement.
type FitResult struct {
	Point       Point
	LogProb     float64
	Profile     likelihood.Result // richness profiled at the fitted shape
	Evaluations int
	Status      string
}

type ctxRecorder struct{ ctx context.Context }

func (r ctxRecorder) Init() error { return nil }

func (r ctxRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

// DefaultScale is the step Nelder-Mead takes in each parameter when building
// its initial simplex around value v.
func DefaultScale(name string, v float64) float64 {
	switch name {
	case ParamRichness:
		return math.Max(1, 0.1*math.Abs(v))
	case ParamLon, ParamLat:
		return 0.01
	case ParamExtension:
		return math.Max(0.005, 0.2*v)
	case ParamEllipticity:
		return 0.05
	case ParamPositionAngle:
		return 10
	case ParamDistanceModulus:
		return 0.1
	case ParamAge:
		return 0.5
	case ParamMetallicity:
		return math.Max(1e-5, 0.2*v)
	}
	return 1
}

// Fit maximizes t's log-probability from start with Nelder-Mead. The
// simplex works in units of each parameter's DefaultScale. Cancelling ctx
// stops the search at the next iteration and returns the best point found
// with the context error.
func Fit(ctx context.Context, t *Target, start Point, maxEvals int) (*FitResult, error) {
	x0 := t.Vector(start)
	lp0 := t.LogProb(x0)
	if math.IsInf(lp0, -1) {
		return nil, fmt.Errorf("fit start %v is outside the support", x0)
	}
	scale := make([]float64, len(x0))
	for i, name := range t.Free {
		scale[i] = DefaultScale(name, x0[i])
	}
	toX := func(u []float64) []float64 {
		x := make([]float64, len(u))
		for i := range u {
			x[i] = x0[i] + scale[i]*u[i]
		}
		return x
	}

	if maxEvals <= 0 {
		maxEvals = 2000
	}
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			lp := t.LogProb(toX(u))
			if math.IsInf(lp, -1) || math.IsNaN(lp) {
				return penalty
			}
			return -lp
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-7, Iterations: 50},
		Recorder:        ctxRecorder{ctx},
	}
	res, err := optimize.Minimize(problem, make([]float64, len(x0)), settings, &optimize.NelderMead{SimplexSize: 1})
	var out *FitResult
	switch {
	case res != nil:
		out = &FitResult{
			Point:       t.Point(toX(res.X)),
			LogProb:     -res.F,
			Evaluations: res.FuncEvaluations,
			Status:      res.Status.String(),
		}
	case ctx.Err() != nil:
		// Stopped before the first iteration: the start is the best point.
		out = &FitResult{Point: t.Point(x0), LogProb: lp0, Evaluations: 1, Status: optimize.Failure.String()}
	default:
		return nil, fmt.Errorf("nelder-mead: %w", err)
	}

	best := out.Point
	prof, perr := t.Eval.Profile(best.Spatial, best.Iso)
	if perr != nil {
		return out, fmt.Errorf("profile at fitted point: %w", perr)
	}
	out.Profile = prof
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	return out, nil
}

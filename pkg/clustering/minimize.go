package clustering

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/gilchrisn/cell-mobility/pkg/models"
)

// Objective maps a parameter vector to a cost.
type Objective func(x []float64) float64

// Result is the best point a Minimizer found.
type Result struct {
	X           []float64
	F           float64
	Evaluations int
	Status      string
}

// Minimizer is a derivative-free local minimizer.
type Minimizer interface {
	Minimize(ctx context.Context, f Objective, initial []float64) (Result, error)
}

// NelderMead runs the gonum downhill simplex method.
type NelderMead struct {
	MaxEvaluations int
	SimplexSize    float64
}

func (nm NelderMead) Minimize(ctx context.Context, f Objective, initial []float64) (Result, error) {
	if len(initial) == 0 {
		return Result{}, fmt.Errorf("%w: empty initial point", models.ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// keep draining evaluations cheaply once cancelled
			if ctx.Err() != nil {
				return math.Inf(1)
			}
			return f(x)
		},
	}
	settings := &optimize.Settings{FuncEvaluations: nm.MaxEvaluations}
	method := &optimize.NelderMead{SimplexSize: nm.SimplexSize}

	res, err := optimize.Minimize(problem, initial, settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if res == nil {
		return Result{}, fmt.Errorf("nelder-mead failed: %w", err)
	}
	out := Result{
		X:           append([]float64(nil), res.X...),
		F:           res.F,
		Evaluations: res.FuncEvaluations,
		Status:      res.Status.String(),
	}
	if err != nil {
		// the best point found so far is still usable
		out.Status = fmt.Sprintf("%s: %v", out.Status, err)
	}
	return out, nil
}

package clustering

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/fusion"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Run labels an optimization for logs and traces.
type Run struct {
	Day      int
	Strategy Strategy
	Feature  string
}

// Optimizer searches dendrogram cuts (and fusion weights) for the best
// partition score.
type Optimizer struct {
	Scorer    Scorer
	Minimizer Minimizer
	Sense     Sense
	Tracer    *Tracer
	logger    zerolog.Logger
}

// NewOptimizer builds an optimizer from cfg. tracer may be nil.
func NewOptimizer(cfg Config, tracer *Tracer, logger zerolog.Logger) *Optimizer {
	return &Optimizer{
		Scorer: Scorer{
			SingletonBonus: cfg.SingletonBonus,
			PairWeight:     cfg.PairWeight,
			SizePenalty:    cfg.SizePenalty,
		},
		Minimizer: NelderMead{MaxEvaluations: cfg.MaxEvaluations, SimplexSize: cfg.SimplexSize},
		Sense:     cfg.Sense,
		Tracer:    tracer,
		logger:    logger,
	}
}

// OptimizeCut searches the single cut height for dist. The dendrogram is
// built once and re-cut at every evaluation.
func (o *Optimizer) OptimizeCut(ctx context.Context, run Run, dist mat.Symmetric, index *towers.Index, initialCut float64) (Outcome, error) {
	start := time.Now()
	if dist.SymmetricDim() != index.Len() {
		return Outcome{}, fmt.Errorf("%w: matrix covers %d towers, index has %d",
			models.ErrInvalidParameter, dist.SymmetricDim(), index.Len())
	}
	dendrogram, err := Linkage(dist)
	if err != nil {
		return Outcome{}, err
	}

	evaluations := 0
	objective := func(x []float64) float64 {
		evaluations++
		c := dendrogram.Cut(x[0], index)
		score, err := o.Scorer.Score(c)
		if err != nil {
			return math.Inf(1)
		}
		o.Tracer.Record(TraceEvent{
			Day: run.Day, Strategy: run.Strategy, Feature: run.Feature,
			Evaluation: evaluations, Params: []float64{x[0]}, Score: score, Groups: len(c),
		})
		return o.Sense.cost(score)
	}

	res, err := o.Minimizer.Minimize(ctx, objective, []float64{initialCut})
	if err != nil {
		return Outcome{}, err
	}

	best := dendrogram.Cut(res.X[0], index)
	score, err := o.Scorer.Score(best)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Strategy:    run.Strategy,
		Feature:     run.Feature,
		Day:         run.Day,
		Cut:         res.X[0],
		Score:       score,
		Evaluations: res.Evaluations,
		Runtime:     time.Since(start),
		Clustering:  best,
		NumGroups:   len(best),
		Singletons:  best.Singletons(),
	}
	o.logOutcome(run, out, res.Status)
	return out, nil
}

// OptimizeLearned searches the cut together with the four fusion weights.
// initial is [cut, jaccard, connectivity, nationality, phone_cost]. Weight
// vectors that cannot be fused cost +Inf.
func (o *Optimizer) OptimizeLearned(ctx context.Context, run Run, set features.Set, index *towers.Index, initial [5]float64) (Outcome, error) {
	start := time.Now()

	evaluations := 0
	evaluate := func(x []float64) (Clustering, fusion.Weights, float64, error) {
		w, err := fusion.FromVector(x[1:])
		if err != nil {
			return nil, w, 0, err
		}
		fused, err := fusion.Fuse(w, set)
		if err != nil {
			return nil, w, 0, err
		}
		c, err := Cluster(fused, index, x[0])
		if err != nil {
			return nil, w, 0, err
		}
		score, err := o.Scorer.Score(c)
		return c, w, score, err
	}

	objective := func(x []float64) float64 {
		evaluations++
		c, _, score, err := evaluate(x)
		if err != nil {
			return math.Inf(1)
		}
		o.Tracer.Record(TraceEvent{
			Day: run.Day, Strategy: run.Strategy,
			Evaluation: evaluations, Params: append([]float64(nil), x...), Score: score, Groups: len(c),
		})
		return o.Sense.cost(score)
	}

	res, err := o.Minimizer.Minimize(ctx, objective, initial[:])
	if err != nil {
		return Outcome{}, err
	}
	if math.IsInf(res.F, 1) {
		return Outcome{}, &models.DayError{Day: run.Day, Stage: "learned",
			Err: fmt.Errorf("%w: no valid weight vector found", models.ErrInvalidParameter)}
	}

	best, weights, score, err := evaluate(res.X)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{
		Strategy:    run.Strategy,
		Day:         run.Day,
		Cut:         res.X[0],
		Weights:     weights,
		Score:       score,
		Evaluations: res.Evaluations,
		Runtime:     time.Since(start),
		Clustering:  best,
		NumGroups:   len(best),
		Singletons:  best.Singletons(),
	}
	o.logOutcome(run, out, res.Status)
	return out, nil
}

func (o *Optimizer) logOutcome(run Run, out Outcome, status string) {
	event := o.logger.Info().
		Int("day", run.Day).
		Str("strategy", string(run.Strategy)).
		Float64("cut", out.Cut).
		Float64("score", out.Score).
		Int("groups", out.NumGroups).
		Int("singletons", out.Singletons).
		Int("evaluations", out.Evaluations).
		Str("status", status).
		Dur("runtime", out.Runtime)
	if run.Feature != "" {
		event = event.Str("feature", run.Feature)
	}
	if run.Strategy == Learned {
		event = event.Floats64("weights", out.Weights.Vector())
	}
	event.Msg("Optimization finished")
}

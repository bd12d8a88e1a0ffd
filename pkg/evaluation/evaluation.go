// Package evaluation measures next-stop predictors against held-out
// trajectories, day by day and in parallel.
package evaluation

import (
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Query is what a predictor sees: who is travelling and where they have
// been so far.
type Query struct {
	Nationality int
	Seen        []towers.ID
}

// Predictor proposes towers the traveller will visit next.
type Predictor interface {
	Predict(q Query) ([]towers.ID, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(q Query) ([]towers.ID, error)

func (f PredictorFunc) Predict(q Query) ([]towers.ID, error) { return f(q) }

// Model hands out the predictor used to evaluate a given day. Models that
// learn over time return the state trained before that day.
type Model interface {
	PredictorFor(day int) (Predictor, error)
}

type static struct{ p Predictor }

func (s static) PredictorFor(int) (Predictor, error) { return s.p, nil }

// Static uses p for every day.
func Static(p Predictor) Model { return static{p} }

// Step is one scored transition: the context a model conditions on and the
// stop that actually followed.
type Step struct {
	Context []towers.ID
	Next    towers.ID
}

// StepPredictor predicts the single next stop after ctx. It returns
// towers.NoTower when it has nothing to propose, and an error wrapping
// models.ErrDegenerateInput when the step cannot be scored at all.
type StepPredictor func(ctx []towers.ID) (towers.ID, error)

// StepModel scores one-step-ahead predictions.
type StepModel interface {
	// Steps splits a path into the transitions the model is scored on.
	Steps(path []towers.ID) []Step
	StepPredictorFor(day int) (StepPredictor, error)
}

// Precision is |predicted ∩ actual| / |actual| with predicted taken as a set
// minus the already seen towers.
func Precision(predicted, seen []towers.ID, actual map[towers.ID]struct{}) float64 {
	if len(actual) == 0 {
		return 0
	}
	skip := make(map[towers.ID]struct{}, len(seen))
	for _, id := range seen {
		skip[id] = struct{}{}
	}
	hits := make(map[towers.ID]struct{})
	for _, id := range predicted {
		if _, ok := skip[id]; ok {
			continue
		}
		if _, ok := actual[id]; ok {
			hits[id] = struct{}{}
		}
	}
	return float64(len(hits)) / float64(len(actual))
}

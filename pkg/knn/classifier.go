package knn

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/markov"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// DefaultClassifierK is the neighbourhood size of the step classifier.
const DefaultClassifierK = 30

// State is the frozen model state a step is described by: the order-1 and
// order-2 transition rows of its context and the learned and consensus
// co-membership rows of its current tower.
type State struct {
	Index     *towers.Index
	Order1    *markov.Table
	Order2    *markov.Table
	Learned   *mat.Dense
	Consensus *mat.Dense
}

func (s State) validate() error {
	if s.Index == nil || s.Order1 == nil || s.Order2 == nil || s.Learned == nil || s.Consensus == nil {
		return fmt.Errorf("%w: incomplete classifier state", models.ErrMissingData)
	}
	if s.Order1.Order != 1 || s.Order2.Order != 2 {
		return fmt.Errorf("%w: tables of order %d and %d, expected 1 and 2",
			models.ErrInvalidParameter, s.Order1.Order, s.Order2.Order)
	}
	n := s.Index.Len()
	for _, m := range []*mat.Dense{s.Learned, s.Consensus} {
		if r, c := m.Dims(); r != n || c != n {
			return fmt.Errorf("%w: co-membership is %dx%d, index has %d towers",
				models.ErrInvalidParameter, r, c, n)
		}
	}
	return nil
}

// Vector describes the step that has just gone prev2 -> prev. Unseen
// transition contexts contribute zero rows.
func (s State) Vector(prev2, prev towers.ID) ([]float64, error) {
	pos, ok := s.Index.Pos(prev)
	if !ok {
		return nil, fmt.Errorf("%w: tower %d outside the index", models.ErrDegenerateInput, prev)
	}
	n := s.Index.Len()
	out := make([]float64, 4*n)
	if row := s.Order1.Row([]towers.ID{prev}); row != nil {
		copy(out[:n], row)
	}
	if row := s.Order2.Row([]towers.ID{prev2, prev}); row != nil {
		copy(out[n:2*n], row)
	}
	mat.Row(out[2*n:3*n], pos, s.Learned)
	mat.Row(out[3*n:], pos, s.Consensus)
	return out, nil
}

type reference struct {
	vec  []float64
	next towers.ID
}

// Classifier predicts the next stop by a majority vote of the K training
// steps closest (Euclidean) to the current one. It is read-only after
// TrainClassifier and safe for concurrent use.
type Classifier struct {
	k       int
	state   State
	through int
	refs    []reference
}

// TrainClassifier describes every step of the first-occurrence paths of
// days first..last with state. Steps whose current tower is outside the
// index are skipped.
func TrainClassifier(k int, state State, byDay trajectory.ByDay, first, last int) (*Classifier, error) {
	if k <= 0 {
		k = DefaultClassifierK
	}
	if err := state.validate(); err != nil {
		return nil, err
	}
	c := &Classifier{k: k, state: state, through: last}
	for day := first; day <= last; day++ {
		for _, t := range byDay[day] {
			for _, step := range c.Steps(t.Path()) {
				vec, err := state.Vector(step.Context[0], step.Context[1])
				if err != nil {
					continue
				}
				c.refs = append(c.refs, reference{vec: vec, next: step.Next})
			}
		}
	}
	if len(c.refs) == 0 {
		return nil, fmt.Errorf("%w: no training steps in days %d..%d", models.ErrMissingData, first, last)
	}
	return c, nil
}

// References returns the number of training steps.
func (c *Classifier) References() int { return len(c.refs) }

// Steps yields, for the first-occurrence path, every window of two stops
// and the stop that follows it.
func (c *Classifier) Steps(path []towers.ID) []evaluation.Step {
	path = trajectory.Unique(path)
	if len(path) < 3 {
		return nil
	}
	out := make([]evaluation.Step, 0, len(path)-2)
	for i := 0; i+2 < len(path); i++ {
		out = append(out, evaluation.Step{Context: path[i : i+2], Next: path[i+2]})
	}
	return out
}

// StepPredictorFor implements evaluation.StepModel. Days inside the
// training window are rejected.
func (c *Classifier) StepPredictorFor(day int) (evaluation.StepPredictor, error) {
	if day <= c.through {
		return nil, fmt.Errorf("%w: day %d is inside the training window ending %d",
			models.ErrInvalidParameter, day, c.through)
	}
	return c.Predict, nil
}

// PredictorFor implements evaluation.Model: the classified stop after the
// last two seen stops is the single proposal.
func (c *Classifier) PredictorFor(day int) (evaluation.Predictor, error) {
	predict, err := c.StepPredictorFor(day)
	if err != nil {
		return nil, err
	}
	return evaluation.PredictorFunc(func(q evaluation.Query) ([]towers.ID, error) {
		next, err := predict(q.Seen)
		if err != nil || next == towers.NoTower {
			return nil, err
		}
		return []towers.ID{next}, nil
	}), nil
}

// Predict classifies the step ending in the last two stops of ctx.
func (c *Classifier) Predict(ctx []towers.ID) (towers.ID, error) {
	if len(ctx) < 2 {
		return towers.NoTower, fmt.Errorf("%w: %d context stops, need 2", models.ErrDegenerateInput, len(ctx))
	}
	vec, err := c.state.Vector(ctx[len(ctx)-2], ctx[len(ctx)-1])
	if err != nil {
		return towers.NoTower, err
	}

	order := make([]int, len(c.refs))
	dist := make([]float64, len(c.refs))
	for i, r := range c.refs {
		order[i] = i
		dist[i] = floats.Distance(vec, r.vec, 2)
	}
	sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })
	if len(order) > c.k {
		order = order[:c.k]
	}

	// most votes wins; ties go to the class with the nearest member
	votes := make(map[towers.ID]int)
	best, bestVotes := towers.NoTower, 0
	for _, i := range order {
		votes[c.refs[i].next]++
	}
	for _, i := range order {
		next := c.refs[i].next
		if votes[next] > bestVotes {
			best, bestVotes = next, votes[next]
		}
	}
	return best, nil
}

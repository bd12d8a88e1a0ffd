package markov

import (
	"fmt"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Predictor evaluates a Markov model: on day d it conditions on the last
// Order seen stops using the table built through day d-1. Queries with
// fewer than Order seen stops are excluded from scoring unless the visit
// prior can answer them.
type Predictor struct {
	Tables          map[int]*Table
	Priors          map[int][]float64
	Order           int
	FallbackToPrior bool
}

// PredictorFor implements evaluation.Model.
func (m *Predictor) PredictorFor(day int) (evaluation.Predictor, error) {
	table, ok := m.Tables[day-1]
	if !ok {
		return nil, fmt.Errorf("%w: no order-%d table for day %d", models.ErrMissingData, m.Order, day-1)
	}
	prior := m.Priors[day-1]

	fallback := m.FallbackToPrior && prior != nil
	return evaluation.PredictorFunc(func(q evaluation.Query) ([]towers.ID, error) {
		if len(q.Seen) >= m.Order {
			if next, ok := table.Predict(q.Seen[len(q.Seen)-m.Order:]); ok {
				return []towers.ID{next}, nil
			}
		} else if !fallback {
			return nil, fmt.Errorf("%w: %d seen stops, order %d", models.ErrDegenerateInput, len(q.Seen), m.Order)
		}
		if fallback {
			if next := mostVisited(table.Index(), prior, q.Seen); next != towers.NoTower {
				return []towers.ID{next}, nil
			}
		}
		return nil, nil
	}), nil
}

// mostVisited returns the unseen tower with the highest prior weight.
func mostVisited(index *towers.Index, prior []float64, seen []towers.ID) towers.ID {
	skip := make(map[towers.ID]struct{}, len(seen))
	for _, id := range seen {
		skip[id] = struct{}{}
	}
	best, bestWeight := towers.NoTower, 0.0
	for p, w := range prior {
		id := index.At(p)
		if _, ok := skip[id]; ok {
			continue
		}
		if w > bestWeight {
			best, bestWeight = id, w
		}
	}
	return best
}

// stepModel scores single transitions of one order against the previous
// day's table.
type stepModel struct {
	tables map[int]*Table
	order  int
	index  *towers.Index
}

func (s stepModel) Steps(path []towers.ID) []evaluation.Step {
	var out []evaluation.Step
	for _, tr := range Transitions(path, s.order) {
		if !s.index.Contains(tr.Next) {
			continue
		}
		out = append(out, evaluation.Step{Context: tr.Context, Next: tr.Next})
	}
	return out
}

func (s stepModel) StepPredictorFor(day int) (evaluation.StepPredictor, error) {
	table, ok := s.tables[day-1]
	if !ok {
		return nil, fmt.Errorf("%w: no order-%d table for day %d", models.ErrMissingData, s.order, day-1)
	}
	return func(ctx []towers.ID) (towers.ID, error) {
		for _, id := range ctx {
			if !s.index.Contains(id) {
				return towers.NoTower, fmt.Errorf("%w: context tower %d outside the index", models.ErrDegenerateInput, id)
			}
		}
		next, _ := table.Predict(ctx)
		return next, nil
	}, nil
}

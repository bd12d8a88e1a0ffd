package markov

import (
	"context"
	"fmt"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// TransitionAccuracy scores, for every day in days, each transition of that
// day's paths: 1 when the table built through the previous day predicts
// the actual next stop, else 0. Transitions whose towers are outside the
// index are excluded.
func TransitionAccuracy(ctx context.Context, h *evaluation.Harness, tables map[int]*Table, byDay trajectory.ByDay, days []int) (*evaluation.Report, error) {
	var (
		order int
		index *towers.Index
	)
	for _, t := range tables {
		order, index = t.Order, t.Index()
		break
	}
	if index == nil {
		return nil, fmt.Errorf("%w: no transition tables", models.ErrMissingData)
	}

	model := stepModel{tables: tables, order: order, index: index}
	return h.EvaluateSteps(ctx, fmt.Sprintf("markov-o%d-transition", order), model, byDay, days)
}

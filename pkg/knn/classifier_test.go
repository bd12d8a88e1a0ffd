package knn

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/markov"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

func walk(day int, path ...towers.ID) trajectory.Trajectory {
	stops := make([]trajectory.Stop, len(path))
	base := time.Date(2014, time.June, day, 6, 0, 0, 0, time.UTC)
	for i, id := range path {
		stops[i] = trajectory.Stop{Tower: id, At: base.Add(time.Duration(i) * 10 * time.Minute)}
	}
	return trajectory.Build("u", 0, stops, time.Minute)
}

// classifierState freezes order-1/order-2 tables and co-membership over
// day 1.
func classifierState(t *testing.T, byDay trajectory.ByDay) State {
	t.Helper()
	index := towers.NewIndex([]towers.ID{1, 2, 3, 4})
	o1, err := markov.BuildTables(byDay, index, 1, 1, 1)
	require.NoError(t, err)
	o2, err := markov.BuildTables(byDay, index, 2, 1, 1)
	require.NoError(t, err)

	clusters := map[int]towers.Clustering{1: {{1, 2}, {3}, {4}}}
	learned, err := evaluation.CoMembership(index, 1, 1, clusters)
	require.NoError(t, err)
	consensus, err := evaluation.CoMembership(index, 1, 1, clusters)
	require.NoError(t, err)
	return State{Index: index, Order1: o1[1], Order2: o2[1], Learned: learned, Consensus: consensus}
}

func classifierDays() trajectory.ByDay {
	return trajectory.PartitionByDay([]trajectory.Trajectory{
		walk(1, 1, 2, 3, 4),
		walk(1, 1, 2, 3, 4),
		walk(1, 4, 2, 1, 3),
		walk(1, 3, 4), // too short for a step
		walk(2, 4, 2, 1),
		walk(2, 1, 9, 2),
	})
}

func TestStateVector(t *testing.T) {
	state := classifierState(t, trajectory.PartitionByDay([]trajectory.Trajectory{
		walk(1, 1, 2, 3),
		walk(1, 1, 2, 3),
		walk(1, 4, 2, 1),
		walk(1, 1, 2, 4, 3),
	}))

	got, err := state.Vector(1, 2)
	require.NoError(t, err)
	require.Len(t, got, 16)
	s6 := math.Sqrt(6)
	assert.InDeltaSlice(t, []float64{1 / s6, 0, 2 / s6, 1 / s6}, got[:4], 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 1, 0}, got[4:8], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0}, got[8:12], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0}, got[12:], 1e-12)

	// (3,2) was never seen as an order-2 context
	got, err = state.Vector(3, 2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, got[4:8], 1e-12)

	_, err = state.Vector(1, 9)
	assert.ErrorIs(t, err, models.ErrDegenerateInput)
}

func TestClassifierSteps(t *testing.T) {
	c := &Classifier{}
	steps := c.Steps([]towers.ID{1, 2, 1, 3, 4})
	require.Len(t, steps, 2)
	assert.Equal(t, evaluation.Step{Context: []towers.ID{1, 2}, Next: 3}, steps[0])
	assert.Equal(t, evaluation.Step{Context: []towers.ID{2, 3}, Next: 4}, steps[1])
	assert.Empty(t, c.Steps([]towers.ID{1, 2, 2, 1}))
}

func TestClassifierVote(t *testing.T) {
	byDay := classifierDays()
	state := classifierState(t, byDay)

	// from (4,2): (4,2)->1 at distance 0, then both (1,2)->3 at sqrt(2)
	tests := []struct {
		name string
		k    int
		ctx  []towers.ID
		want towers.ID
	}{
		{"nearest", 1, []towers.ID{4, 2}, 1},
		{"majority", 3, []towers.ID{4, 2}, 3},
		{"tie goes to nearest", 2, []towers.ID{4, 2}, 1},
		{"longer context uses last two", 1, []towers.ID{9, 1, 2}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := TrainClassifier(tt.k, state, byDay, 1, 1)
			require.NoError(t, err)
			assert.Equal(t, 6, c.References())
			got, err := c.Predict(tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	c, err := TrainClassifier(0, state, byDay, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultClassifierK, c.k)

	_, err = c.Predict([]towers.ID{2})
	assert.ErrorIs(t, err, models.ErrDegenerateInput)
}

func TestTrainClassifierErrors(t *testing.T) {
	byDay := classifierDays()
	state := classifierState(t, byDay)

	_, err := TrainClassifier(3, state, byDay, 5, 6)
	assert.ErrorIs(t, err, models.ErrMissingData)

	incomplete := state
	incomplete.Consensus = nil
	_, err = TrainClassifier(3, incomplete, byDay, 1, 1)
	assert.ErrorIs(t, err, models.ErrMissingData)

	swapped := state
	swapped.Order1, swapped.Order2 = state.Order2, state.Order1
	_, err = TrainClassifier(3, swapped, byDay, 1, 1)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestClassifierEvaluation(t *testing.T) {
	byDay := classifierDays()
	c, err := TrainClassifier(1, classifierState(t, byDay), byDay, 1, 1)
	require.NoError(t, err)

	_, err = c.StepPredictorFor(1)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)

	cfg := evaluation.DefaultConfig()
	cfg.Workers = 2
	cfg.ChunkSize = 1
	h := evaluation.NewHarness(cfg, "run", zerolog.Nop())

	report, err := h.EvaluateSteps(context.Background(), "knn-classifier", c, byDay, []int{2})
	require.NoError(t, err)
	ps := report.Days[0].Prefixes[0]
	// (4,2)->1 is a hit; (1,9) leaves the index and is excluded
	assert.Equal(t, 1, ps.N)
	assert.Equal(t, 1, ps.Excluded)
	assert.InDelta(t, 1.0, ps.Mean, 1e-12)

	pred, err := c.PredictorFor(2)
	require.NoError(t, err)
	got, err := pred.Predict(evaluation.Query{Seen: []towers.ID{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, []towers.ID{3}, got)
}

package evaluation

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

func traj(nat int, day int, path ...towers.ID) trajectory.Trajectory {
	stops := make([]trajectory.Stop, len(path))
	base := time.Date(2014, time.June, day, 8, 0, 0, 0, time.UTC)
	for i, id := range path {
		stops[i] = trajectory.Stop{Tower: id, At: base.Add(time.Duration(i) * time.Hour)}
	}
	return trajectory.Build("u", nat, stops, time.Minute)
}

// oracle knows the full path of every query by its first stop.
func oracle(paths map[towers.ID][]towers.ID) Predictor {
	return PredictorFunc(func(q Query) ([]towers.ID, error) {
		return paths[q.Seen[0]], nil
	})
}

func testHarness(cfg Config) *Harness {
	return NewHarness(cfg, "run-test", zerolog.Nop())
}

func TestPrecision(t *testing.T) {
	actual := map[towers.ID]struct{}{3: {}, 4: {}}
	assert.Equal(t, 1.0, Precision([]towers.ID{3, 4, 4}, nil, actual))
	assert.Equal(t, 0.5, Precision([]towers.ID{1, 3, 9}, []towers.ID{1}, actual))
	// seen towers never count even if they recur
	assert.Equal(t, 0.0, Precision([]towers.ID{3}, []towers.ID{3}, actual))
	assert.Equal(t, 0.0, Precision(nil, nil, nil))
}

func TestEvaluatePerfectPredictor(t *testing.T) {
	byDay := trajectory.PartitionByDay([]trajectory.Trajectory{
		traj(1, 21, 1, 2, 3, 4, 5, 6, 7),
		traj(1, 21, 10, 11, 12, 13, 14, 15),
		traj(1, 22, 20, 21, 22, 23, 24, 25, 26, 27),
		traj(1, 22, 30, 31, 32), // too short
	})
	paths := map[towers.ID][]towers.ID{
		1:  {1, 2, 3, 4, 5, 6, 7},
		10: {10, 11, 12, 13, 14, 15},
		20: {20, 21, 22, 23, 24, 25, 26, 27},
	}

	for _, chunk := range []int{0, 1} {
		cfg := DefaultConfig()
		cfg.Workers = 2
		cfg.ChunkSize = chunk
		h := testHarness(cfg)

		report, err := h.Evaluate(context.Background(), "oracle", Static(oracle(paths)), byDay, []int{21, 22, 23})
		require.NoError(t, err)
		require.Len(t, report.Days, 3)
		assert.Equal(t, "run-test", report.RunID)

		for _, d := range report.Days[:2] {
			require.Len(t, d.Prefixes, 5)
			for _, ps := range d.Prefixes {
				assert.Equal(t, 1.0, ps.Mean)
				assert.Equal(t, 0.0, ps.Std)
			}
		}
		assert.Equal(t, 2, report.Days[0].Prefixes[0].N)
		assert.Equal(t, 1, report.Days[1].Prefixes[0].N)

		// day 23 has no samples
		assert.Equal(t, 0, report.Days[2].Prefixes[0].N)
		for _, ps := range report.Overall {
			assert.Equal(t, 1.0, ps.Mean)
			assert.Equal(t, 2, ps.N)
		}
	}
}

func TestEvaluateExcludesDegenerateSamples(t *testing.T) {
	byDay := trajectory.PartitionByDay([]trajectory.Trajectory{traj(1, 21, 1, 2, 3)})
	cfg := DefaultConfig()
	cfg.MinStops = 1
	h := testHarness(cfg)

	empty := Static(PredictorFunc(func(Query) ([]towers.ID, error) { return nil, nil }))
	report, err := h.Evaluate(context.Background(), "empty", empty, byDay, []int{21})
	require.NoError(t, err)

	prefixes := report.Days[0].Prefixes
	assert.Equal(t, 1, prefixes[0].N)
	assert.Equal(t, 1, prefixes[1].N)
	// prefixes 3..5 leave nothing to predict
	for _, ps := range prefixes[2:] {
		assert.Equal(t, 0, ps.N)
		assert.Equal(t, 1, ps.Excluded)
	}
}

func TestEvaluateFailsBatchWithDay(t *testing.T) {
	byDay := trajectory.PartitionByDay([]trajectory.Trajectory{
		traj(1, 21, 1, 2, 3, 4, 5, 6),
		traj(1, 24, 1, 2, 3, 4, 5, 6),
	})
	boom := errors.New("boom")
	model := modelFunc(func(day int) (Predictor, error) {
		if day == 24 {
			return nil, boom
		}
		return PredictorFunc(func(Query) ([]towers.ID, error) { return nil, nil }), nil
	})

	_, err := testHarness(DefaultConfig()).Evaluate(context.Background(), "broken", model, byDay, []int{21, 24})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var de *models.DayError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 24, de.Day)
}

type modelFunc func(day int) (Predictor, error)

func (f modelFunc) PredictorFor(day int) (Predictor, error) { return f(day) }

func TestEvaluateRejectsZeroPrefix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPrefix = 0
	_, err := testHarness(cfg).Evaluate(context.Background(), "x", Static(oracle(nil)), nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestClusterModel(t *testing.T) {
	model := NewClusterModel(map[int]towers.Clustering{
		20: {{1, 2, 3}, {4}},
	})
	p, err := model.PredictorFor(21)
	require.NoError(t, err)

	got, err := p.Predict(Query{Seen: []towers.ID{4, 2}})
	require.NoError(t, err)
	assert.Equal(t, []towers.ID{1, 3}, got)

	_, err = model.PredictorFor(25)
	assert.ErrorIs(t, err, models.ErrMissingData)
}

func TestClusterModelCombinedPathPrecision(t *testing.T) {
	learned := map[int]towers.Clustering{
		20: {{1, 2}, {3}, {4}, {5}},
		21: {{1, 2, 3}, {4}},
	}
	consensus := map[int]towers.Clustering{
		20: {{1, 3}, {2}, {4}, {5}},
		21: {{1}, {2}, {3}, {4}},
	}
	byDay := trajectory.PartitionByDay([]trajectory.Trajectory{
		traj(1, 21, 1, 2, 3, 4),
		traj(1, 21, 4, 1), // 4 is alone everywhere
		traj(1, 21, 9, 1), // 9 is never clustered
		traj(1, 22, 1, 4, 2),
	})

	cfg := DefaultConfig()
	cfg.MinStops, cfg.MaxPrefix, cfg.Workers = 1, 1, 2
	h := testHarness(cfg)
	ctx := context.Background()

	combined, err := h.Evaluate(ctx, "cluster-path-combined", NewClusterModel(learned, consensus), byDay, []int{21, 22})
	require.NoError(t, err)
	// day 21: only the first path counts, {2,3} against {2,3,4}
	day21 := combined.Days[0].Prefixes[0]
	assert.Equal(t, 1, day21.N)
	assert.Equal(t, 2, day21.Excluded)
	assert.InDelta(t, 2.0/3, day21.Mean, 1e-12)
	// day 22: {2,3} against {4,2}
	assert.InDelta(t, 0.5, combined.Days[1].Prefixes[0].Mean, 1e-12)

	overall := combined.Overall[0]
	assert.Equal(t, 2, overall.N)
	assert.InDelta(t, 7.0/12, overall.Mean, 1e-12)
	assert.InDelta(t, 1.0/12, overall.Std, 1e-12)

	single, err := h.Evaluate(ctx, "cluster-path-learned", NewClusterModel(learned), byDay, []int{21})
	require.NoError(t, err)
	// a singleton first stop scores 0 instead of being excluded
	ps := single.Days[0].Prefixes[0]
	assert.Equal(t, 2, ps.N)
	assert.Equal(t, 1, ps.Excluded)
	assert.InDelta(t, 1.0/6, ps.Mean, 1e-12)

	_, err = NewClusterModel().PredictorFor(21)
	assert.ErrorIs(t, err, models.ErrMissingData)
}

func TestCoMembership(t *testing.T) {
	index := towers.NewIndex([]towers.ID{1, 2, 3, 4})
	learned := map[int]towers.Clustering{
		1: {{1, 2}, {3}, {4}},
		2: {{1, 2, 3}, {4}},
		5: {{1, 2, 3, 4}}, // outside the range
	}
	consensus := map[int]towers.Clustering{
		2: {{1}, {2, 3}, {4}, {9}},
	}

	m, err := CoMembership(index, 1, 2, learned, consensus)
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 4, c)

	s6 := math.Sqrt(6)
	// pair counts add up over days and sets; singletons count on the diagonal
	assert.InDeltaSlice(t, []float64{1 / s6, 2 / s6, 1 / s6, 0}, m.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{1 / math.Sqrt2, 0, 1 / math.Sqrt2, 0}, m.RawRowView(1), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 1}, m.RawRowView(3), 1e-12)

	_, err = CoMembership(index, 7, 8, learned)
	assert.ErrorIs(t, err, models.ErrMissingData)

	_, err = CoMembership(towers.NewIndex(nil), 1, 2, learned)
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestClusterVotes(t *testing.T) {
	learned := map[int]towers.Clustering{
		2: {{1, 2}, {3}, {4}},
		3: {{1, 3}, {2}, {4}},
	}
	consensus := map[int]towers.Clustering{
		2: {{1, 4}, {2}, {3}},
		3: {{1, 4}, {2}, {3}},
	}

	t.Run("previous day only", func(t *testing.T) {
		predict, err := NewClusterVotes(false, learned).StepPredictorFor(4)
		require.NoError(t, err)
		got, err := predict([]towers.ID{1})
		require.NoError(t, err)
		assert.Equal(t, towers.ID(3), got)

		got, err = predict([]towers.ID{4})
		require.NoError(t, err)
		assert.Equal(t, towers.ID(4), got, "a singleton votes for itself")
	})

	t.Run("aggregated ties go to the lowest tower", func(t *testing.T) {
		predict, err := NewClusterVotes(true, learned).StepPredictorFor(4)
		require.NoError(t, err)
		got, err := predict([]towers.ID{1})
		require.NoError(t, err)
		assert.Equal(t, towers.ID(2), got)
	})

	t.Run("combined sets", func(t *testing.T) {
		predict, err := NewClusterVotes(true, learned, consensus).StepPredictorFor(4)
		require.NoError(t, err)
		got, err := predict([]towers.ID{1})
		require.NoError(t, err)
		assert.Equal(t, towers.ID(4), got)

		_, err = predict([]towers.ID{99})
		assert.ErrorIs(t, err, models.ErrDegenerateInput)
	})

	t.Run("missing history", func(t *testing.T) {
		_, err := NewClusterVotes(false, learned).StepPredictorFor(10)
		assert.ErrorIs(t, err, models.ErrMissingData)
	})
}

func TestEvaluateSteps(t *testing.T) {
	clusterings := map[int]towers.Clustering{20: {{1, 2}, {3}}}
	byDay := trajectory.PartitionByDay([]trajectory.Trajectory{
		traj(1, 21, 1, 2, 1, 3),
		traj(1, 21, 7, 1),
	})

	report, err := testHarness(DefaultConfig()).EvaluateSteps(context.Background(), "votes",
		NewClusterVotes(false, clusterings), byDay, []int{21})
	require.NoError(t, err)

	ps := report.Days[0].Prefixes[0]
	// 1->2 hit, 2->1 hit, 1->3 miss; 7 is not clustered
	assert.Equal(t, 3, ps.N)
	assert.Equal(t, 1, ps.Excluded)
	assert.InDelta(t, 2.0/3, ps.Mean, 1e-12)
}

func TestWriters(t *testing.T) {
	report := &Report{
		RunID: "r1",
		Model: "knn",
		Days: []DayResult{
			{Day: 21, Prefixes: []PrefixStat{{Prefix: 1, Mean: 0.5, Std: 0.1, N: 4}}},
		},
		Overall: []PrefixStat{{Prefix: 1, Mean: 0.5, N: 1}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, report))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"r1", "knn", "21", "1", "0.500000", "0.100000", "4", "0"}, rows[1])
	assert.Equal(t, "overall", rows[2][2])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, report))
	var decoded []Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "knn", decoded[0].Model)
	assert.Equal(t, 21, decoded[0].Days[0].Day)
}

func TestSummarize(t *testing.T) {
	mean, std := Summarize([]float64{1, 1, 1})
	assert.Equal(t, 1.0, mean)
	assert.Equal(t, 0.0, std)

	mean, std = Summarize([]float64{0, 1})
	assert.Equal(t, 0.5, mean)
	assert.InDelta(t, 0.5, std, 1e-12)

	mean, std = Summarize(nil)
	assert.Zero(t, mean)
	assert.Zero(t, std)
}

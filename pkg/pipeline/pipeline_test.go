package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
	"github.com/gilchrisn/cell-mobility/pkg/validation"
)

var blockTowers = []towers.ID{1, 2, 3, 4, 5, 6}

func block(id towers.ID) int {
	if id <= 3 {
		return 0
	}
	return 1
}

// blockMatrix puts within and across on the two blocks {1,2,3} and {4,5,6}.
func blockMatrix(within, across float64) *features.RawMatrix {
	n := len(blockTowers)
	m := mat.NewDense(n, n, nil)
	for i, a := range blockTowers {
		for j, b := range blockTowers {
			switch {
			case i == j:
			case block(a) == block(b):
				m.Set(i, j, within)
			default:
				m.Set(i, j, across)
			}
		}
	}
	return &features.RawMatrix{Towers: blockTowers, Values: m}
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.NewConfig()
	cfg.Set("days.first", 2)
	cfg.Set("days.last", 4)
	cfg.Set("markov.max_order", 2)
	cfg.Set("markov.eval_first_day", 3)
	cfg.Set("markov.eval_last_day", 4)
	cfg.Set("split.train_first_day", 1)
	cfg.Set("split.train_last_day", 2)
	cfg.Set("split.test_first_day", 3)
	cfg.Set("split.test_last_day", 4)
	cfg.Set("evaluation.min_stops", 2)
	cfg.Set("evaluation.max_prefix", 2)
	cfg.Set("evaluation.workers", 2)
	cfg.Set("optimizer.max_evaluations", 60)
	cfg.Set("output.dir", t.TempDir())
	require.NoError(t, cfg.Validate())
	return cfg
}

func testPipeline(t *testing.T, cfg *config.Config) *Pipeline {
	src := features.NewMemorySource()
	for day := 2; day <= 4; day++ {
		src.Put(features.Jaccard, day, blockMatrix(0.1, 0.9))
		src.Put(features.Connectivity, day, blockMatrix(10, 1))
		src.Put(features.Nationality, day, blockMatrix(0.2, 0.8))
		src.Put(features.PhoneCost, day, blockMatrix(0.2, 0.8))
	}
	index := towers.NewIndex(blockTowers)
	store := features.NewStore(src, index, cfg.FeatureSpecs(), zerolog.Nop())
	return New(cfg, store, zerolog.Nop())
}

func traj(user string, nat, day int, path ...towers.ID) trajectory.Trajectory {
	stops := make([]trajectory.Stop, len(path))
	base := time.Date(2014, time.June, day, 7, 0, 0, 0, time.UTC)
	for i, id := range path {
		stops[i] = trajectory.Stop{Tower: id, At: base.Add(time.Duration(i) * time.Hour)}
	}
	return trajectory.Build(user, nat, stops, time.Minute)
}

func testPaths() trajectory.ByDay {
	var ts []trajectory.Trajectory
	for day := 1; day <= 4; day++ {
		ts = append(ts,
			traj("a", 1, day, 1, 2, 3, 1, 2),
			traj("b", 1, day, 4, 5, 6, 4, 5),
			traj("c", 2, day, 2, 3, 1, 2, 3),
		)
	}
	return trajectory.PartitionByDay(ts)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "naive", Label(clustering.Naive, ""))
	assert.Equal(t, "individual/jaccard", Label(clustering.Individual, "jaccard"))
}

func TestRunClustering(t *testing.T) {
	cfg := testConfig(t)
	p := testPipeline(t, cfg)
	require.NotEmpty(t, p.RunID())

	result, err := p.RunClustering(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p.RunID(), result.RunID)

	want := []string{"consensus", "learned", "naive"}
	for _, f := range features.All {
		want = append(want, Label(clustering.Individual, f.String()))
	}
	assert.ElementsMatch(t, want, result.Clusterings.Labels())

	index := towers.NewIndex(blockTowers)
	for _, label := range result.Clusterings.Labels() {
		byDay := result.Clusterings[label]
		require.Len(t, byDay, 3, label)
		for day, c := range byDay {
			assert.NoError(t, validation.ValidateClustering(c, index), "%s day %d", label, day)
		}
	}
	assert.Len(t, result.Outcomes, 3*7)
	assert.Len(t, result.Similarity, 3)
}

func TestRunClusteringSubset(t *testing.T) {
	cfg := testConfig(t)
	p := testPipeline(t, cfg)

	// consensus needs the individual runs but only reports itself
	result, err := p.RunClustering(context.Background(), clustering.Consensus)
	require.NoError(t, err)
	assert.Equal(t, []string{"consensus"}, result.Clusterings.Labels())
	assert.Nil(t, result.Similarity)
}

func TestRunClusteringMissingFeature(t *testing.T) {
	cfg := testConfig(t)
	src := features.NewMemorySource()
	src.Put(features.Jaccard, 2, blockMatrix(0.1, 0.9))
	store := features.NewStore(src, towers.NewIndex(blockTowers), cfg.FeatureSpecs(), zerolog.Nop())
	p := New(cfg, store, zerolog.Nop())

	_, err := p.RunClustering(context.Background(), clustering.Naive)
	require.Error(t, err)
}

func TestRunPrediction(t *testing.T) {
	cfg := testConfig(t)
	p := testPipeline(t, cfg)

	reports, err := p.RunPrediction(context.Background(), testPaths(), nil)
	require.NoError(t, err)

	var names []string
	for _, r := range reports {
		names = append(names, r.Model)
		assert.Equal(t, p.RunID(), r.RunID)
	}
	assert.Equal(t, []string{
		"markov-o1-transition", "markov-o1",
		"markov-o2-transition", "markov-o2",
		"knn",
	}, names)
}

func TestRunPredictionWithClassifier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Set("markov.max_order", 1)
	p := testPipeline(t, cfg)
	ctx := context.Background()

	result, err := p.RunClustering(ctx, clustering.Learned, clustering.Consensus)
	require.NoError(t, err)
	reports, err := p.RunPrediction(ctx, testPaths(), result.Clusterings)
	require.NoError(t, err)

	// order 2 is built for the classifier state even below markov.max_order
	require.Len(t, reports, 4)
	classifier := reports[3]
	assert.Equal(t, "knn-classifier", classifier.Model)
	require.Len(t, classifier.Days, 2)
	for _, d := range classifier.Days {
		// every test path is three first-occurrence stops: one step each
		assert.Equal(t, 3, d.Prefixes[0].N)
	}
	require.Len(t, classifier.Overall, 1)
	assert.Equal(t, 2, classifier.Overall[0].N)

	// consensus alone cannot describe a step
	delete(result.Clusterings, string(clustering.Learned))
	reports, err = p.RunPrediction(ctx, testPaths(), result.Clusterings)
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestRunClusterEvaluation(t *testing.T) {
	cfg := testConfig(t)
	p := testPipeline(t, cfg)
	ctx := context.Background()

	result, err := p.RunClustering(ctx)
	require.NoError(t, err)
	reports, err := p.RunClusterEvaluation(ctx, result.Clusterings, testPaths())
	require.NoError(t, err)
	require.Len(t, reports, 11)
	assert.Equal(t, "cluster-path-naive", reports[2].Model)
	assert.Equal(t, "cluster-votes-learned+consensus", reports[9].Model)

	combined := reports[10]
	assert.Equal(t, "cluster-path-combined", combined.Model)
	// the first clustered day has no earlier clustering to predict from
	require.Len(t, combined.Days, 2)
	assert.Equal(t, 3, combined.Days[0].Day)
	require.Len(t, combined.Overall, 1)
}

func TestWriteOutputs(t *testing.T) {
	dir := t.TempDir()
	byDay := map[int]towers.Clustering{
		2: {{1, 2, 3}, {4, 5, 6}},
		3: {{1, 2}, {3}, {4, 5, 6}},
	}
	require.NoError(t, WriteClusterings(dir, "individual/jaccard", byDay))

	file, err := os.Open(filepath.Join(dir, "clusterings", "individual", "jaccard", "3.csv"))
	require.NoError(t, err)
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}, {"4", "5", "6"}}, rows)

	read, err := ReadClusterings(dir, "individual/jaccard", "learned")
	require.NoError(t, err)
	assert.Equal(t, Clusterings{"individual/jaccard": byDay}, read)

	cfg := testConfig(t)
	p := testPipeline(t, cfg)
	reports, err := p.RunPrediction(context.Background(), testPaths(), read)
	require.NoError(t, err)
	require.NoError(t, WriteReports(dir, reports))
	assert.FileExists(t, filepath.Join(dir, "reports.csv"))
	assert.FileExists(t, filepath.Join(dir, "reports.json"))
}

func TestLoadData(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("char_towers_only.csv", "1,2,3,4,5,6\n")
	write("user_nat_ph.csv", "a,1,0.5\nb,2\n")
	write("user_paths.csv", "a,1;02;08;00;00,2;02;09;00;00,2;02;09;00;30,3;02;10;00;00\nb,4;03;08;00;00,5;03;09;00;00\n")

	cfg := config.NewConfig()
	cfg.Set("data.dir", dir)
	data, err := LoadData(cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 6, data.Index.Len())
	assert.Nil(t, data.Canonical)
	require.Len(t, data.ByDay[2], 1)
	assert.Equal(t, []towers.ID{1, 2, 3}, data.ByDay[2][0].Path())
	assert.Equal(t, 1, data.ByDay[2][0].Nationality)
	require.Len(t, data.ByDay[3], 1)
	assert.Equal(t, 2, data.ByDay[3][0].Nationality)
}

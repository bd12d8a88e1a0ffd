package evaluation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// Config controls which trajectories are evaluated and how work is split.
type Config struct {
	// MinStops: only paths with more than MinStops stops are evaluated.
	MinStops int
	// MaxPrefix: prefixes of length 1..MaxPrefix are scored.
	MaxPrefix int
	// UniquePaths evaluates on first-occurrence paths instead of raw ones.
	UniquePaths bool
	Workers     int
	// ChunkSize splits a day into tasks of at most ChunkSize trajectories;
	// 0 keeps one task per day.
	ChunkSize int
}

func DefaultConfig() Config {
	return Config{
		MinStops:    5,
		MaxPrefix:   5,
		UniquePaths: true,
		Workers:     runtime.NumCPU(),
	}
}

// Harness runs models over test days.
type Harness struct {
	cfg    Config
	runID  string
	logger zerolog.Logger
}

func NewHarness(cfg Config, runID string, logger zerolog.Logger) *Harness {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Harness{cfg: cfg, runID: runID, logger: logger}
}

// task is a slice of one day's trajectories.
type task struct {
	day   int
	chunk int
	paths []pathSample
}

type pathSample struct {
	nationality int
	path        []towers.ID
}

// taskResult holds the samples of one task per scored column.
type taskResult struct {
	day      int
	chunk    int
	samples  [][]float64
	excluded []int
}

func (h *Harness) plan(byDay trajectory.ByDay, days []int, minStops int) []task {
	var tasks []task
	for _, day := range days {
		var paths []pathSample
		for _, t := range byDay[day] {
			p := t.Path()
			if h.cfg.UniquePaths {
				p = trajectory.Unique(p)
			}
			if len(p) <= minStops {
				continue
			}
			paths = append(paths, pathSample{nationality: t.Nationality, path: p})
		}

		size := h.cfg.ChunkSize
		if size <= 0 || size >= len(paths) {
			tasks = append(tasks, task{day: day, paths: paths})
			continue
		}
		for chunk, start := 0, 0; start < len(paths); chunk, start = chunk+1, start+size {
			end := min(start+size, len(paths))
			tasks = append(tasks, task{day: day, chunk: chunk, paths: paths[start:end]})
		}
	}
	return tasks
}

// run executes work for every task with bounded parallelism and returns the
// results ordered by (day, chunk). The first failure cancels the rest.
func (h *Harness) run(ctx context.Context, stage string, tasks []task, work func(ctx context.Context, t task) (taskResult, error)) ([]taskResult, error) {
	results := make([]taskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Workers)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := work(gctx, t)
			if err != nil {
				return models.WrapDay(stage, t.day, err)
			}
			res.day, res.chunk = t.day, t.chunk
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].day != results[j].day {
			return results[i].day < results[j].day
		}
		return results[i].chunk < results[j].chunk
	})
	return results, nil
}

// reduce merges task results per day and summarizes every column.
func (h *Harness) reduce(name string, days []int, columns []int, results []taskResult) *Report {
	merged := make(map[int]*taskResult, len(days))
	for i := range results {
		r := &results[i]
		acc, ok := merged[r.day]
		if !ok {
			acc = &taskResult{day: r.day, samples: make([][]float64, len(columns)), excluded: make([]int, len(columns))}
			merged[r.day] = acc
		}
		for k := range columns {
			acc.samples[k] = append(acc.samples[k], r.samples[k]...)
			acc.excluded[k] += r.excluded[k]
		}
	}

	report := &Report{RunID: h.runID, Model: name, CreatedAt: time.Now().UTC()}
	for _, day := range days {
		dr := DayResult{Day: day, Prefixes: make([]PrefixStat, len(columns))}
		acc := merged[day]
		for k, col := range columns {
			ps := PrefixStat{Prefix: col}
			if acc != nil {
				ps.Mean, ps.Std = Summarize(acc.samples[k])
				ps.N = len(acc.samples[k])
				ps.Excluded = acc.excluded[k]
			}
			dr.Prefixes[k] = ps
		}
		report.Days = append(report.Days, dr)

		h.logger.Debug().
			Str("model", name).
			Int("day", day).
			Int("samples", dr.Prefixes[0].N).
			Float64("mean", dr.Prefixes[0].Mean).
			Msg("Day evaluated")
	}
	report.Overall = overall(report.Days, columns)
	return report
}

// Evaluate scores model on the given days. For every trajectory with more
// than MinStops stops and every prefix length i, the first i stops are
// shown to the predictor and the precision of its proposals against the
// remaining stops is recorded.
func (h *Harness) Evaluate(ctx context.Context, name string, model Model, byDay trajectory.ByDay, days []int) (*Report, error) {
	if h.cfg.MaxPrefix < 1 {
		return nil, fmt.Errorf("%w: max prefix %d", models.ErrInvalidParameter, h.cfg.MaxPrefix)
	}
	start := time.Now()
	columns := make([]int, h.cfg.MaxPrefix)
	for i := range columns {
		columns[i] = i + 1
	}

	work := func(ctx context.Context, t task) (taskResult, error) {
		predictor, err := model.PredictorFor(t.day)
		if err != nil {
			return taskResult{}, err
		}
		res := taskResult{samples: make([][]float64, len(columns)), excluded: make([]int, len(columns))}
		for n, ps := range t.paths {
			if n%64 == 0 {
				if err := ctx.Err(); err != nil {
					return taskResult{}, err
				}
			}
			for k, prefix := range columns {
				v, err := scorePrefix(predictor, ps, prefix)
				if errors.Is(err, models.ErrDegenerateInput) {
					res.excluded[k]++
					continue
				}
				if err != nil {
					return taskResult{}, err
				}
				res.samples[k] = append(res.samples[k], v)
			}
		}
		return res, nil
	}

	results, err := h.run(ctx, "evaluate "+name, h.plan(byDay, days, h.cfg.MinStops), work)
	if err != nil {
		return nil, err
	}
	report := h.reduce(name, days, columns, results)
	h.logSummary(report, time.Since(start))
	return report, nil
}

func scorePrefix(p Predictor, ps pathSample, prefix int) (float64, error) {
	if prefix >= len(ps.path) {
		return 0, fmt.Errorf("%w: prefix %d leaves no stops of %d", models.ErrDegenerateInput, prefix, len(ps.path))
	}
	seen := ps.path[:prefix]
	actual := make(map[towers.ID]struct{}, len(ps.path)-prefix)
	for _, id := range ps.path[prefix:] {
		actual[id] = struct{}{}
	}

	predicted, err := p.Predict(Query{Nationality: ps.nationality, Seen: seen})
	if err != nil {
		return 0, err
	}
	return Precision(predicted, seen, actual), nil
}

// EvaluateSteps scores one-step-ahead accuracy: every step of every path on
// a day counts 1 when the predicted stop equals the actual one. Raw paths
// of any length are used.
func (h *Harness) EvaluateSteps(ctx context.Context, name string, model StepModel, byDay trajectory.ByDay, days []int) (*Report, error) {
	start := time.Now()
	columns := []int{1}

	work := func(ctx context.Context, t task) (taskResult, error) {
		predict, err := model.StepPredictorFor(t.day)
		if err != nil {
			return taskResult{}, err
		}
		res := taskResult{samples: make([][]float64, 1), excluded: make([]int, 1)}
		for n, ps := range t.paths {
			if n%64 == 0 {
				if err := ctx.Err(); err != nil {
					return taskResult{}, err
				}
			}
			for _, step := range model.Steps(ps.path) {
				got, err := predict(step.Context)
				if errors.Is(err, models.ErrDegenerateInput) {
					res.excluded[0]++
					continue
				}
				if err != nil {
					return taskResult{}, err
				}
				if got == step.Next {
					res.samples[0] = append(res.samples[0], 1)
				} else {
					res.samples[0] = append(res.samples[0], 0)
				}
			}
		}
		return res, nil
	}

	raw := *h
	raw.cfg.UniquePaths = false
	results, err := h.run(ctx, "steps "+name, raw.plan(byDay, days, 0), work)
	if err != nil {
		return nil, err
	}
	report := h.reduce(name, days, columns, results)
	h.logSummary(report, time.Since(start))
	return report, nil
}

func (h *Harness) logSummary(r *Report, elapsed time.Duration) {
	event := h.logger.Info().
		Str("run_id", r.RunID).
		Str("model", r.Model).
		Int("days", len(r.Days)).
		Dur("elapsed", elapsed)
	for _, ps := range r.Overall {
		event = event.Float64(fmt.Sprintf("p%d_mean", ps.Prefix), ps.Mean)
	}
	event.Msg("Evaluation finished")
}

// Package pipeline wires the feature store, the clustering optimizer and
// the prediction models into the daily batch runs.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/config"
	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/fusion"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/validation"
)

// symmetryTolerance bounds |a_ij - a_ji| for fused matrices.
const symmetryTolerance = 1e-9

// Clusterings holds per-day clusterings keyed by label: the strategy name,
// or "individual/<feature>" for single-feature runs.
type Clusterings map[string]map[int]towers.Clustering

// Label names the clustering of a strategy (and feature for individual runs).
func Label(s clustering.Strategy, feature string) string {
	if s == clustering.Individual {
		return string(s) + "/" + feature
	}
	return string(s)
}

// ClusteringResult is the outcome of RunClustering.
type ClusteringResult struct {
	RunID       string               `json:"run_id"`
	Clusterings Clusterings          `json:"-"`
	Outcomes    []clustering.Outcome `json:"outcomes"`
	Similarity  []DaySimilarity      `json:"similarity,omitempty"`
	Runtime     time.Duration        `json:"runtime"`
}

// DaySimilarity compares the learned and consensus clusterings of a day.
type DaySimilarity struct {
	Day               int     `json:"day"`
	LearnedCoverage   float64 `json:"learned_coverage"`
	ConsensusCoverage float64 `json:"consensus_coverage"`
}

// Pipeline runs the batch stages for one configuration.
type Pipeline struct {
	cfg    *config.Config
	store  *features.Store
	logger zerolog.Logger
	runID  string
}

// New creates a pipeline with a fresh run ID attached to every log line.
func New(cfg *config.Config, store *features.Store, logger zerolog.Logger) *Pipeline {
	runID := uuid.New().String()
	return &Pipeline{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("run_id", runID).Logger(),
		runID:  runID,
	}
}

// RunID identifies this run in logs and reports.
func (p *Pipeline) RunID() string { return p.runID }

// RunClustering optimizes the requested strategies for every configured
// day, days in parallel. Consensus runs the individual strategy for the
// same day even when it was not requested.
func (p *Pipeline) RunClustering(ctx context.Context, strategies ...clustering.Strategy) (*ClusteringResult, error) {
	start := time.Now()
	if len(strategies) == 0 {
		strategies = clustering.Strategies
	}
	want := make(map[clustering.Strategy]bool, len(strategies))
	for _, s := range strategies {
		want[s] = true
	}

	ccfg, err := p.cfg.Clustering()
	if err != nil {
		return nil, err
	}
	initialLearned, err := p.cfg.InitialLearned()
	if err != nil {
		return nil, err
	}

	var tracer *clustering.Tracer
	if p.cfg.TraceOptimizer() {
		if err := ensureDir(p.cfg.OutputDir()); err != nil {
			return nil, err
		}
		tracer, err = clustering.CreateTracer(filepath.Join(p.cfg.OutputDir(), "optimizer_trace.jsonl"), p.runID)
		if err != nil {
			return nil, err
		}
		defer tracer.Close()
	}
	optimizer := clustering.NewOptimizer(ccfg, tracer, p.logger)
	index := p.store.Index()

	days := p.cfg.ClusteringDays()
	perDay := make([][]clustering.Outcome, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers())
	for i, day := range days {
		i, day := i, day
		g.Go(func() error {
			outcomes, err := p.clusterDay(gctx, optimizer, index, day, want, initialLearned)
			if err != nil {
				return models.WrapDay("clustering", day, err)
			}
			perDay[i] = outcomes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &ClusteringResult{RunID: p.runID, Clusterings: make(Clusterings)}
	for i, outcomes := range perDay {
		for _, o := range outcomes {
			if !want[o.Strategy] {
				continue
			}
			label := Label(o.Strategy, o.Feature)
			if result.Clusterings[label] == nil {
				result.Clusterings[label] = make(map[int]towers.Clustering)
			}
			result.Clusterings[label][days[i]] = o.Clustering
			result.Outcomes = append(result.Outcomes, o)
		}
	}
	result.Similarity = p.similarity(result.Clusterings, days)
	result.Runtime = time.Since(start)

	p.logger.Info().
		Int("days", len(days)).
		Int("clusterings", len(result.Outcomes)).
		Dur("runtime", result.Runtime).
		Msg("Clustering finished")
	return result, nil
}

func (p *Pipeline) clusterDay(ctx context.Context, o *clustering.Optimizer, index *towers.Index, day int, want map[clustering.Strategy]bool, initialLearned [5]float64) ([]clustering.Outcome, error) {
	set, err := p.store.LoadAll(ctx, day)
	if err != nil {
		return nil, err
	}

	var outcomes []clustering.Outcome
	keep := func(out clustering.Outcome) error {
		if err := validation.ValidateClustering(out.Clustering, index); err != nil {
			return fmt.Errorf("%s clustering invalid: %w", out.Strategy, err)
		}
		outcomes = append(outcomes, out)
		return nil
	}

	// Step 1: naive metric
	if want[clustering.Naive] {
		fused, err := p.fuse(fusion.Equal(), set)
		if err != nil {
			return nil, err
		}
		out, err := o.OptimizeCut(ctx, clustering.Run{Day: day, Strategy: clustering.Naive}, fused, index, p.cfg.InitialCut("naive"))
		if err != nil {
			return nil, err
		}
		if err := keep(out); err != nil {
			return nil, err
		}
	}

	// Step 2: learned metric
	if want[clustering.Learned] {
		out, err := o.OptimizeLearned(ctx, clustering.Run{Day: day, Strategy: clustering.Learned}, set, index, initialLearned)
		if err != nil {
			return nil, err
		}
		if err := keep(out); err != nil {
			return nil, err
		}
	}

	// Step 3: single-feature metrics, also the consensus inputs
	if want[clustering.Individual] || want[clustering.Consensus] {
		var individual []towers.Clustering
		for _, f := range features.All {
			m, err := set.Get(f)
			if err != nil {
				return nil, err
			}
			run := clustering.Run{Day: day, Strategy: clustering.Individual, Feature: f.String()}
			out, err := o.OptimizeCut(ctx, run, m, index, p.cfg.InitialCut(f.String()))
			if err != nil {
				return nil, &models.DayError{Day: day, Stage: "individual", Feature: f.String(), Err: err}
			}
			if err := keep(out); err != nil {
				return nil, err
			}
			individual = append(individual, out.Clustering)
		}

		// Step 4: consensus of the single-feature clusterings
		if want[clustering.Consensus] {
			dist, err := fusion.Consensus(individual, index)
			if err != nil {
				return nil, err
			}
			if err := validation.ValidateDistanceMatrix(dist, symmetryTolerance); err != nil {
				return nil, fmt.Errorf("consensus matrix invalid: %w", err)
			}
			out, err := o.OptimizeCut(ctx, clustering.Run{Day: day, Strategy: clustering.Consensus}, dist, index, p.cfg.InitialCut("consensus"))
			if err != nil {
				return nil, err
			}
			if err := keep(out); err != nil {
				return nil, err
			}
		}
	}
	return outcomes, nil
}

func (p *Pipeline) fuse(w fusion.Weights, set features.Set) (*mat.SymDense, error) {
	fused, err := fusion.Fuse(w, set)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateDistanceMatrix(fused, symmetryTolerance); err != nil {
		return nil, fmt.Errorf("fused matrix invalid: %w", err)
	}
	return fused, nil
}

// similarity compares learned and consensus clusterings day by day.
func (p *Pipeline) similarity(c Clusterings, days []int) []DaySimilarity {
	learned, consensus := c[string(clustering.Learned)], c[string(clustering.Consensus)]
	if learned == nil || consensus == nil {
		return nil
	}
	var out []DaySimilarity
	for _, day := range days {
		a, okA := learned[day]
		b, okB := consensus[day]
		if !okA || !okB {
			continue
		}
		la, lb := clustering.Similarity(a, b)
		out = append(out, DaySimilarity{Day: day, LearnedCoverage: la, ConsensusCoverage: lb})
	}
	return out
}

// Labels returns the labels of c in a stable order.
func (c Clusterings) Labels() []string {
	out := make([]string, 0, len(c))
	for l := range c {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

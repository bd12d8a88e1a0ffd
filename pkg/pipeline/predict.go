package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gilchrisn/cell-mobility/pkg/clustering"
	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/knn"
	"github.com/gilchrisn/cell-mobility/pkg/markov"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

func (p *Pipeline) harness() *evaluation.Harness {
	return evaluation.NewHarness(p.cfg.Evaluation(), p.runID, p.logger)
}

// RunPrediction evaluates the Markov models of every order, the KNN
// predictor and, when c holds learned and consensus clusterings, the
// combined-feature step classifier.
func (p *Pipeline) RunPrediction(ctx context.Context, byDay trajectory.ByDay, c Clusterings) ([]*evaluation.Report, error) {
	start := time.Now()
	h := p.harness()
	index := p.store.Index()
	mcfg := p.cfg.Markov()
	evalDays := p.cfg.MarkovEvalDays()
	testDays := p.cfg.TestDays()

	var reports []*evaluation.Report

	// Step 1: Markov tables, one running sum per order
	first, last := p.cfg.FirstDay(), p.cfg.LastDay()
	priors := markov.BuildVisitPriors(byDay, index, first, last)
	byOrder := make(map[int]map[int]*markov.Table, mcfg.MaxOrder)
	for order := 1; order <= mcfg.MaxOrder; order++ {
		tables, err := markov.BuildTables(byDay, index, order, first, last)
		if err != nil {
			return nil, fmt.Errorf("order-%d tables: %w", order, err)
		}
		byOrder[order] = tables
		p.logger.Info().
			Int("order", order).
			Int("contexts", tables[last].Contexts()).
			Msg("Transition tables built")

		accuracy, err := markov.TransitionAccuracy(ctx, h, tables, byDay, evalDays)
		if err != nil {
			return nil, err
		}
		reports = append(reports, accuracy)

		model := &markov.Predictor{
			Tables:          tables,
			Priors:          priors,
			Order:           order,
			FallbackToPrior: mcfg.FallbackToPrior,
		}
		report, err := h.Evaluate(ctx, fmt.Sprintf("markov-o%d", order), model, byDay, testDays)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	// Step 2: nationality-cohort nearest neighbours
	kcfg, err := p.cfg.KNN()
	if err != nil {
		return nil, err
	}
	predictor := knn.New(kcfg)
	trained, err := knn.Train(predictor, byDay, p.cfg.TrainFirstDay(), p.cfg.TrainLastDay())
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Int("paths", trained).
		Int("k", kcfg.K).
		Msg("KNN cohorts frozen")

	report, err := h.Evaluate(ctx, "knn", predictor, byDay, testDays)
	if err != nil {
		return nil, err
	}
	reports = append(reports, report)

	// Step 3: step classifier over Markov rows and cluster co-membership
	learned, okL := c[string(clustering.Learned)]
	consensus, okC := c[string(clustering.Consensus)]
	if okL && okC {
		report, err := p.runClassifier(ctx, byDay, byOrder, learned, consensus)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	} else {
		p.logger.Info().Msg("No learned and consensus clusterings, skipping the step classifier")
	}

	p.logger.Info().
		Int("reports", len(reports)).
		Dur("runtime", time.Since(start)).
		Msg("Prediction finished")
	return reports, nil
}

// runClassifier freezes the model state of the last training day, describes
// every training step with it and scores the classifier on the test days,
// ClassifierChunkSize trajectories per task.
func (p *Pipeline) runClassifier(ctx context.Context, byDay trajectory.ByDay, byOrder map[int]map[int]*markov.Table, learned, consensus map[int]towers.Clustering) (*evaluation.Report, error) {
	index := p.store.Index()
	first, stateDay := p.cfg.FirstDay(), p.cfg.TrainLastDay()

	for order := 1; order <= 2; order++ {
		if _, ok := byOrder[order]; ok {
			continue
		}
		tables, err := markov.BuildTables(byDay, index, order, first, stateDay)
		if err != nil {
			return nil, fmt.Errorf("order-%d tables: %w", order, err)
		}
		byOrder[order] = tables
	}

	state := knn.State{
		Index:  index,
		Order1: byOrder[1][stateDay],
		Order2: byOrder[2][stateDay],
	}
	var err error
	if state.Learned, err = evaluation.CoMembership(index, first, stateDay, learned); err != nil {
		return nil, fmt.Errorf("learned co-membership: %w", err)
	}
	if state.Consensus, err = evaluation.CoMembership(index, first, stateDay, consensus); err != nil {
		return nil, fmt.Errorf("consensus co-membership: %w", err)
	}

	classifier, err := knn.TrainClassifier(p.cfg.ClassifierK(), state, byDay, p.cfg.TrainFirstDay(), stateDay)
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Int("state_day", stateDay).
		Int("references", classifier.References()).
		Int("k", p.cfg.ClassifierK()).
		Msg("Step classifier trained")

	cfg := p.cfg.Evaluation()
	cfg.ChunkSize = p.cfg.ClassifierChunkSize()
	h := evaluation.NewHarness(cfg, p.runID, p.logger)
	return h.EvaluateSteps(ctx, "knn-classifier", classifier, byDay, p.cfg.TestDays())
}

// RunClusterEvaluation scores the clusterings as next-stop predictors: by
// co-membership votes, by cluster-neighbour precision on the test days,
// and by path precision (the first stop's cluster against the rest of the
// path) over every clustered day. Learned and consensus are also scored
// together: their votes pooled, and the union of their clusters as the
// combined clustering.
func (p *Pipeline) RunClusterEvaluation(ctx context.Context, c Clusterings, byDay trajectory.ByDay) ([]*evaluation.Report, error) {
	h := p.harness()
	aggregate := p.cfg.ClusterAggregate()
	evalDays := p.cfg.MarkovEvalDays()
	pathDays := p.cfg.ClusteringDays()
	if len(pathDays) > 0 {
		// the first day has no earlier clustering
		pathDays = pathDays[1:]
	}

	var reports []*evaluation.Report
	add := func(r *evaluation.Report, err error) error {
		if err != nil {
			return err
		}
		reports = append(reports, r)
		return nil
	}

	for _, s := range []clustering.Strategy{clustering.Naive, clustering.Learned, clustering.Consensus} {
		set, ok := c[string(s)]
		if !ok {
			continue
		}
		if err := add(h.EvaluateSteps(ctx, "cluster-votes-"+string(s), evaluation.NewClusterVotes(aggregate, set), byDay, evalDays)); err != nil {
			return nil, err
		}
		if err := add(h.Evaluate(ctx, "cluster-"+string(s), evaluation.NewClusterModel(set), byDay, p.cfg.TestDays())); err != nil {
			return nil, err
		}
		if err := add(p.pathPrecision(ctx, "cluster-path-"+string(s), byDay, pathDays, set)); err != nil {
			return nil, err
		}
	}

	learned, okL := c[string(clustering.Learned)]
	consensus, okC := c[string(clustering.Consensus)]
	if okL && okC {
		if err := add(h.EvaluateSteps(ctx, "cluster-votes-learned+consensus",
			evaluation.NewClusterVotes(aggregate, learned, consensus), byDay, evalDays)); err != nil {
			return nil, err
		}
		if err := add(p.pathPrecision(ctx, "cluster-path-combined", byDay, pathDays, learned, consensus)); err != nil {
			return nil, err
		}
	}
	return reports, nil
}

// pathPrecision scores the first stop's cluster (the union over sets)
// against the remaining stops of every first-occurrence path with at
// least two stops.
func (p *Pipeline) pathPrecision(ctx context.Context, name string, byDay trajectory.ByDay, days []int, sets ...map[int]towers.Clustering) (*evaluation.Report, error) {
	cfg := p.cfg.Evaluation()
	cfg.MinStops, cfg.MaxPrefix, cfg.UniquePaths = 1, 1, true
	h := evaluation.NewHarness(cfg, p.runID, p.logger)
	return h.Evaluate(ctx, name, evaluation.NewClusterModel(sets...), byDay, days)
}

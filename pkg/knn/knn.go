// Package knn predicts the towers a traveller will visit from the paths of
// their most similar same-nationality travellers.
package knn

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gilchrisn/cell-mobility/pkg/evaluation"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// Distance compares a partial path with a stored one; lower is closer.
type Distance func(a, b []towers.ID) float64

// ParseDistance maps "edit" and "jaccard" to their distance functions.
func ParseDistance(name string) (Distance, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "edit":
		return EditDistance, nil
	case "jaccard":
		return JaccardDistance, nil
	}
	return nil, fmt.Errorf("%w: unknown knn distance %q", models.ErrInvalidParameter, name)
}

// Config holds the neighbour search settings.
type Config struct {
	K             int
	MaxCandidates int
	Distance      Distance
}

func DefaultConfig() Config {
	return Config{K: 20, MaxCandidates: 10, Distance: EditDistance}
}

// Predictor stores training paths per nationality cohort. Paths are added
// during training; after Freeze the cohorts are read-only and the
// predictor is safe for concurrent use.
type Predictor struct {
	cfg Config

	mu      sync.RWMutex
	frozen  bool
	cohorts map[int][][]towers.ID
}

func New(cfg Config) *Predictor {
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 10
	}
	if cfg.Distance == nil {
		cfg.Distance = EditDistance
	}
	return &Predictor{cfg: cfg, cohorts: make(map[int][][]towers.ID)}
}

// ErrFrozen is returned by Add once training has ended.
var ErrFrozen = fmt.Errorf("%w: predictor is frozen", models.ErrInvalidParameter)

// Add stores a copy of path in the cohort of nationality.
func (p *Predictor) Add(nationality int, path []towers.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frozen {
		return ErrFrozen
	}
	p.cohorts[nationality] = append(p.cohorts[nationality], append([]towers.ID(nil), path...))
	return nil
}

// Freeze ends training.
func (p *Predictor) Freeze() {
	p.mu.Lock()
	p.frozen = true
	p.mu.Unlock()
}

// CohortSize returns the number of stored paths for nationality.
func (p *Predictor) CohortSize(nationality int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cohorts[nationality])
}

// Neighbors ranks the cohort paths by distance to partial, keeps the k
// closest (stable on ties) and returns the towers they visit that partial
// has not, most frequent first, ties by first appearance, capped at
// MaxCandidates. An unknown cohort yields an empty list.
func (p *Predictor) Neighbors(nationality int, partial []towers.ID, k int) []towers.ID {
	p.mu.RLock()
	cohort := p.cohorts[nationality]
	p.mu.RUnlock()
	if len(cohort) == 0 || k <= 0 {
		return []towers.ID{}
	}

	type scored struct {
		path []towers.ID
		dist float64
	}
	ranked := make([]scored, len(cohort))
	for i, path := range cohort {
		ranked[i] = scored{path: path, dist: p.cfg.Distance(partial, path)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	seen := make(map[towers.ID]struct{}, len(partial))
	for _, id := range partial {
		seen[id] = struct{}{}
	}
	counts := make(map[towers.ID]int)
	var order []towers.ID
	for _, r := range ranked {
		for _, id := range r.path {
			if _, ok := seen[id]; ok {
				continue
			}
			if counts[id] == 0 {
				order = append(order, id)
			}
			counts[id]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > p.cfg.MaxCandidates {
		order = order[:p.cfg.MaxCandidates]
	}
	return order
}

// Predict implements evaluation.Predictor with the configured K.
func (p *Predictor) Predict(q evaluation.Query) ([]towers.ID, error) {
	return p.Neighbors(q.Nationality, q.Seen, p.cfg.K), nil
}

// PredictorFor implements evaluation.Model: the frozen cohorts serve every
// test day.
func (p *Predictor) PredictorFor(int) (evaluation.Predictor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.frozen {
		return nil, fmt.Errorf("%w: predictor is still training", models.ErrInvalidParameter)
	}
	return p, nil
}

// Train adds the first-occurrence paths of days first..last and freezes p.
func Train(p *Predictor, byDay trajectory.ByDay, first, last int) (int, error) {
	added := 0
	for day := first; day <= last; day++ {
		for _, t := range byDay[day] {
			if err := p.Add(t.Nationality, trajectory.Unique(t.Path())); err != nil {
				return added, err
			}
			added++
		}
	}
	p.Freeze()
	return added, nil
}

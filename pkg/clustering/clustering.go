// Package clustering groups towers by average-linkage agglomerative
// clustering over a distance matrix and searches the dendrogram cut (and
// optionally the fusion weights) that optimizes a partition score.
package clustering

import (
	"fmt"
	"strings"
	"time"

	"github.com/gilchrisn/cell-mobility/pkg/fusion"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Clustering is a partition of the tower index.
type Clustering = towers.Clustering

// ===== STRATEGIES =====

// Strategy names a way of producing a metric to cluster on.
type Strategy string

const (
	Naive      Strategy = "naive"
	Learned    Strategy = "learned"
	Consensus  Strategy = "consensus"
	Individual Strategy = "individual"
)

// Strategies lists every strategy in execution order. Consensus needs the
// individual clusterings of the same day.
var Strategies = []Strategy{Naive, Learned, Individual, Consensus}

func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown strategy %q", models.ErrInvalidParameter, s)
}

// ===== OBJECTIVE SENSE =====

// Sense says which direction of the partition score the optimizer follows.
type Sense int

const (
	// Minimize drives the score down. This reproduces the historical runs
	// and prefers multi-tower groups over the singleton bonus.
	Minimize Sense = iota
	// Maximize drives the score up by minimizing its negation, so the
	// singleton bonus wins whenever the cut allows it.
	Maximize
)

func (s Sense) String() string {
	if s == Maximize {
		return "maximize"
	}
	return "minimize"
}

func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "minimize", "min":
		return Minimize, nil
	case "maximize", "max":
		return Maximize, nil
	}
	return Minimize, fmt.Errorf("%w: unknown objective %q", models.ErrInvalidParameter, s)
}

// cost converts a score into the value handed to the minimizer.
func (s Sense) cost(score float64) float64 {
	if s == Maximize {
		return -score
	}
	return score
}

// ===== CONFIGURATION =====

// Config holds everything needed to build an Optimizer.
type Config struct {
	SingletonBonus float64 `json:"singleton_bonus"`
	PairWeight     float64 `json:"pair_weight"`
	SizePenalty    float64 `json:"size_penalty"`
	Sense          Sense   `json:"sense"`
	MaxEvaluations int     `json:"max_evaluations"`
	SimplexSize    float64 `json:"simplex_size"`
}

// DefaultConfig mirrors the constants of the research runs.
func DefaultConfig() Config {
	return Config{
		SingletonBonus: 100,
		PairWeight:     1,
		SizePenalty:    1,
		Sense:          Minimize,
		MaxEvaluations: 400,
		SimplexSize:    0.05,
	}
}

// ===== RESULTS =====

// Outcome is the best point found by an optimization run.
type Outcome struct {
	Strategy    Strategy       `json:"strategy"`
	Feature     string         `json:"feature,omitempty"`
	Day         int            `json:"day"`
	Cut         float64        `json:"cut"`
	Weights     fusion.Weights `json:"weights"`
	Score       float64        `json:"score"`
	Evaluations int            `json:"evaluations"`
	Runtime     time.Duration  `json:"runtime"`
	Clustering  Clustering     `json:"-"`
	NumGroups   int            `json:"num_groups"`
	Singletons  int            `json:"singletons"`
}

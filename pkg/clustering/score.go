package clustering

import (
	"fmt"

	"github.com/gilchrisn/cell-mobility/pkg/models"
)

// Scorer rates a partition. Every singleton adds SingletonBonus, every
// group of n >= 2 towers adds PairWeight*n(n-1)/2; the sum is averaged over
// groups and SizePenalty times the mean group size is subtracted.
type Scorer struct {
	SingletonBonus float64
	PairWeight     float64
	SizePenalty    float64
}

// DefaultScorer returns the scorer of the research runs.
func DefaultScorer() Scorer {
	return Scorer{SingletonBonus: 100, PairWeight: 1, SizePenalty: 1}
}

// Score rates c.
func (s Scorer) Score(c Clustering) (float64, error) {
	if len(c) == 0 {
		return 0, fmt.Errorf("%w: empty clustering", models.ErrInvalidParameter)
	}

	var total float64
	members := 0
	for i, g := range c {
		n := len(g)
		switch {
		case n == 0:
			return 0, fmt.Errorf("%w: group %d is empty", models.ErrInvalidParameter, i)
		case n == 1:
			total += s.SingletonBonus
		default:
			total += s.PairWeight * float64(n*(n-1)) / 2
		}
		members += n
	}

	groups := float64(len(c))
	return total/groups - s.SizePenalty*float64(members)/groups, nil
}

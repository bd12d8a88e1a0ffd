// Package fusion combines per-feature distance matrices into a single
// metric, either as a weighted average or as a consensus of clusterings.
package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Weights are the non-negative coefficients of the four features.
type Weights struct {
	Jaccard      float64 `json:"jaccard"`
	Connectivity float64 `json:"connectivity"`
	Nationality  float64 `json:"nationality"`
	PhoneCost    float64 `json:"phone_cost"`
}

// Equal weighs every feature the same; fusing with it is the naive metric.
func Equal() Weights {
	return Weights{1, 1, 1, 1}
}

// FromVector reads weights in features.All order.
func FromVector(v []float64) (Weights, error) {
	if len(v) != len(features.All) {
		return Weights{}, fmt.Errorf("%w: expected %d weights, got %d",
			models.ErrInvalidParameter, len(features.All), len(v))
	}
	return Weights{v[0], v[1], v[2], v[3]}, nil
}

// Vector returns the weights in features.All order.
func (w Weights) Vector() []float64 {
	return []float64{w.Jaccard, w.Connectivity, w.Nationality, w.PhoneCost}
}

// Of returns the weight of f.
func (w Weights) Of(f features.Feature) float64 {
	switch f {
	case features.Jaccard:
		return w.Jaccard
	case features.Connectivity:
		return w.Connectivity
	case features.Nationality:
		return w.Nationality
	case features.PhoneCost:
		return w.PhoneCost
	}
	return 0
}

// Validate rejects negative, non-finite or all-zero weights.
func (w Weights) Validate() error {
	sum := 0.0
	for i, v := range w.Vector() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s weight %g", models.ErrInvalidParameter, features.All[i], v)
		}
		sum += v
	}
	if sum == 0 {
		return fmt.Errorf("%w: weights sum to zero", models.ErrInvalidParameter)
	}
	return nil
}

// Fuse returns Σ w_i·M_i / Σ w_i over the four matrices of set.
func Fuse(w Weights, set features.Set) (*mat.SymDense, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	var (
		out *mat.SymDense
		n   int
		sum float64
	)
	for _, f := range features.All {
		m, err := set.Get(f)
		if err != nil {
			return nil, err
		}
		if out == nil {
			n = m.SymmetricDim()
			out = mat.NewSymDense(n, nil)
		} else if m.SymmetricDim() != n {
			return nil, fmt.Errorf("%w: %s matrix is %d wide, expected %d",
				models.ErrInvalidParameter, f, m.SymmetricDim(), n)
		}

		weight := w.Of(f)
		if weight == 0 {
			continue
		}
		sum += weight
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				out.SetSym(i, j, out.At(i, j)+weight*m.At(i, j))
			}
		}
	}
	out.ScaleSym(1/sum, out)
	return out, nil
}

// Consensus builds a distance from how often towers share a group across
// clusterings: 1 / (1 + co-membership count), zero on the diagonal.
func Consensus(clusterings []towers.Clustering, index *towers.Index) (*mat.SymDense, error) {
	n := index.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty tower index", models.ErrInvalidParameter)
	}

	counts := mat.NewSymDense(n, nil)
	for ci, c := range clusterings {
		for _, group := range c {
			pos := make([]int, len(group))
			for k, id := range group {
				p, ok := index.Pos(id)
				if !ok {
					return nil, fmt.Errorf("%w: clustering %d holds tower %d outside the index",
						models.ErrMissingData, ci, id)
				}
				pos[k] = p
			}
			for a := 0; a < len(pos); a++ {
				for b := a + 1; b < len(pos); b++ {
					counts.SetSym(pos[a], pos[b], counts.At(pos[a], pos[b])+1)
				}
			}
		}
	}

	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, 1/(counts.At(i, j)+1))
		}
	}
	return out, nil
}

// Package features loads the per-day tower feature matrices (jaccard,
// connectivity, nationality, phone cost) and turns them into symmetric,
// zero-diagonal distance matrices over the run's tower index.
package features

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Feature names one of the per-day tower feature matrices.
type Feature int

const (
	Jaccard Feature = iota
	Connectivity
	Nationality
	PhoneCost
)

// All lists the features in fusion order.
var All = []Feature{Jaccard, Connectivity, Nationality, PhoneCost}

func (f Feature) String() string {
	switch f {
	case Jaccard:
		return "jaccard"
	case Connectivity:
		return "connectivity"
	case Nationality:
		return "nationality"
	case PhoneCost:
		return "phone_cost"
	default:
		return fmt.Sprintf("feature(%d)", int(f))
	}
}

// ParseFeature accepts the names produced by String.
func ParseFeature(s string) (Feature, error) {
	for _, f := range All {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown feature %q", models.ErrInvalidParameter, s)
}

// Spec describes how a raw feature matrix becomes a distance matrix.
type Spec struct {
	// Normalize L2-normalizes every non-zero row.
	Normalize bool
	// Similarity converts values to distances with 1 - x after normalization.
	Similarity bool
}

// DefaultSpecs returns the transforms the extraction scripts expect:
// connectivity holds call counts, the others already hold distances.
func DefaultSpecs() map[Feature]Spec {
	return map[Feature]Spec{
		Jaccard:      {},
		Connectivity: {Normalize: true, Similarity: true},
		Nationality:  {Normalize: true},
		PhoneCost:    {Normalize: true},
	}
}

// RawMatrix is a feature matrix as delivered by a Source, indexed by its
// own tower header.
type RawMatrix struct {
	Towers []towers.ID
	Values *mat.Dense
}

// Validate checks that the matrix is square and matches its header.
func (r *RawMatrix) Validate() error {
	if r == nil || r.Values == nil {
		return fmt.Errorf("%w: nil matrix", models.ErrMissingData)
	}
	rows, cols := r.Values.Dims()
	if rows != cols {
		return fmt.Errorf("%w: matrix is %dx%d, expected square", models.ErrInvalidParameter, rows, cols)
	}
	if rows != len(r.Towers) {
		return fmt.Errorf("%w: header has %d towers, matrix has %d rows", models.ErrInvalidParameter, len(r.Towers), rows)
	}
	return nil
}

// Set holds the four distance matrices of one day.
type Set struct {
	Day      int
	Matrices map[Feature]*mat.SymDense
}

// Get returns the matrix for f.
func (s Set) Get(f Feature) (*mat.SymDense, error) {
	m, ok := s.Matrices[f]
	if !ok || m == nil {
		return nil, fmt.Errorf("%w: %s matrix for day %d", models.ErrMissingData, f, s.Day)
	}
	return m, nil
}

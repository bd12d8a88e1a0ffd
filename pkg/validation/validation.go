package validation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// ValidateClustering checks that c partitions index: every group is
// non-empty, every tower of the index appears exactly once and nothing
// else appears.
func ValidateClustering(c towers.Clustering, index *towers.Index) error {
	var errors models.ValidationErrors

	if len(c) == 0 {
		return models.ValidationErrors{{
			Field:   "clustering",
			Message: "clustering must contain at least one group",
		}}
	}

	seen := make(map[towers.ID]int, index.Len())
	for gi, group := range c {
		if len(group) == 0 {
			errors = append(errors, models.ValidationError{
				Field:   "clustering.group",
				Message: "group cannot be empty",
				Value:   fmt.Sprint(gi),
			})
			continue
		}
		for _, id := range group {
			if !index.Contains(id) {
				errors = append(errors, models.ValidationError{
					Field:   "clustering.tower",
					Message: fmt.Sprintf("tower in group %d is not part of the index", gi),
					Value:   fmt.Sprint(id),
				})
				continue
			}
			if prev, ok := seen[id]; ok {
				errors = append(errors, models.ValidationError{
					Field:   "clustering.tower",
					Message: fmt.Sprintf("tower appears in groups %d and %d", prev, gi),
					Value:   fmt.Sprint(id),
				})
				continue
			}
			seen[id] = gi
		}
	}

	if len(seen) < index.Len() {
		for _, id := range index.IDs() {
			if _, ok := seen[id]; !ok {
				errors = append(errors, models.ValidationError{
					Field:   "clustering.coverage",
					Message: "tower is not assigned to any group",
					Value:   fmt.Sprint(id),
				})
			}
		}
	}

	return errors.OrNil()
}

// ValidateDistanceMatrix checks for a zero diagonal, symmetry within tol
// and non-negative finite entries.
func ValidateDistanceMatrix(m mat.Matrix, tol float64) error {
	var errors models.ValidationErrors

	r, c := m.Dims()
	if r != c {
		return models.ValidationErrors{{
			Field:   "matrix.shape",
			Message: fmt.Sprintf("matrix must be square, got %dx%d", r, c),
		}}
	}

	for i := 0; i < r; i++ {
		if d := m.At(i, i); d != 0 {
			errors = append(errors, models.ValidationError{
				Field:   "matrix.diagonal",
				Message: fmt.Sprintf("diagonal entry %d must be zero", i),
				Value:   fmt.Sprint(d),
			})
		}
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				errors = append(errors, models.ValidationError{
					Field:   "matrix.entry",
					Message: fmt.Sprintf("entry (%d,%d) must be finite and non-negative", i, j),
					Value:   fmt.Sprint(v),
				})
				continue
			}
			if j > i && math.Abs(v-m.At(j, i)) > tol {
				errors = append(errors, models.ValidationError{
					Field:   "matrix.symmetry",
					Message: fmt.Sprintf("entries (%d,%d) and (%d,%d) differ", i, j, j, i),
					Value:   fmt.Sprint(v - m.At(j, i)),
				})
			}
		}
	}

	return errors.OrNil()
}

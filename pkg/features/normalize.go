package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NormalizeRow returns an L2-normalized copy of row. All-zero rows are
// returned as zero vectors.
func NormalizeRow(row []float64) []float64 {
	out := make([]float64, len(row))
	copy(out, row)
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(1/norm, out)
	return out
}

// NormalizeRows L2-normalizes every non-zero row of m in place.
func NormalizeRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		norm := floats.Norm(row, 2)
		if norm == 0 {
			continue
		}
		floats.Scale(1/norm, row)
	}
}

// Symmetrize averages transpose pairs: out[i][j] = out[j][i] = (m[i][j]+m[j][i])/2.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	n, _ := m.Dims()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, m.At(i, i))
		for j := i + 1; j < n; j++ {
			out.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}
	return out
}

// ZeroDiagonal clears the diagonal of m in place.
func ZeroDiagonal(m *mat.SymDense) {
	n := m.SymmetricDim()
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 0)
	}
}

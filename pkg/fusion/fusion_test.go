package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

func uniformSet(m *mat.SymDense) features.Set {
	set := features.Set{Day: 2, Matrices: map[features.Feature]*mat.SymDense{}}
	for _, f := range features.All {
		set.Matrices[f] = m
	}
	return set
}

func TestFuseIdenticalMatrices(t *testing.T) {
	m := mat.NewSymDense(3, []float64{
		0, 0.2, 0.7,
		0.2, 0, 0.4,
		0.7, 0.4, 0,
	})

	for _, w := range []Weights{Equal(), {0.1, 2, 0, 5}} {
		fused, err := Fuse(w, uniformSet(m))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				assert.InDelta(t, m.At(i, j), fused.At(i, j), 1e-12)
			}
		}
	}
}

func TestFuseWeightedAverage(t *testing.T) {
	zero := mat.NewSymDense(2, nil)
	one := mat.NewSymDense(2, []float64{0, 1, 1, 0})
	set := features.Set{Matrices: map[features.Feature]*mat.SymDense{
		features.Jaccard:      one,
		features.Connectivity: zero,
		features.Nationality:  zero,
		features.PhoneCost:    zero,
	}}

	fused, err := Fuse(Equal(), set)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, fused.At(0, 1), 1e-12)
	assert.Equal(t, 0.0, fused.At(0, 0))

	fused, err = Fuse(Weights{Jaccard: 3, Connectivity: 1}, set)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, fused.At(1, 0), 1e-12)
}

func TestFuseRejectsBadInput(t *testing.T) {
	m := mat.NewSymDense(2, nil)
	tests := []struct {
		name string
		w    Weights
		set  features.Set
	}{
		{"zero sum", Weights{}, uniformSet(m)},
		{"negative", Weights{1, -1, 1, 1}, uniformSet(m)},
		{"dimension mismatch", Equal(), features.Set{Matrices: map[features.Feature]*mat.SymDense{
			features.Jaccard:      m,
			features.Connectivity: mat.NewSymDense(3, nil),
			features.Nationality:  m,
			features.PhoneCost:    m,
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fuse(tt.w, tt.set)
			assert.ErrorIs(t, err, models.ErrInvalidParameter)
		})
	}

	_, err := Fuse(Equal(), features.Set{Day: 3})
	assert.ErrorIs(t, err, models.ErrMissingData)
}

func TestWeightsVector(t *testing.T) {
	w, err := FromVector([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Weights{1, 2, 3, 4}, w)
	assert.Equal(t, []float64{1, 2, 3, 4}, w.Vector())

	_, err = FromVector([]float64{1})
	assert.ErrorIs(t, err, models.ErrInvalidParameter)
}

func TestConsensus(t *testing.T) {
	index := towers.NewIndex([]towers.ID{1, 2, 3})
	clusterings := []towers.Clustering{
		{{1, 2}, {3}},
		{{1, 2, 3}},
	}

	m, err := Consensus(clusterings, index)
	require.NoError(t, err)

	assert.InDelta(t, 1.0/3, m.At(0, 1), 1e-12)
	assert.InDelta(t, 0.5, m.At(0, 2), 1e-12)
	assert.InDelta(t, 0.5, m.At(1, 2), 1e-12)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0.0, m.At(i, i))
	}

	none, err := Consensus(nil, index)
	require.NoError(t, err)
	assert.Equal(t, 1.0, none.At(0, 2))

	_, err = Consensus([]towers.Clustering{{{1, 99}}}, index)
	assert.ErrorIs(t, err, models.ErrMissingData)
}

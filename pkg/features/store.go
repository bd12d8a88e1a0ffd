package features

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Store turns raw matrices into distance matrices over a fixed tower index
// and caches them per (feature, day).
type Store struct {
	src    Source
	index  *towers.Index
	specs  map[Feature]Spec
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[sourceKey]*mat.SymDense
}

// NewStore creates a store. A nil specs map selects DefaultSpecs.
func NewStore(src Source, index *towers.Index, specs map[Feature]Spec, logger zerolog.Logger) *Store {
	if specs == nil {
		specs = DefaultSpecs()
	}
	return &Store{
		src:    src,
		index:  index,
		specs:  specs,
		logger: logger,
		cache:  make(map[sourceKey]*mat.SymDense),
	}
}

// Index returns the tower index every loaded matrix is projected onto.
func (s *Store) Index() *towers.Index { return s.index }

// Load returns the distance matrix for feature f on day. The result is
// shared between callers and must not be modified.
func (s *Store) Load(ctx context.Context, f Feature, day int) (*mat.SymDense, error) {
	key := sourceKey{f, day}
	s.mu.Lock()
	if m, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	if s.index.Len() == 0 {
		return nil, &models.DayError{Day: day, Stage: "load", Feature: f.String(),
			Err: fmt.Errorf("%w: empty tower index", models.ErrInvalidParameter)}
	}

	raw, err := s.src.Matrix(ctx, f, day)
	if err != nil {
		return nil, &models.DayError{Day: day, Stage: "load", Feature: f.String(), Err: err}
	}
	if err := raw.Validate(); err != nil {
		return nil, &models.DayError{Day: day, Stage: "load", Feature: f.String(), Err: err}
	}

	m := s.transform(raw, s.specs[f])

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok {
		m = cached
	} else {
		s.cache[key] = m
	}
	s.mu.Unlock()

	s.logger.Debug().
		Int("day", day).
		Str("feature", f.String()).
		Int("raw_towers", len(raw.Towers)).
		Int("towers", s.index.Len()).
		Msg("Feature matrix loaded")
	return m, nil
}

// LoadAll loads the four feature matrices of day.
func (s *Store) LoadAll(ctx context.Context, day int) (Set, error) {
	set := Set{Day: day, Matrices: make(map[Feature]*mat.SymDense, len(All))}
	for _, f := range All {
		m, err := s.Load(ctx, f, day)
		if err != nil {
			return Set{}, err
		}
		set.Matrices[f] = m
	}
	return set, nil
}

func (s *Store) transform(raw *RawMatrix, spec Spec) *mat.SymDense {
	values := mat.DenseCopyOf(raw.Values)
	if spec.Normalize {
		NormalizeRows(values)
	}
	if spec.Similarity {
		values.Apply(func(_, _ int, v float64) float64 { return 1 - v }, values)
	}

	// Project onto the index; towers absent from the raw header sit at
	// maximum distance from everything.
	n := s.index.Len()
	rawPos := make([]int, n)
	for i := range rawPos {
		rawPos[i] = -1
	}
	for j, id := range raw.Towers {
		if p, ok := s.index.Pos(id); ok {
			rawPos[p] = j
		}
	}
	projected := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ri, rj := rawPos[i], rawPos[j]
			if ri < 0 || rj < 0 {
				projected.Set(i, j, 1)
				continue
			}
			projected.Set(i, j, values.At(ri, rj))
		}
	}

	out := Symmetrize(projected)
	ZeroDiagonal(out)
	return out
}

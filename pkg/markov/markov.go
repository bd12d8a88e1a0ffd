// Package markov builds order-k transition tables over tower paths as
// running sums across days and predicts next stops from them.
package markov

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Config holds the Markov model settings.
type Config struct {
	// MaxOrder: tables are built for orders 1..MaxOrder.
	MaxOrder int
	// FallbackToPrior proposes the most visited unseen tower when the
	// context has no usable transition row.
	FallbackToPrior bool
}

func DefaultConfig() Config {
	return Config{MaxOrder: 3}
}

// Transition is a context window and the stop it is paired with.
type Transition struct {
	Context []towers.ID
	Next    towers.ID
}

// Transitions lists the training pairs of path. Order 1 pairs every stop
// with its successor. Higher orders pair path[i:i+order] with
// path[i+order+1], skipping the stop right after the window, and need more
// than order stops; the historical tables were built this way.
func Transitions(path []towers.ID, order int) []Transition {
	if order < 1 {
		return nil
	}
	if order == 1 {
		if len(path) < 2 {
			return nil
		}
		out := make([]Transition, 0, len(path)-1)
		for i := 0; i+1 < len(path); i++ {
			out = append(out, Transition{Context: path[i : i+1], Next: path[i+1]})
		}
		return out
	}
	if len(path) <= order {
		return nil
	}
	var out []Transition
	for i := 0; i < len(path)-order-1; i++ {
		out = append(out, Transition{Context: path[i : i+order], Next: path[i+order+1]})
	}
	return out
}

// keyer encodes a context as a mixed-radix number over tower positions.
type keyer struct {
	index *towers.Index
	order int
}

func newKeyer(index *towers.Index, order int) (keyer, error) {
	if order < 1 {
		return keyer{}, fmt.Errorf("%w: order %d", models.ErrInvalidParameter, order)
	}
	n := uint64(index.Len())
	if n == 0 {
		return keyer{}, fmt.Errorf("%w: empty tower index", models.ErrInvalidParameter)
	}
	space := uint64(1)
	for i := 0; i < order; i++ {
		hi, lo := bits.Mul64(space, n)
		if hi != 0 {
			return keyer{}, fmt.Errorf("%w: %d towers at order %d overflow the context key",
				models.ErrInvalidParameter, n, order)
		}
		space = lo
	}
	return keyer{index: index, order: order}, nil
}

// key returns the encoded context, or false when the context has the wrong
// length or holds a tower outside the index.
func (k keyer) key(ctx []towers.ID) (uint64, bool) {
	if len(ctx) != k.order {
		return 0, false
	}
	n := uint64(k.index.Len())
	var key uint64
	for _, id := range ctx {
		p, ok := k.index.Pos(id)
		if !ok {
			return 0, false
		}
		key = key*n + uint64(p)
	}
	return key, true
}

// Table is the immutable transition table of one (order, day): counts
// accumulated over every day up to and including Day.
type Table struct {
	Order int
	Day   int

	keys   keyer
	counts map[uint64]map[int]float64
	norms  map[uint64]float64
}

// Index returns the tower index the table is built over.
func (t *Table) Index() *towers.Index { return t.keys.index }

// Contexts returns the number of contexts with at least one transition.
func (t *Table) Contexts() int { return len(t.counts) }

// Count returns the accumulated number of ctx -> next transitions.
func (t *Table) Count(ctx []towers.ID, next towers.ID) float64 {
	key, ok := t.keys.key(ctx)
	if !ok {
		return 0
	}
	p, ok := t.keys.index.Pos(next)
	if !ok {
		return 0
	}
	return t.counts[key][p]
}

// Row returns the L2-normalized transition row of ctx over the index, or
// nil when the context was never seen.
func (t *Table) Row(ctx []towers.ID) []float64 {
	key, ok := t.keys.key(ctx)
	if !ok {
		return nil
	}
	row, ok := t.counts[key]
	if !ok {
		return nil
	}
	out := make([]float64, t.keys.index.Len())
	norm := t.norms[key]
	for p, c := range row {
		out[p] = c / norm
	}
	return out
}

// Predict returns the most likely next tower after ctx. Ties go to the
// lowest index position. Unseen contexts yield towers.NoTower.
func (t *Table) Predict(ctx []towers.ID) (towers.ID, bool) {
	key, ok := t.keys.key(ctx)
	if !ok {
		return towers.NoTower, false
	}
	best, bestCount := -1, 0.0
	for p, c := range t.counts[key] {
		if c > bestCount || (c == bestCount && c > 0 && p < best) {
			best, bestCount = p, c
		}
	}
	if best < 0 {
		return towers.NoTower, false
	}
	return t.keys.index.At(best), true
}

// accumulator holds the running transition counts while tables are built.
type accumulator struct {
	counts map[uint64]map[int]float64
}

func (a *accumulator) add(key uint64, next int) {
	row, ok := a.counts[key]
	if !ok {
		row = make(map[int]float64)
		a.counts[key] = row
	}
	row[next]++
}

// snapshot copies the current counts into an independent table.
func (a *accumulator) snapshot(keys keyer, order, day int) *Table {
	t := &Table{
		Order:  order,
		Day:    day,
		keys:   keys,
		counts: make(map[uint64]map[int]float64, len(a.counts)),
		norms:  make(map[uint64]float64, len(a.counts)),
	}
	for key, row := range a.counts {
		cp := make(map[int]float64, len(row))
		var sq float64
		for p, c := range row {
			cp[p] = c
			sq += c * c
		}
		t.counts[key] = cp
		t.norms[key] = math.Sqrt(sq)
	}
	return t
}

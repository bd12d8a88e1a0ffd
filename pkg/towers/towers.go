// Package towers holds the canonical cell-tower identifier and the ordered
// tower index that fixes row/column positions for every per-day matrix.
package towers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gilchrisn/cell-mobility/pkg/models"
)

// ID identifies a characteristic cell tower.
type ID int64

// NoTower is returned by predictors that have nothing to propose.
const NoTower ID = -1

// ParseID is the only place tower identifiers are coerced from text.
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	// numpy-style headers carry integral floats ("1234.0")
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID(v), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return NoTower, fmt.Errorf("%w: tower id %q", models.ErrInvalidParameter, s)
	}
	return ID(int64(f)), nil
}

// Index is an ordered, duplicate-free tower list. Position in the list is
// the row/column index used by every matrix built over it.
type Index struct {
	ids []ID
	pos map[ID]int
}

// NewIndex sorts and deduplicates ids.
func NewIndex(ids []ID) *Index {
	sorted := make([]ID, 0, len(ids))
	seen := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := &Index{ids: sorted, pos: make(map[ID]int, len(sorted))}
	for i, id := range sorted {
		idx.pos[id] = i
	}
	return idx
}

// Len returns the number of towers.
func (x *Index) Len() int { return len(x.ids) }

// At returns the tower at position i.
func (x *Index) At(i int) ID { return x.ids[i] }

// Pos returns the position of id.
func (x *Index) Pos(id ID) (int, bool) {
	p, ok := x.pos[id]
	return p, ok
}

// Contains reports whether id is part of the index.
func (x *Index) Contains(id ID) bool {
	_, ok := x.pos[id]
	return ok
}

// IDs returns a copy of the ordered tower list.
func (x *Index) IDs() []ID {
	out := make([]ID, len(x.ids))
	copy(out, x.ids)
	return out
}

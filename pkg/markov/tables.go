package markov

import (
	"fmt"

	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
	"github.com/gilchrisn/cell-mobility/pkg/trajectory"
)

// BuildTables folds the transitions of days first..last in ascending order
// and snapshots the running sum after each day. Transitions touching a
// tower outside index are skipped.
func BuildTables(byDay trajectory.ByDay, index *towers.Index, order, first, last int) (map[int]*Table, error) {
	if first > last {
		return nil, fmt.Errorf("%w: day range %d..%d", models.ErrInvalidParameter, first, last)
	}
	keys, err := newKeyer(index, order)
	if err != nil {
		return nil, err
	}

	acc := &accumulator{counts: make(map[uint64]map[int]float64)}
	tables := make(map[int]*Table, last-first+1)
	for day := first; day <= last; day++ {
		for _, t := range byDay[day] {
			for _, tr := range Transitions(t.Path(), order) {
				key, ok := keys.key(tr.Context)
				if !ok {
					continue
				}
				next, ok := index.Pos(tr.Next)
				if !ok {
					continue
				}
				acc.add(key, next)
			}
		}
		tables[day] = acc.snapshot(keys, order, day)
	}
	return tables, nil
}

// BuildVisitPriors counts, as a running sum over days first..last, how
// often every tower is visited. Each day's vector is L2-normalized.
func BuildVisitPriors(byDay trajectory.ByDay, index *towers.Index, first, last int) map[int][]float64 {
	running := make([]float64, index.Len())
	out := make(map[int][]float64, last-first+1)
	for day := first; day <= last; day++ {
		for _, t := range byDay[day] {
			for _, s := range t.Stops {
				if p, ok := index.Pos(s.Tower); ok {
					running[p]++
				}
			}
		}
		out[day] = features.NormalizeRow(running)
	}
	return out
}

package trajectory

import (
	"sort"

	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// ByDay groups trajectories by the day of their first stop.
type ByDay map[int][]Trajectory

// PartitionByDay groups ts by Day. Empty trajectories are dropped.
func PartitionByDay(ts []Trajectory) ByDay {
	out := make(ByDay)
	for _, t := range ts {
		if t.Len() == 0 {
			continue
		}
		out[t.Day()] = append(out[t.Day()], t)
	}
	return out
}

// Days returns the days present, ascending.
func (b ByDay) Days() []int {
	days := make([]int, 0, len(b))
	for d := range b {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// Paths returns the tower paths of day.
func (b ByDay) Paths(day int) [][]towers.ID {
	ts := b[day]
	out := make([][]towers.ID, len(ts))
	for i, t := range ts {
		out[i] = t.Path()
	}
	return out
}

// Count returns the number of trajectories across all days.
func (b ByDay) Count() int {
	n := 0
	for _, ts := range b {
		n += len(ts)
	}
	return n
}

// Package trajectory turns raw tower sightings into per-user, per-day
// paths of distinct consecutive stops.
package trajectory

import (
	"sort"
	"time"

	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// DefaultRepeatGap is how long a user must stay silent before a repeated
// sighting of the same tower counts as a new stop.
const DefaultRepeatGap = time.Minute

// Stop is one sighting of a user at a tower. Day is the day number of the
// record; At can roll into the next month when that day does not exist in
// the configured month, so Day is the partitioning key.
type Stop struct {
	Tower towers.ID
	At    time.Time
	Day   int
}

// DayOf returns s.Day, or the day of month of At when Day is unset.
func (s Stop) DayOf() int {
	if s.Day > 0 {
		return s.Day
	}
	return s.At.Day()
}

// Trajectory is a user's time-ordered stops. It is not modified after Build.
type Trajectory struct {
	User        string
	Nationality int
	Stops       []Stop
}

// Build sorts stops by time and collapses consecutive repeats of the same
// tower unless they are more than gap apart.
func Build(user string, nationality int, stops []Stop, gap time.Duration) Trajectory {
	sorted := make([]Stop, len(stops))
	copy(sorted, stops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At.Before(sorted[j].At) })

	return Trajectory{
		User:        user,
		Nationality: nationality,
		Stops:       Collapse(sorted, gap),
	}
}

// Collapse drops a stop that repeats the previous sighting's tower within
// gap. The gap is measured from the previous sighting, kept or not.
func Collapse(stops []Stop, gap time.Duration) []Stop {
	if len(stops) == 0 {
		return nil
	}
	out := []Stop{stops[0]}
	for i := 1; i < len(stops); i++ {
		prev, cur := stops[i-1], stops[i]
		if cur.Tower != prev.Tower || cur.At.Sub(prev.At) > gap {
			out = append(out, cur)
		}
	}
	return out
}

// Path returns the tower sequence.
func (t Trajectory) Path() []towers.ID {
	out := make([]towers.ID, len(t.Stops))
	for i, s := range t.Stops {
		out[i] = s.Tower
	}
	return out
}

// Len returns the number of stops.
func (t Trajectory) Len() int { return len(t.Stops) }

// Day is the record day of the first stop, or 0 for an empty trajectory.
func (t Trajectory) Day() int {
	if len(t.Stops) == 0 {
		return 0
	}
	return t.Stops[0].DayOf()
}

// Unique keeps the first occurrence of every tower, in order.
func Unique(path []towers.ID) []towers.ID {
	seen := make(map[towers.ID]struct{}, len(path))
	out := make([]towers.ID, 0, len(path))
	for _, id := range path {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

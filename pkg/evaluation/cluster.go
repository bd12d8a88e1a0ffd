package evaluation

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/features"
	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// groupIndex maps every tower of a clustering to its group.
type groupIndex map[towers.ID][]towers.ID

func indexGroups(c towers.Clustering) groupIndex {
	out := make(groupIndex, c.Len())
	for _, g := range c {
		for _, id := range g {
			out[id] = g
		}
	}
	return out
}

// CoMembership sums, over the clusterings of days first..last in every
// set, how often two towers share a group; a singleton counts against
// itself. Rows are L2-normalized. Towers outside index are ignored.
func CoMembership(index *towers.Index, first, last int, sets ...map[int]towers.Clustering) (*mat.Dense, error) {
	n := index.Len()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty tower index", models.ErrInvalidParameter)
	}
	out := mat.NewDense(n, n, nil)
	days := 0
	for _, set := range sets {
		for day := first; day <= last; day++ {
			c, ok := set[day]
			if !ok {
				continue
			}
			days++
			for id, group := range indexGroups(c) {
				i, ok := index.Pos(id)
				if !ok {
					continue
				}
				if len(group) == 1 {
					out.Set(i, i, out.At(i, i)+1)
					continue
				}
				for _, other := range group {
					j, ok := index.Pos(other)
					if !ok || j == i {
						continue
					}
					out.Set(i, j, out.At(i, j)+1)
				}
			}
		}
	}
	if days == 0 {
		return nil, fmt.Errorf("%w: no clustering in days %d..%d", models.ErrMissingData, first, last)
	}
	features.NormalizeRows(out)
	return out, nil
}

// ClusterModel predicts the other members of the cluster holding the last
// seen stop, using the clustering computed for the previous day. With
// several clustering sets the prediction is the union of the stop's
// clusters across sets (the combined clustering).
//
// A stop no clustering covers is excluded. A stop that is alone in every
// set predicts nothing and scores 0 with one set; with several sets it is
// excluded, since the union has no members to judge.
type ClusterModel struct {
	sets []map[int]groupIndex
}

// NewClusterModel indexes one or more day-keyed clustering sets.
func NewClusterModel(sets ...map[int]towers.Clustering) *ClusterModel {
	m := &ClusterModel{}
	for _, set := range sets {
		indexed := make(map[int]groupIndex, len(set))
		for day, c := range set {
			indexed[day] = indexGroups(c)
		}
		m.sets = append(m.sets, indexed)
	}
	return m
}

func (m *ClusterModel) PredictorFor(day int) (Predictor, error) {
	if len(m.sets) == 0 {
		return nil, fmt.Errorf("%w: no clusterings", models.ErrMissingData)
	}
	scope := make([]groupIndex, len(m.sets))
	for i, set := range m.sets {
		groups, ok := set[day-1]
		if !ok {
			return nil, fmt.Errorf("%w: no clustering for day %d", models.ErrMissingData, day-1)
		}
		scope[i] = groups
	}
	combined := len(scope) > 1

	return PredictorFunc(func(q Query) ([]towers.ID, error) {
		if len(q.Seen) == 0 {
			return nil, nil
		}
		last := q.Seen[len(q.Seen)-1]
		var out []towers.ID
		seen := map[towers.ID]struct{}{last: {}}
		known := false
		for _, groups := range scope {
			group, ok := groups[last]
			if !ok {
				continue
			}
			known = true
			for _, id := range group {
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: tower %d is not clustered", models.ErrDegenerateInput, last)
		}
		if combined && len(out) == 0 {
			return nil, fmt.Errorf("%w: tower %d is alone in every clustering", models.ErrDegenerateInput, last)
		}
		return out, nil
	}), nil
}

// ClusterVotes predicts the next stop from co-membership: every clustering
// in scope gives one vote to each tower sharing a group with the current
// stop (a singleton votes for itself), and the most voted tower wins.
// With Aggregate set, the clusterings of every earlier day are in scope,
// otherwise only the previous day's. Several clustering sets (for example
// learned and consensus) can vote together.
type ClusterVotes struct {
	Aggregate bool
	sets      []map[int]groupIndex
}

// NewClusterVotes indexes one or more day-keyed clustering sets.
func NewClusterVotes(aggregate bool, sets ...map[int]towers.Clustering) *ClusterVotes {
	cv := &ClusterVotes{Aggregate: aggregate}
	for _, set := range sets {
		indexed := make(map[int]groupIndex, len(set))
		for day, c := range set {
			indexed[day] = indexGroups(c)
		}
		cv.sets = append(cv.sets, indexed)
	}
	return cv
}

// Steps pairs every stop with the one that follows it.
func (cv *ClusterVotes) Steps(path []towers.ID) []Step {
	if len(path) < 2 {
		return nil
	}
	out := make([]Step, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		out = append(out, Step{Context: path[i : i+1], Next: path[i+1]})
	}
	return out
}

func (cv *ClusterVotes) StepPredictorFor(day int) (StepPredictor, error) {
	var scope []groupIndex
	for _, set := range cv.sets {
		if !cv.Aggregate {
			if g, ok := set[day-1]; ok {
				scope = append(scope, g)
			}
			continue
		}
		days := make([]int, 0, len(set))
		for d := range set {
			if d < day {
				days = append(days, d)
			}
		}
		sort.Ints(days)
		for _, d := range days {
			scope = append(scope, set[d])
		}
	}
	if len(scope) == 0 {
		return nil, fmt.Errorf("%w: no clustering before day %d", models.ErrMissingData, day)
	}

	return func(ctx []towers.ID) (towers.ID, error) {
		if len(ctx) == 0 {
			return towers.NoTower, fmt.Errorf("%w: empty context", models.ErrDegenerateInput)
		}
		cur := ctx[len(ctx)-1]
		votes := make(map[towers.ID]int)
		known := false
		for _, groups := range scope {
			group, ok := groups[cur]
			if !ok {
				continue
			}
			known = true
			if len(group) == 1 {
				votes[cur]++
				continue
			}
			for _, id := range group {
				if id != cur {
					votes[id]++
				}
			}
		}
		if !known {
			return towers.NoTower, fmt.Errorf("%w: tower %d is not clustered", models.ErrDegenerateInput, cur)
		}

		best, bestVotes := towers.NoTower, 0
		for id, v := range votes {
			if v > bestVotes || (v == bestVotes && id < best) {
				best, bestVotes = id, v
			}
		}
		return best, nil
	}, nil
}

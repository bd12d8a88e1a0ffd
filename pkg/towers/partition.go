package towers

// Clustering is a partition of an index into disjoint, non-empty groups.
type Clustering [][]ID

// Len returns the number of towers across all groups.
func (c Clustering) Len() int {
	n := 0
	for _, g := range c {
		n += len(g)
	}
	return n
}

// Membership maps every tower to the position of its group.
func (c Clustering) Membership() map[ID]int {
	out := make(map[ID]int, c.Len())
	for gi, g := range c {
		for _, id := range g {
			out[id] = gi
		}
	}
	return out
}

// GroupOf returns the group containing id, or nil.
func (c Clustering) GroupOf(id ID) []ID {
	for _, g := range c {
		for _, member := range g {
			if member == id {
				return g
			}
		}
	}
	return nil
}

// Singletons counts groups of size one.
func (c Clustering) Singletons() int {
	n := 0
	for _, g := range c {
		if len(g) == 1 {
			n++
		}
	}
	return n
}

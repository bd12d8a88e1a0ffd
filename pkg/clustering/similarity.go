package clustering

// Similarity measures how well two clusterings overlap. For every group of
// a the largest intersection with any group of b is summed; the sum is
// returned relative to the towers of a and of b.
func Similarity(a, b Clustering) (float64, float64) {
	na, nb := a.Len(), b.Len()
	if na == 0 || nb == 0 {
		return 0, 0
	}

	membership := b.Membership()
	overlap := 0
	for _, group := range a {
		counts := make(map[int]int)
		best := 0
		for _, id := range group {
			gi, ok := membership[id]
			if !ok {
				continue
			}
			counts[gi]++
			if counts[gi] > best {
				best = counts[gi]
			}
		}
		overlap += best
	}
	return float64(overlap) / float64(na), float64(overlap) / float64(nb)
}

package knn

import "github.com/gilchrisn/cell-mobility/pkg/towers"

// EditDistance is the Levenshtein distance between two tower sequences.
func EditDistance(a, b []towers.ID) float64 {
	if len(a) == 0 {
		return float64(len(b))
	}
	if len(b) == 0 {
		return float64(len(a))
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return float64(prev[len(b)])
}

// JaccardDistance is 1 - |A∩B| / |A∪B| over the tower sets of a and b.
func JaccardDistance(a, b []towers.ID) float64 {
	sa := make(map[towers.ID]struct{}, len(a))
	for _, id := range a {
		sa[id] = struct{}{}
	}
	sb := make(map[towers.ID]struct{}, len(b))
	for _, id := range b {
		sb[id] = struct{}{}
	}
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for id := range sa {
		if _, ok := sb[id]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return 1 - float64(inter)/float64(union)
}

package clustering

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"

	"github.com/gilchrisn/cell-mobility/pkg/models"
	"github.com/gilchrisn/cell-mobility/pkg/towers"
)

// Merge joins two clusters of the dendrogram. Leaves are numbered 0..n-1
// by index position; the cluster created by merge k is numbered n+k.
type Merge struct {
	A, B   int
	Height float64
	Size   int
}

// Dendrogram is the full merge history of an average-linkage run.
type Dendrogram struct {
	n      int
	merges []Merge
	// lowest leaf of every cluster, used as its graph representative
	rep []int
}

// Leaves returns the number of clustered items.
func (d *Dendrogram) Leaves() int { return d.n }

// Merges returns the merge history ordered by height.
func (d *Dendrogram) Merges() []Merge {
	out := make([]Merge, len(d.merges))
	copy(out, d.merges)
	return out
}

// Linkage runs average-linkage (UPGMA) agglomerative clustering on dist.
// Ties between candidate pairs resolve to the lowest cluster numbers.
func Linkage(dist mat.Symmetric) (*Dendrogram, error) {
	n := dist.SymmetricDim()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty distance matrix", models.ErrInvalidParameter)
	}

	// working distances between active clusters, indexed by slot
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			v := dist.At(i, j)
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: NaN distance at (%d,%d)", models.ErrInvalidParameter, i, j)
			}
			d[i][j] = v
		}
	}

	active := make([]bool, n)
	size := make([]int, n)
	label := make([]int, n) // slot -> cluster number
	rep := make([]int, 2*n-1)
	for i := 0; i < n; i++ {
		active[i] = true
		size[i] = 1
		label[i] = i
		rep[i] = i
	}

	merges := make([]Merge, 0, n-1)
	for step := 0; step < n-1; step++ {
		bi, bj := -1, -1
		best := math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if d[i][j] < best || bi < 0 {
					best, bi, bj = d[i][j], i, j
				}
			}
		}

		a, b := label[bi], label[bj]
		if a > b {
			a, b = b, a
		}
		merged := size[bi] + size[bj]
		merges = append(merges, Merge{A: a, B: b, Height: best, Size: merged})

		// Lance-Williams update for average linkage; the merged cluster
		// takes slot bi.
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			v := (float64(size[bi])*d[bi][k] + float64(size[bj])*d[bj][k]) / float64(merged)
			d[bi][k], d[k][bi] = v, v
		}
		active[bj] = false
		size[bi] = merged
		label[bi] = n + step
		rep[n+step] = min(rep[a], rep[b])
	}

	return &Dendrogram{n: n, merges: merges, rep: rep}, nil
}

// Cut flattens the dendrogram at height t: two leaves share a group when
// their cophenetic distance is at most t. Groups are ordered by their first
// position, members by position. index must be the index dist was built on.
func (d *Dendrogram) Cut(t float64, index *towers.Index) Clustering {
	g := simple.NewUndirectedGraph()
	for i := 0; i < d.n; i++ {
		g.AddNode(simple.Node(i))
	}
	for _, m := range d.merges {
		if m.Height > t {
			continue
		}
		g.SetEdge(g.NewEdge(simple.Node(d.rep[m.A]), simple.Node(d.rep[m.B])))
	}

	components := topo.ConnectedComponents(g)
	groups := make([][]int, 0, len(components))
	for _, comp := range components {
		pos := make([]int, len(comp))
		for i, node := range comp {
			pos[i] = int(node.ID())
		}
		sort.Ints(pos)
		groups = append(groups, pos)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	out := make(Clustering, len(groups))
	for gi, pos := range groups {
		ids := make([]towers.ID, len(pos))
		for i, p := range pos {
			ids[i] = index.At(p)
		}
		out[gi] = ids
	}
	return out
}

// Cluster runs Linkage on dist and cuts the result at t.
func Cluster(dist mat.Symmetric, index *towers.Index, t float64) (Clustering, error) {
	if dist.SymmetricDim() != index.Len() {
		return nil, fmt.Errorf("%w: matrix covers %d towers, index has %d",
			models.ErrInvalidParameter, dist.SymmetricDim(), index.Len())
	}
	dendrogram, err := Linkage(dist)
	if err != nil {
		return nil, err
	}
	return dendrogram.Cut(t, index), nil
}

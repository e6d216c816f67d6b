// Package cluster implements density based clustering in the manner of
// HDBSCAN: mutual reachability, a minimum spanning tree, a condensed cluster
// hierarchy and excess-of-mass selection.
package cluster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

// Params configures a clustering run.
type Params struct {
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size"`
	// MinSamples defaults to MinClusterSize when zero.
	MinSamples       int     `json:"min_samples,omitempty" yaml:"min_samples"`
	SelectionEpsilon float64 `json:"cluster_selection_epsilon" yaml:"cluster_selection_epsilon"`
	Alpha            float64 `json:"alpha" yaml:"alpha"`
}

// DefaultParams returns the clustering defaults for news topics.
func DefaultParams() Params {
	return Params{MinClusterSize: 15, Alpha: 1.0}
}

// Validate reports the first invalid field.
func (p Params) Validate() error {
	switch {
	case p.MinClusterSize < 2:
		return fmt.Errorf("min_cluster_size must be at least 2, got %d", p.MinClusterSize)
	case p.MinSamples < 0:
		return fmt.Errorf("min_samples cannot be negative, got %d", p.MinSamples)
	case p.SelectionEpsilon < 0:
		return fmt.Errorf("cluster_selection_epsilon cannot be negative, got %g", p.SelectionEpsilon)
	case p.Alpha <= 0:
		return fmt.Errorf("alpha must be positive, got %g", p.Alpha)
	}
	return nil
}

// Result holds one label per input row. Clusters is the number of distinct
// non-noise labels, which are 0..Clusters-1.
type Result struct {
	Labels   []int
	Clusters int
}

// Members lists the row indices of every cluster, in label order.
func (r Result) Members() [][]int {
	out := make([][]int, r.Clusters)
	for i, l := range r.Labels {
		if l != Noise {
			out[l] = append(out[l], i)
		}
	}
	return out
}

// Cluster partitions x. A result where every row is noise is valid.
func Cluster(x [][]float64, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	n := len(x)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	if n < 2 {
		return Result{Labels: labels}, nil
	}

	minSamples := p.MinSamples
	if minSamples == 0 {
		minSamples = p.MinClusterSize
	}
	minSamples = min(minSamples, n-1)

	core := coreDistances(x, minSamples)
	mst := primMST(x, core, p.Alpha)
	tree := singleLinkage(n, mst)
	ct := condense(tree, p.MinClusterSize)
	selected := ct.selectEOM()
	if p.SelectionEpsilon > 0 {
		selected = ct.epsilonSearch(selected, p.SelectionEpsilon)
	}

	k := ct.label(selected, labels)
	return Result{Labels: labels, Clusters: k}, nil
}

func coreDistances(x [][]float64, k int) []float64 {
	n := len(x)
	core := make([]float64, n)
	row := make([]float64, 0, n-1)
	for i := range x {
		row = row[:0]
		for j := range x {
			if i != j {
				row = append(row, floats.Distance(x[i], x[j], 2))
			}
		}
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

type edge struct {
	a, b int
	w    float64
}

// primMST builds the minimum spanning tree of the dense mutual reachability
// graph, sorted by weight.
func primMST(x [][]float64, core []float64, alpha float64) []edge {
	n := len(x)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]edge, 0, n-1)
	cur := 0
	inTree[cur] = true
	for range n - 1 {
		next := -1
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := floats.Distance(x[cur], x[j], 2) / alpha
			d = math.Max(d, math.Max(core[cur], core[j]))
			if d < best[j] {
				best[j] = d
				from[j] = cur
			}
			if next < 0 || best[j] < best[next] {
				next = j
			}
		}
		edges = append(edges, edge{a: from[next], b: next, w: best[next]})
		inTree[next] = true
		cur = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })
	return edges
}

package topics

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/DeafMist/topic-radar/internal/cluster"
)

const affinityTolerance = 1e-9

// Affinity holds sparse co-occurrence counts: for each pair of documents, the
// number of runs in which both were in the same cluster. Pairs that never
// co-occurred are absent.
type Affinity struct {
	runs   int
	counts map[uint64]int
}

func pairKey(i, j int) uint64 {
	if i > j {
		i, j = j, i
	}
	return uint64(i)<<32 | uint64(j)
}

func splitKey(k uint64) (int, int) { return int(k >> 32), int(k & 0xffffffff) }

// Tally returns the contribution of a single run. Noise contributes nothing.
func Tally(p cluster.Result) *Affinity {
	a := &Affinity{runs: 1, counts: make(map[uint64]int)}
	for _, members := range p.Members() {
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				a.counts[pairKey(members[x], members[y])]++
			}
		}
	}
	return a
}

// Merge adds other's counts and runs into a.
func (a *Affinity) Merge(other *Affinity) {
	a.runs += other.runs
	for k, c := range other.counts {
		a.counts[k] += c
	}
}

// Accumulate sums the per-run tallies of partitions.
func Accumulate(partitions []cluster.Result) *Affinity {
	total := &Affinity{counts: make(map[uint64]int)}
	for _, p := range partitions {
		total.Merge(Tally(p))
	}
	return total
}

// Runs is the number of partitions accumulated.
func (a *Affinity) Runs() int { return a.runs }

// Value is the fraction of runs in which i and j shared a cluster.
func (a *Affinity) Value(i, j int) float64 {
	if a.runs == 0 || i == j {
		return 0
	}
	return float64(a.counts[pairKey(i, j)]) / float64(a.runs)
}

// Group is a consolidated topic expressed as batch indices.
type Group struct {
	Members   []int
	Stability float64
}

// Consolidate links documents whose affinity is at least 1-delta and keeps
// the connected components with at least minSize members. Groups are ordered
// by size, largest first, then by their first member. Documents outside every
// group are returned as unassigned, in batch order.
func Consolidate(partitions []cluster.Result, n int, delta float64, minSize int) ([]Group, []int) {
	aff := Accumulate(partitions)
	threshold := 1 - delta - affinityTolerance

	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	if aff.Runs() > 0 {
		for k := range aff.counts {
			i, j := splitKey(k)
			if aff.Value(i, j) < threshold {
				continue
			}
			g.SetEdge(simple.Edge{F: simple.Node(i), T: simple.Node(j)})
		}
	}

	var groups []Group
	assigned := make([]bool, n)
	for _, comp := range topo.ConnectedComponents(g) {
		if len(comp) < minSize || len(comp) < 2 {
			continue
		}
		members := make([]int, len(comp))
		for i, node := range comp {
			members[i] = int(node.ID())
			assigned[members[i]] = true
		}
		sort.Ints(members)
		groups = append(groups, Group{Members: members, Stability: aff.meanPairwise(members)})
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Members) != len(groups[j].Members) {
			return len(groups[i].Members) > len(groups[j].Members)
		}
		return groups[i].Members[0] < groups[j].Members[0]
	})

	var unassigned []int
	for i, ok := range assigned {
		if !ok {
			unassigned = append(unassigned, i)
		}
	}
	return groups, unassigned
}

func (a *Affinity) meanPairwise(members []int) float64 {
	if len(members) < 2 || a.Runs() == 0 {
		return 0
	}
	sum, pairs := 0.0, 0
	for x := 0; x < len(members); x++ {
		for y := x + 1; y < len(members); y++ {
			sum += a.Value(members[x], members[y])
			pairs++
		}
	}
	return sum / float64(pairs)
}

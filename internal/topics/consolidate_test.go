package topics_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/topics"
)

func partition(labels ...int) cluster.Result {
	k := 0
	for _, l := range labels {
		if l+1 > k {
			k = l + 1
		}
	}
	return cluster.Result{Labels: labels, Clusters: k}
}

func repeat(p cluster.Result, n int) []cluster.Result {
	out := make([]cluster.Result, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func requireExactlyOnce(t *testing.T, n int, groups []topics.Group, unassigned []int) {
	t.Helper()
	seen := make([]int, n)
	for _, g := range groups {
		for _, m := range g.Members {
			seen[m]++
		}
	}
	for _, u := range unassigned {
		seen[u]++
	}
	for i, c := range seen {
		require.Equalf(t, 1, c, "document %d seen %d times", i, c)
	}
}

func TestConsolidateUnanimousRuns(t *testing.T) {
	// Run labels are permuted between runs; identity comes from co-membership only.
	parts := []cluster.Result{
		partition(0, 0, 0, 1, 1, 1, cluster.Noise),
		partition(1, 1, 1, 0, 0, 0, cluster.Noise),
		partition(2, 2, 2, 0, 0, 0, cluster.Noise),
	}

	groups, unassigned := topics.Consolidate(parts, 7, 0.001, 2)
	require.Len(t, groups, 2)
	require.Equal(t, []int{0, 1, 2}, groups[0].Members)
	require.Equal(t, []int{3, 4, 5}, groups[1].Members)
	require.Equal(t, 1.0, groups[0].Stability)
	require.Equal(t, 1.0, groups[1].Stability)
	require.Equal(t, []int{6}, unassigned)
	requireExactlyOnce(t, 7, groups, unassigned)
}

func TestConsolidateToleratesDisagreementWithinDelta(t *testing.T) {
	base := partition(0, 0, 0, 0, 0, cluster.Noise)
	parts := repeat(base, 30)
	// Document 4 drops to noise in one run out of 31.
	parts = append(parts, partition(0, 0, 0, 0, cluster.Noise, cluster.Noise))

	strict, unassigned := topics.Consolidate(parts, 6, 0.001, 3)
	require.Len(t, strict, 1)
	require.Equal(t, []int{0, 1, 2, 3}, strict[0].Members)
	require.Equal(t, 1.0, strict[0].Stability)
	require.Equal(t, []int{4, 5}, unassigned)

	loose, unassigned := topics.Consolidate(parts, 6, 0.05, 3)
	require.Len(t, loose, 1)
	require.Equal(t, []int{0, 1, 2, 3, 4}, loose[0].Members)
	require.Equal(t, []int{5}, unassigned)

	// 6 of 10 pairs agree in every run, 4 pairs in 30 of 31.
	want := (6*31.0 + 4*30.0) / (10 * 31.0)
	require.InDelta(t, want, loose[0].Stability, 1e-12)
}

func TestConsolidateMinSizeFloor(t *testing.T) {
	parts := repeat(partition(0, 0, 1, 1, 1, 1), 3)

	groups, unassigned := topics.Consolidate(parts, 6, 0.001, 3)
	require.Len(t, groups, 1)
	require.Equal(t, []int{2, 3, 4, 5}, groups[0].Members)
	require.Equal(t, []int{0, 1}, unassigned)

	groups, unassigned = topics.Consolidate(parts, 6, 0.001, 10)
	require.Empty(t, groups)
	require.Len(t, unassigned, 6)
}

func TestConsolidateNoPartitions(t *testing.T) {
	groups, unassigned := topics.Consolidate(nil, 4, 0.001, 2)
	require.Empty(t, groups)
	require.Equal(t, []int{0, 1, 2, 3}, unassigned)
}

func TestConsolidateSingleRunStabilityIsBinary(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	labels := make([]int, 60)
	for i := range labels {
		labels[i] = rng.IntN(5) - 1
	}
	parts := []cluster.Result{partition(labels...)}

	groups, unassigned := topics.Consolidate(parts, len(labels), 0.001, 2)
	require.NotEmpty(t, groups)
	for _, g := range groups {
		require.True(t, g.Stability == 0 || g.Stability == 1)
	}
	requireExactlyOnce(t, len(labels), groups, unassigned)
}

func TestConsolidateMonotonicInDelta(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	const n, runs = 40, 11
	var parts []cluster.Result
	for range runs {
		labels := make([]int, n)
		for i := range labels {
			// Mostly stable structure with random flips.
			labels[i] = i / 10
			if rng.Float64() < 0.15 {
				labels[i] = rng.IntN(5) - 1
			}
		}
		parts = append(parts, partition(labels...))
	}

	deltas := []float64{0, 0.001, 0.05, 0.1, 0.2, 0.3, 0.5, 0.9}
	prev, _ := topics.Consolidate(parts, n, deltas[0], 3)
	for _, delta := range deltas[1:] {
		next, unassigned := topics.Consolidate(parts, n, delta, 3)
		requireExactlyOnce(t, n, next, unassigned)
		owner := make(map[int]int)
		for gi, g := range next {
			for _, m := range g.Members {
				owner[m] = gi
			}
		}
		for _, g := range prev {
			first, ok := owner[g.Members[0]]
			require.True(t, ok)
			for _, m := range g.Members {
				require.Equal(t, first, owner[m], "topic split when delta grew to %g", delta)
			}
			require.GreaterOrEqual(t, len(next[first].Members), len(g.Members))
		}
		prev = next
	}
}

func TestTallyMergeMatchesAccumulate(t *testing.T) {
	a := partition(0, 0, 1, 1, cluster.Noise)
	b := partition(0, 1, 1, 1, 0)

	merged := topics.Tally(a)
	merged.Merge(topics.Tally(b))
	total := topics.Accumulate([]cluster.Result{a, b})

	require.Equal(t, 2, merged.Runs())
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			require.Equal(t, total.Value(i, j), merged.Value(i, j))
		}
	}
	require.Equal(t, 0.5, total.Value(0, 1))
	require.Equal(t, 1.0, total.Value(2, 3))
	require.Equal(t, 0.5, total.Value(0, 4))
	require.Equal(t, 0.0, total.Value(4, 4))
}

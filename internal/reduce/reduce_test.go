package reduce_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/topic-radar/internal/reduce"
)

func blobs(seed uint64, sizes []int, dim int, sep, spread float64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	var out [][]float64
	for c, size := range sizes {
		for range size {
			row := make([]float64, dim)
			for d := range row {
				row[d] = rng.NormFloat64() * spread
			}
			row[c%dim] += sep
			out = append(out, row)
		}
	}
	return out
}

// project builds the graph of x and lays it out with seed.
func project(x [][]float64, p reduce.Params, seed uint64) ([][]float64, error) {
	g, err := reduce.BuildGraph(x, p)
	if err != nil {
		return nil, err
	}
	a, b := p.Curve()
	return reduce.Layout(context.Background(), g, p, a, b, seed)
}

func TestReduceRejectsLargeNeighborhood(t *testing.T) {
	x := blobs(1, []int{5}, 4, 0, 1)
	p := reduce.DefaultParams()
	p.NNeighbors = 5

	_, err := project(x, p, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, reduce.ErrTooFewDocuments))

	var perr *reduce.ParameterError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "n_neighbors", perr.Param)
}

func TestReduceRejectsUnknownMetric(t *testing.T) {
	x := blobs(1, []int{20}, 4, 0, 1)
	p := reduce.DefaultParams()
	p.Metric = "hamming"

	_, err := project(x, p, 1)
	require.ErrorIs(t, err, reduce.ErrUnsupportedMetric)

	var perr *reduce.ParameterError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "must be one of chebyshev, cosine, euclidean, manhattan", perr.Reason)
}

func TestReduceShapeAndDeterminism(t *testing.T) {
	x := blobs(2, []int{20, 20}, 8, 10, 0.5)
	p := reduce.DefaultParams()
	p.NNeighbors = 5
	p.NComponents = 3
	p.Epochs = 50

	first, err := project(x, p, 7)
	require.NoError(t, err)
	require.Len(t, first, len(x))
	for _, row := range first {
		require.Len(t, row, 3)
	}

	second, err := project(x, p, 7)
	require.NoError(t, err)
	require.Equal(t, first, second)

	other, err := project(x, p, 8)
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestReduceKeepsBlobsApart(t *testing.T) {
	x := blobs(3, []int{30, 30}, 10, 20, 0.5)
	p := reduce.DefaultParams()
	p.Metric = reduce.Euclidean
	p.NNeighbors = 10
	p.NComponents = 2

	emb, err := project(x, p, 11)
	require.NoError(t, err)

	centroid := func(rows [][]float64) []float64 {
		c := make([]float64, len(rows[0]))
		for _, r := range rows {
			for d, v := range r {
				c[d] += v / float64(len(rows))
			}
		}
		return c
	}
	spread := func(rows [][]float64, c []float64) float64 {
		max := 0.0
		for _, r := range rows {
			max = math.Max(max, math.Hypot(r[0]-c[0], r[1]-c[1]))
		}
		return max
	}
	ca, cb := centroid(emb[:30]), centroid(emb[30:])
	between := math.Hypot(ca[0]-cb[0], ca[1]-cb[1])
	require.Greater(t, between, spread(emb[:30], ca))
	require.Greater(t, between, spread(emb[30:], cb))
}

func TestBuildGraphEdges(t *testing.T) {
	x := blobs(4, []int{25}, 6, 0, 1)
	p := reduce.DefaultParams()
	p.NNeighbors = 5

	g, err := reduce.BuildGraph(x, p)
	require.NoError(t, err)
	require.Equal(t, len(x), g.N)
	require.NotEmpty(t, g.Weights)
	for i := range g.Weights {
		require.Less(t, g.Heads[i], g.Tails[i])
		require.Greater(t, g.Weights[i], 0.0)
		require.LessOrEqual(t, g.Weights[i], 1.0)
	}
}

func TestFitABMatchesReferenceCurve(t *testing.T) {
	tests := []struct {
		name            string
		spread, minDist float64
		a, b            float64
	}{
		{name: "default", spread: 1, minDist: 0.1, a: 1.577, b: 0.895},
		{name: "tight", spread: 1, minDist: 0.001, a: 1.929, b: 0.791},
		{name: "loose", spread: 1, minDist: 0.5, a: 0.583, b: 1.334},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := reduce.FitAB(tt.spread, tt.minDist)
			require.InDelta(t, tt.a, a, 0.05)
			require.InDelta(t, tt.b, b, 0.05)

			again, bAgain := reduce.FitAB(tt.spread, tt.minDist)
			require.Equal(t, a, again)
			require.Equal(t, b, bAgain)
		})
	}
}

func TestMetrics(t *testing.T) {
	tests := []struct {
		metric string
		a, b   []float64
		want   float64
	}{
		{metric: reduce.Euclidean, a: []float64{0, 0}, b: []float64{3, 4}, want: 5},
		{metric: reduce.Manhattan, a: []float64{0, 0}, b: []float64{3, 4}, want: 7},
		{metric: reduce.Chebyshev, a: []float64{0, 0}, b: []float64{3, 4}, want: 4},
		{metric: reduce.Cosine, a: []float64{1, 0}, b: []float64{0, 2}, want: 1},
		{metric: reduce.Cosine, a: []float64{1, 1}, b: []float64{2, 2}, want: 0},
		{metric: reduce.Cosine, a: []float64{0, 0}, b: []float64{1, 2}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			fn, err := reduce.MetricFor(tt.metric)
			require.NoError(t, err)
			require.InDelta(t, tt.want, fn(tt.a, tt.b), 1e-9)
		})
	}

	require.Equal(t, []string{"chebyshev", "cosine", "euclidean", "manhattan"}, reduce.SupportedMetrics())
}

func TestBuildGraphPCAInit(t *testing.T) {
	// Two blobs separated along the first axis: the leading component of the
	// initial layout separates them and the layout fits the init range.
	x := blobs(5, []int{20, 20}, 6, 30, 0.5)
	p := reduce.DefaultParams()
	p.Metric = reduce.Euclidean
	p.NNeighbors = 5
	p.NComponents = 2

	g, err := reduce.BuildGraph(x, p)
	require.NoError(t, err)
	require.Len(t, g.Init, len(x))

	first := g.Init[0][0]
	maxAbs := 0.0
	for i, row := range g.Init {
		require.Len(t, row, 2)
		sameSide := (row[0] > 0) == (first > 0)
		require.Equal(t, i < 20, sameSide, "row %d", i)
		for _, v := range row {
			maxAbs = math.Max(maxAbs, math.Abs(v))
		}
	}
	require.InDelta(t, 10, maxAbs, 1e-9)

	p.Init = reduce.InitRandom
	g, err = reduce.BuildGraph(x, p)
	require.NoError(t, err)
	require.Nil(t, g.Init)
}

func TestBuildGraphPCAInitPadsMissingComponents(t *testing.T) {
	// Two-dimensional input cannot supply a third principal axis.
	x := blobs(6, []int{12}, 2, 0, 1)
	p := reduce.DefaultParams()
	p.Metric = reduce.Euclidean
	p.NNeighbors = 4
	p.NComponents = 3

	g, err := reduce.BuildGraph(x, p)
	require.NoError(t, err)
	for _, row := range g.Init {
		require.Len(t, row, 3)
		require.Zero(t, row[2])
	}
}

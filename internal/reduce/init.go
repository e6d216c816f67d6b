package reduce

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Layout initialisation strategies.
const (
	InitPCA    = "pca"
	InitRandom = "random"
)

// principalProjection projects x onto its first k principal axes. Axes
// beyond the rank available from x stay zero. It returns nil when the
// decomposition fails, which leaves the layout to random initialisation.
func principalProjection(x [][]float64, k int) [][]float64 {
	n, dim := len(x), len(x[0])
	data := mat.NewDense(n, dim, nil)
	for i, row := range x {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return nil
	}
	var axes mat.Dense
	pc.VectorsTo(&axes)
	_, available := axes.Dims()
	use := min(k, available)

	means := make([]float64, dim)
	for d := range means {
		means[d] = stat.Mean(mat.Col(nil, d, data), nil)
	}
	for i := range n {
		floats.Sub(data.RawRowView(i), means)
	}

	var proj mat.Dense
	proj.Mul(data, axes.Slice(0, dim, 0, use))

	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, k)
		copy(row, proj.RawRowView(i))
		out[i] = row
	}
	return out
}

// scaleToRange rescales rows in place so that the largest absolute coordinate is limit.
func scaleToRange(rows [][]float64, limit float64) {
	peak := 0.0
	for _, row := range rows {
		for _, v := range row {
			peak = math.Max(peak, math.Abs(v))
		}
	}
	if peak == 0 {
		return
	}
	for _, row := range rows {
		floats.Scale(limit/peak, row)
	}
}

package reduce

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/optimize"
)

const (
	initRange          = 10.0
	initJitter         = 1e-4
	negativeSampleRate = 5
	initialAlpha       = 1.0
	gradClip           = 4.0
	repulsionEpsilon   = 0.001

	// Curve coefficients for spread 1 and min_dist 0.1, used when the fit fails.
	defaultCurveA = 1.577
	defaultCurveB = 0.895
)

// FitAB fits the curve 1/(1+a*x^(2b)) to the offset exponential defined by
// spread and minDist by least squares, minimised with Nelder-Mead over
// log a and log b. The fit is deterministic.
func FitAB(spread, minDist float64) (a, b float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3 * spread * float64(i) / float64(samples-1)
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	problem := optimize.Problem{
		Func: func(v []float64) float64 {
			ca, cb := math.Exp(v[0]), math.Exp(v[1])
			sum := 0.0
			for i, x := range xs {
				d := 1/(1+ca*math.Pow(x, 2*cb)) - ys[i]
				sum += d * d
			}
			return sum
		},
	}
	// An error with a result still carries the best point found.
	res, _ := optimize.Minimize(problem, []float64{0, 0}, nil, &optimize.NelderMead{})
	if res == nil || len(res.X) != 2 {
		return defaultCurveA, defaultCurveB
	}
	return math.Exp(res.X[0]), math.Exp(res.X[1])
}

// Layout embeds g into p.NComponents dimensions. The result depends only on
// g, p, a, b and seed. Cancelling ctx stops the optimisation between epochs.
func Layout(ctx context.Context, g *Graph, p Params, a, b float64, seed uint64) ([][]float64, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	dim := p.NComponents

	emb := make([][]float64, g.N)
	for i := range emb {
		row := make([]float64, dim)
		for d := range row {
			if g.Init != nil {
				row[d] = g.Init[i][d] + rng.NormFloat64()*initJitter
			} else {
				row[d] = rng.Float64()*2*initRange - initRange
			}
		}
		emb[i] = row
	}
	if len(g.Weights) == 0 {
		return emb, nil
	}

	nEpochs := p.epochs(g.N)
	maxW := 0.0
	for _, w := range g.Weights {
		maxW = math.Max(maxW, w)
	}
	m := len(g.Weights)
	perSample := make([]float64, m)
	nextSample := make([]float64, m)
	perNegative := make([]float64, m)
	nextNegative := make([]float64, m)
	for i, w := range g.Weights {
		perSample[i] = maxW / w
		nextSample[i] = perSample[i]
		perNegative[i] = perSample[i] / negativeSampleRate
		nextNegative[i] = perNegative[i]
	}

	alpha := initialAlpha
	for epoch := 0; epoch < nEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := float64(epoch)
		for e := 0; e < m; e++ {
			if nextSample[e] > n {
				continue
			}
			cur, other := emb[g.Heads[e]], emb[g.Tails[e]]
			distSq := sqDist(cur, other)
			coeff := 0.0
			if distSq > 0 {
				coeff = -2 * a * b * math.Pow(distSq, b-1) / (a*math.Pow(distSq, b) + 1)
			}
			for d := range cur {
				grad := clip(coeff * (cur[d] - other[d]))
				cur[d] += grad * alpha
				other[d] -= grad * alpha
			}
			nextSample[e] += perSample[e]

			nNeg := int((n - nextNegative[e]) / perNegative[e])
			for range nNeg {
				k := rng.IntN(g.N)
				if k == g.Heads[e] {
					continue
				}
				other := emb[k]
				distSq := sqDist(cur, other)
				coeff := 0.0
				if distSq > 0 {
					coeff = 2 * b / ((repulsionEpsilon + distSq) * (a*math.Pow(distSq, b) + 1))
				}
				for d := range cur {
					grad := gradClip
					if coeff > 0 {
						grad = clip(coeff * (cur[d] - other[d]))
					}
					cur[d] += grad * alpha
				}
			}
			if nNeg > 0 {
				nextNegative[e] += float64(nNeg) * perNegative[e]
			}
		}
		alpha = initialAlpha * (1 - float64(epoch+1)/float64(nEpochs))
	}
	return emb, nil
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func clip(v float64) float64 {
	if v > gradClip {
		return gradClip
	}
	if v < -gradClip {
		return -gradClip
	}
	return v
}

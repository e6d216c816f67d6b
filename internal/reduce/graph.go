package reduce

import (
	"fmt"
	"math"
	"sort"
)

const (
	smoothKTolerance = 1e-5
	smoothKIters     = 64
	minKDistScale    = 1e-3
)

// Graph is the symmetric fuzzy neighbourhood graph of a batch. Each undirected
// edge is stored once with Head < Tail. Init holds the deterministic starting
// layout when PCA initialisation is requested. A Graph is never mutated after
// BuildGraph returns, so concurrent Layout calls may share it.
type Graph struct {
	N       int
	Heads   []int
	Tails   []int
	Weights []float64
	Init    [][]float64
}

type neighbor struct {
	idx  int
	dist float64
}

// BuildGraph computes the exact k-nearest-neighbour graph of x and turns it
// into fuzzy memberships. It fails with a ParameterError when x has no more
// rows than p.NNeighbors.
func BuildGraph(x [][]float64, p Params) (*Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := len(x)
	if p.NNeighbors >= n {
		return nil, &ParameterError{
			Param:  "n_neighbors",
			Value:  p.NNeighbors,
			Reason: fmt.Sprintf("must be smaller than the number of documents (%d)", n),
			Err:    ErrTooFewDocuments,
		}
	}
	dist, _ := MetricFor(p.Metric)
	dim := len(x[0])
	for i, row := range x {
		if len(row) != dim {
			return nil, &ParameterError{Param: "embedding", Value: i, Reason: fmt.Sprintf("dimension %d, want %d", len(row), dim)}
		}
	}

	knn := nearestNeighbors(x, p.NNeighbors, dist)

	type pair struct{ ab, ba float64 }
	directed := make(map[uint64]*pair, n*p.NNeighbors)
	target := math.Log2(float64(p.NNeighbors))
	for i, nbrs := range knn {
		rho, sigma := smoothKNNDist(nbrs, target)
		for _, nb := range nbrs {
			w := 1.0
			if d := nb.dist - rho; d > 0 {
				w = math.Exp(-d / sigma)
			}
			lo, hi := i, nb.idx
			key := edgeKey(lo, hi)
			if lo > hi {
				key = edgeKey(hi, lo)
			}
			e, ok := directed[key]
			if !ok {
				e = &pair{}
				directed[key] = e
			}
			if lo < hi {
				e.ab = w
			} else {
				e.ba = w
			}
		}
	}

	keys := make([]uint64, 0, len(directed))
	maxW := 0.0
	for k, e := range directed {
		keys = append(keys, k)
		if w := e.ab + e.ba - e.ab*e.ba; w > maxW {
			maxW = w
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	floor := maxW / float64(p.epochs(n))
	g := &Graph{N: n}
	if p.Init != InitRandom {
		g.Init = principalProjection(x, p.NComponents)
		scaleToRange(g.Init, initRange)
	}
	for _, k := range keys {
		e := directed[k]
		w := e.ab + e.ba - e.ab*e.ba
		if w <= 0 || w < floor {
			continue
		}
		g.Heads = append(g.Heads, int(k>>32))
		g.Tails = append(g.Tails, int(k&0xffffffff))
		g.Weights = append(g.Weights, w)
	}
	return g, nil
}

func edgeKey(i, j int) uint64 { return uint64(i)<<32 | uint64(j) }

// nearestNeighbors returns, per row, the k closest other rows ordered by
// distance with ties broken by index.
func nearestNeighbors(x [][]float64, k int, dist DistanceFunc) [][]neighbor {
	out := make([][]neighbor, len(x))
	cand := make([]neighbor, 0, len(x)-1)
	for i := range x {
		cand = cand[:0]
		for j := range x {
			if i == j {
				continue
			}
			cand = append(cand, neighbor{idx: j, dist: dist(x[i], x[j])})
		}
		sort.Slice(cand, func(a, b int) bool {
			if cand[a].dist == cand[b].dist {
				return cand[a].idx < cand[b].idx
			}
			return cand[a].dist < cand[b].dist
		})
		row := make([]neighbor, k)
		copy(row, cand[:k])
		out[i] = row
	}
	return out
}

// smoothKNNDist finds the local connectivity distance rho and the bandwidth
// sigma such that the memberships of nbrs sum to target.
func smoothKNNDist(nbrs []neighbor, target float64) (rho, sigma float64) {
	mean := 0.0
	for _, nb := range nbrs {
		mean += nb.dist
		if rho == 0 && nb.dist > 0 {
			rho = nb.dist
		}
	}
	mean /= float64(len(nbrs))

	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for range smoothKIters {
		psum := 0.0
		for _, nb := range nbrs {
			if d := nb.dist - rho; d > 0 {
				psum += math.Exp(-d / mid)
			} else {
				psum++
			}
		}
		if math.Abs(psum-target) < smoothKTolerance {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}

	sigma = mid
	if floor := minKDistScale * mean; sigma < floor {
		sigma = floor
	}
	if sigma == 0 {
		sigma = minKDistScale
	}
	return rho, sigma
}

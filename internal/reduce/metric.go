package reduce

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Supported distance metrics.
const (
	Euclidean = "euclidean"
	Cosine    = "cosine"
	Manhattan = "manhattan"
	Chebyshev = "chebyshev"
)

// DistanceFunc measures the dissimilarity of two equal-length vectors.
type DistanceFunc func(a, b []float64) float64

var metrics = map[string]DistanceFunc{
	Euclidean: func(a, b []float64) float64 { return floats.Distance(a, b, 2) },
	Manhattan: func(a, b []float64) float64 { return floats.Distance(a, b, 1) },
	Chebyshev: func(a, b []float64) float64 { return floats.Distance(a, b, math.Inf(1)) },
	Cosine:    cosineDistance,
}

// MetricFor resolves a metric name to its distance function.
func MetricFor(name string) (DistanceFunc, error) {
	fn, ok := metrics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMetric, name)
	}
	return fn, nil
}

// SupportedMetrics lists the accepted metric names in lexical order.
func SupportedMetrics() []string {
	out := make([]string, 0, len(metrics))
	for name := range metrics {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 && nb == 0 {
		return 0
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

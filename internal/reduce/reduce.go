// Package reduce projects high-dimensional embeddings into a low-dimensional
// space that keeps local neighbourhoods intact, in the manner of UMAP.
//
// The projection is split in two phases. BuildGraph computes the fuzzy
// nearest-neighbour graph, which depends only on the input. Layout embeds that
// graph with seeded stochastic gradient descent, so one graph can be shared by
// runs that differ only in their seed.
package reduce

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTooFewDocuments is returned when the batch cannot support the requested neighbourhood.
	ErrTooFewDocuments = errors.New("too few documents for neighbourhood size")
	// ErrUnsupportedMetric is returned for metric names outside SupportedMetrics.
	ErrUnsupportedMetric = errors.New("unsupported metric")
)

// ParameterError reports parameters that are infeasible for a particular input.
type ParameterError struct {
	Param  string
	Value  any
	Reason string
	Err    error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("reduce: %s=%v: %s", e.Param, e.Value, e.Reason)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// Params configures the projection.
type Params struct {
	NNeighbors  int     `json:"n_neighbors" yaml:"n_neighbors"`
	MinDist     float64 `json:"min_dist" yaml:"min_dist"`
	NComponents int     `json:"n_components" yaml:"n_components"`
	Metric      string  `json:"metric" yaml:"metric"`
	// Epochs of the layout optimisation; 0 picks a size-dependent default.
	Epochs int `json:"epochs,omitempty" yaml:"epochs"`
	// Spread is the effective scale of embedded points; 0 means 1.
	Spread float64 `json:"spread,omitempty" yaml:"spread"`
	// Init selects the starting layout, InitPCA when empty.
	Init string `json:"init,omitempty" yaml:"init"`
}

// DefaultParams mirrors the defaults used for news topic modelling.
func DefaultParams() Params {
	return Params{
		NNeighbors:  15,
		MinDist:     0.1,
		NComponents: 5,
		Metric:      Cosine,
	}
}

// Validate checks parameters that do not depend on the input size.
func (p Params) Validate() error {
	if p.NNeighbors < 2 {
		return &ParameterError{Param: "n_neighbors", Value: p.NNeighbors, Reason: "must be at least 2"}
	}
	if p.MinDist < 0 {
		return &ParameterError{Param: "min_dist", Value: p.MinDist, Reason: "cannot be negative"}
	}
	if p.NComponents < 1 {
		return &ParameterError{Param: "n_components", Value: p.NComponents, Reason: "must be positive"}
	}
	if p.Epochs < 0 {
		return &ParameterError{Param: "epochs", Value: p.Epochs, Reason: "cannot be negative"}
	}
	if p.Spread < 0 {
		return &ParameterError{Param: "spread", Value: p.Spread, Reason: "cannot be negative"}
	}
	switch p.Init {
	case "", InitPCA, InitRandom:
	default:
		return &ParameterError{Param: "init", Value: p.Init, Reason: "must be pca or random"}
	}
	if _, err := MetricFor(p.Metric); err != nil {
		reason := "must be one of " + strings.Join(SupportedMetrics(), ", ")
		return &ParameterError{Param: "metric", Value: p.Metric, Reason: reason, Err: err}
	}
	return nil
}

func (p Params) spread() float64 {
	if p.Spread == 0 {
		return 1
	}
	return p.Spread
}

func (p Params) epochs(n int) int {
	if p.Epochs > 0 {
		return p.Epochs
	}
	if n <= 10000 {
		return 500
	}
	return 200
}

// Curve returns the a and b coefficients of the low-dimensional similarity curve.
func (p Params) Curve() (a, b float64) {
	return FitAB(p.spread(), p.MinDist)
}

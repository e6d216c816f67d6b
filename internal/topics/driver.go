package topics

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/topic-radar/internal/cluster"
	"github.com/DeafMist/topic-radar/internal/reduce"
)

// RunResult is the outcome of one reduce+cluster repetition.
type RunResult struct {
	Run       int
	Seed      uint64
	Partition cluster.Result
	Err       error
}

// RunRepeated executes p.Reps independent reduce+cluster runs over x with
// seeds p.Seed+run. Failures are reported per run and never stop other runs.
// Results are indexed by run, whatever the scheduling.
func RunRepeated(ctx context.Context, x [][]float64, p Params) []RunResult {
	results := make([]RunResult, p.Reps)
	for i := range results {
		results[i] = RunResult{Run: i, Seed: p.Seed + uint64(i)}
	}

	// The neighbourhood graph does not depend on the seed, so it is shared
	// read-only by every run.
	graph, err := reduce.BuildGraph(x, p.Reduce)
	if err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}
	a, b := p.Reduce.Curve()

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				r.Err = err
				return nil
			}
			emb, err := reduce.Layout(ctx, graph, p.Reduce, a, b, r.Seed)
			if err != nil {
				r.Err = err
				return nil
			}
			r.Partition, r.Err = cluster.Cluster(emb, p.Cluster)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Package workpool is the bounded goroutine pool the integrator's Phase C
// (per-voxel TSDF update) and the extractor's triangle-emission pass run
// on, sized with runtime.NumCPU() by default. The per-goroutine batch
// size is chosen with WilliamsBatchSize, an O(√n·log₂n) heuristic that
// sizes how many blocks each worker claims per turn, so the number of
// batches grows sublinearly in n. For n up to 22 the batch covers the
// whole range, so a single worker processes every index.
package workpool

import (
	"math"
	"runtime"
	"sync"
)

// Pool runs bounded-concurrency fork-join work over an index range.
type Pool struct {
	workers int
}

// New creates a Pool with the given worker count. A non-positive count
// falls back to runtime.NumCPU().
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the pool's configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// WilliamsBatchSize computes the per-worker batch size for n items of
// work: ceil(√n · log₂(n+1)), floored at 1 so small n never rounds to a
// degenerate zero-size batch.
func WilliamsBatchSize(n int) int {
	if n <= 1 {
		return 1
	}
	batch := int(math.Ceil(math.Sqrt(float64(n)) * math.Log2(float64(n+1))))
	if batch < 1 {
		batch = 1
	}
	if batch > n {
		batch = n
	}
	return batch
}

// ForEachIndex calls fn(i) for every i in [0, n), distributing indices
// across p.Workers() goroutines in WilliamsBatchSize-sized batches, and
// blocks until every call returns (a fork-join barrier via
// sync.WaitGroup). The first non-nil error from any call is returned;
// other goroutines still run to completion before ForEachIndex returns.
func (p *Pool) ForEachIndex(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	batchSize := WilliamsBatchSize(n)
	type batch struct{ start, end int }
	batches := make(chan batch, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		batches <- batch{start, end}
	}
	close(batches)

	workers := p.workers
	if workers > n {
		workers = n
	}

	errs := make(chan error, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for b := range batches {
				for i := b.start; i < b.end; i++ {
					if err := fn(i); err != nil {
						errs <- err
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Package workpool runs a batch of independent jobs on a bounded number of goroutines,
// and returns their results in submission order.
package workpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool is a bounded set of workers. A Pool holds no goroutines between calls, so the
// zero value, a nil *Pool, and a shared Pool are all fine to use from many callers at once.
type Pool struct {
	Workers int // Maximum number of jobs in flight. Zero means GOMAXPROCS.
}

func New(workers int) *Pool {
	return &Pool{Workers: workers}
}

func (p *Pool) limit(n int) int {
	w := 0
	if p != nil {
		w = p.Workers
	}
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(1, min(w, n))
}

// Map runs fn(i, inputs[i]) for every input, and returns the outputs indexed the same as inputs,
// regardless of the order in which jobs finish.
// If any job fails, Map returns the first error, and the partial results are discarded.
// Jobs that have not yet started when the error occurs are skipped.
func Map[In, Out any](p *Pool, inputs []In, fn func(i int, in In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(inputs))
	if len(inputs) == 0 {
		return out, nil
	}
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(p.limit(len(inputs)))
	for i := range inputs {
		g.Go(func() error {
			if ctx.Err() != nil {
				// An earlier job failed
				return nil
			}
			r, err := fn(i, inputs[i])
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Each is Map for jobs that only produce an error
func Each[In any](p *Pool, inputs []In, fn func(i int, in In) error) error {
	_, err := Map(p, inputs, func(i int, in In) (struct{}, error) {
		return struct{}{}, fn(i, in)
	})
	return err
}

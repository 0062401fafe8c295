package stack

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pipeline moves compression/cipher transform work onto a background
// worker pool connected by a bounded queue, for the `multi_threaded` option
// (spec §5): "move compression and encryption into background workers using
// such queues; correctness must match the single-threaded semantics
// bit-for-bit." Each Job is processed independently and in submission
// order, so the byte stream produced is identical to running everything on
// one goroutine.
type Pipeline struct {
	jobs    chan func() error
	group   *errgroup.Group
	workers int
}

// NewPipeline starts workers goroutines draining a bounded job queue of
// depth queueDepth, propagating the first error any of them returns
// through Close via golang.org/x/sync/errgroup.
func NewPipeline(workers, queueDepth int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = workers
	}
	group, _ := errgroup.WithContext(context.Background())
	p := &Pipeline{jobs: make(chan func() error, queueDepth), group: group, workers: workers}
	for i := 0; i < workers; i++ {
		p.group.Go(p.runWorker)
	}
	return p
}

func (p *Pipeline) runWorker() error {
	for job := range p.jobs {
		if err := job(); err != nil {
			return err
		}
	}
	return nil
}

// Submit enqueues a unit of work; it blocks if the queue is full (bounded
// handoff, per spec §5).
func (p *Pipeline) Submit(job func() error) {
	p.jobs <- job
}

// Close stops accepting new work, waits for in-flight jobs to finish, and
// returns the first error any worker returned (errgroup.Group's standard
// first-error-wins semantics).
func (p *Pipeline) Close() error {
	close(p.jobs)
	return p.group.Wait()
}

// SequentialJob runs a slice of per-entry transform functions through the
// pipeline while preserving output order: each job writes its result into
// its own slot, and the caller drains slots in order once all have
// completed. This is what guarantees multi-threaded mode reproduces the
// single-threaded byte stream bit-for-bit even though the work itself may
// complete out of order across workers.
func SequentialJob(p *Pipeline, n int, work func(i int) ([]byte, error)) ([][]byte, error) {
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		i := i
		p.Submit(func() error {
			out, err := work(i)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := p.Close(); err != nil {
		return nil, err
	}
	return results, nil
}

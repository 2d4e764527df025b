// Package pool runs jobs on a fixed set of worker goroutines and hands
// their results back through futures.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by futures of jobs submitted after Close.
var ErrClosed = errors.New("pool: closed")

// PanicError carries a panic raised inside a job.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: job panicked: %v", e.Value)
}

// Pool is a bounded worker pool. It is created explicitly and must be
// closed by its owner.
type Pool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64
}

// New starts workers goroutines with a job queue of queueSize entries.
// Non-positive values default to runtime.NumCPU() workers and a queue
// twice that size.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 2 * workers
	}
	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
		p.pending.Add(-1)
	}
}

// Pending returns the number of jobs queued or running.
func (p *Pool) Pending() int64 { return p.pending.Load() }

// Close stops accepting jobs and waits for queued jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

// Future is the pending result of a submitted job.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.value, f.err = v, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get blocks until the job finished or ctx is done. A job that panicked
// yields a *PanicError.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on p. It blocks while the queue is full and gives up
// when ctx is done.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.resolve(zero, &PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		v, err := fn()
		f.resolve(v, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		var zero T
		f.resolve(zero, ErrClosed)
		return f
	}
	p.pending.Add(1)
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		p.pending.Add(-1)
		var zero T
		f.resolve(zero, ctx.Err())
	}
	return f
}

// Package async provides the bounded dispatch pool behind the daemon link.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidewire/tidewire/errs"
	"github.com/tidewire/tidewire/internal/observability"
)

// Task is one unit of dispatch work.
type Task func(context.Context) error

// Pool is a bounded worker pool that fails fast when saturated or closed.
// With a single worker it doubles as an ordered hand-off queue: tasks run
// strictly in submission order, which the transport relies on for event
// delivery.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan job

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

type job struct {
	ctx context.Context
	fn  Task
}

// NewPool creates a worker pool with the given concurrency and queue depth.
func NewPool(workers, queue int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalidState,
			errs.WithMessage("workers must be >0"))
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan job, queue),
		mu:      sync.Mutex{},
		closed:  false,
		pending: sync.WaitGroup{},
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit schedules the provided task, failing fast when the pool is closed or
// saturated. Acceptance is decided under the pool lock so a racing Close can
// never strand or panic a submission.
func (p *Pool) Submit(ctx context.Context, fn Task) error {
	if fn == nil {
		return errs.New("lib/async", errs.CodeInvalidState,
			errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit context: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	}
	p.pending.Add(1)
	select {
	case p.jobs <- job{ctx: ctx, fn: fn}:
		return nil
	default:
		p.pending.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close refuses further submissions and releases the workers once the queue
// drains. Tasks accepted before Close still run. The jobs channel is never
// closed; shutdown is signalled only through the context.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Shutdown closes the pool and waits for every accepted task to finish or the
// context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.ctx.Done():
			// Submit refuses new work once closed, so the queue only
			// shrinks from here. Drain it, then exit.
			for {
				select {
				case j := <-p.jobs:
					p.run(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(j job) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			observability.Log().Error("pool task panic",
				observability.Field{Key: "panic", Value: r})
		}
	}()
	ctx := j.ctx
	if ctx == nil {
		ctx = p.ctx
	}
	if err := j.fn(ctx); err != nil {
		observability.Log().Debug("pool task error",
			observability.Field{Key: "error", Value: err.Error()})
	}
}

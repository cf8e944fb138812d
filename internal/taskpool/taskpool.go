// Package taskpool bounds concurrent async work (fetchers, prefetch
// jobs) behind a permit semaphore with a shared cancellation token.
package taskpool

import (
	"context"
	"fmt"
)

// Pool is a bounded worker pool: execute acquires a permit, then races
// the submitted function against the pool's cancellation. Closing the
// pool cancels every outstanding task.
type Pool struct {
	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Pool allowing at most n concurrent tasks.
func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    make(chan struct{}, n),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Execute acquires a permit and runs fn, passing a context that is
// cancelled if the caller's ctx is cancelled or the pool is closed.
// It blocks until a permit is available or ctx is done.
func (p *Pool) Execute(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("taskpool: closed")
	}
	defer func() { <-p.sem }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	return fn(runCtx)
}

// TryExecute attempts to acquire a permit without blocking. It returns
// false immediately if the pool is at capacity.
func (p *Pool) TryExecute(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	select {
	case p.sem <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-p.sem }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	return true, fn(runCtx)
}

// Close cancels every outstanding and future task. Safe to call more
// than once.
func (p *Pool) Close() {
	p.cancel()
}

// Done returns a channel closed when the pool has been closed.
func (p *Pool) Done() <-chan struct{} {
	return p.ctx.Done()
}

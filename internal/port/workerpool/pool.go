// Package workerpool defines the Executor Provider collaborator: worker
// pools keyed by task type, and the futures they hand back.
package workerpool

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Future.Get when the wait deadline elapses
// before the underlying work finishes.
var ErrTimeout = errors.New("workerpool: wait timed out")

// ErrCancelled is returned by Future.Get for a future that was cancelled
// before or during execution.
var ErrCancelled = errors.New("workerpool: cancelled")

// Runnable is one unit of work submitted to a Pool.
type Runnable func(ctx context.Context) error

// Future represents the outcome of a submitted Runnable. Exactly one of
// success, execution error, or cancellation resolves it.
type Future interface {
	// Get blocks until the runnable completes, the context is done, or
	// timeout elapses (a zero timeout means wait indefinitely).
	Get(ctx context.Context, timeout time.Duration) error
	// Cancel requests cancellation of the underlying runnable. It is safe
	// to call after the runnable has already completed (no-op).
	Cancel()
	// Done reports whether the future has resolved (success, error, or
	// cancellation) without blocking.
	Done() bool
}

// Pool submits runnables and returns a handle to observe completion.
type Pool interface {
	Submit(ctx context.Context, r Runnable) (Future, error)
}

// Provider resolves a Pool for a given task-type tag, mirroring the
// "pool_for(task_type)" collaborator from the executor design.
type Provider interface {
	PoolFor(taskType string) (Pool, error)
}

// Package workerpool implements the Executor Provider collaborator as a
// fixed-size goroutine pool per task type, grounded on the worker-loop /
// WaitGroup / panic-recovery shape of a classic goroutine thread pool.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/taskforge/internal/port/workerpool"
)

// job bundles a submitted runnable with the future that reports its
// outcome.
type job struct {
	ctx context.Context
	run workerpool.Runnable
	fut *future
}

// Pool is a fixed-size goroutine pool: workers pull jobs from a channel
// queue and run them, recovering from panics so one bad task cannot kill
// a worker.
type Pool struct {
	id      string
	queue   chan job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closeMu sync.Mutex
	closed  bool
}

// NewPool starts a pool of size workers, each pulling from a queue of
// depth queueDepth. id identifies the pool in logs and metrics.
func NewPool(id string, workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		id:     id,
		queue:  make(chan job, queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

func (p *Pool) workerLoop(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(j)
		}
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			j.fut.resolve(fmt.Errorf("workerpool %s: panic: %v", p.id, r))
		}
	}()
	if j.fut.cancelled() {
		j.fut.resolve(workerpool.ErrCancelled)
		return
	}
	err := j.run(j.ctx)
	j.fut.resolve(err)
}

// Submit enqueues r and returns a Future for its outcome. Submission
// fails if the pool has been stopped.
func (p *Pool) Submit(ctx context.Context, r workerpool.Runnable) (workerpool.Future, error) {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil, fmt.Errorf("workerpool %s: stopped", p.id)
	}
	p.closeMu.Unlock()

	fut := newFuture()
	select {
	case p.queue <- job{ctx: ctx, run: r, fut: fut}:
		return fut, nil
	case <-p.ctx.Done():
		return nil, fmt.Errorf("workerpool %s: stopped", p.id)
	}
}

// Stop closes the queue, cancels the pool's own context, and waits for
// every worker to exit. Running jobs keep the context they were submitted
// with, so Stop does not cancel them.
func (p *Pool) Stop() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	p.closeMu.Unlock()

	close(p.queue)
	p.cancel()
	p.wg.Wait()
}

// future is the default workerpool.Future implementation: a one-shot
// result channel plus a cancellation flag a worker checks before running.
type future struct {
	done    chan struct{}
	mu      sync.Mutex
	err     error
	resolved bool
	cancel  bool
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

func (f *future) cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel
}

// Get blocks until the job resolves, ctx is done, or timeout elapses (zero
// timeout waits indefinitely).
func (f *future) Get(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return workerpool.ErrTimeout
	}
}

// Cancel marks the future cancelled. If the job has not started running
// yet, the worker observes the flag and resolves immediately with
// ErrCancelled instead of invoking the runnable.
func (f *future) Cancel() {
	f.mu.Lock()
	f.cancel = true
	already := f.resolved
	f.mu.Unlock()
	if !already {
		f.resolve(workerpool.ErrCancelled)
	}
}

// Done reports whether the future has resolved.
func (f *future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Registry is a thread-safe Provider implementation mapping task-type tags
// to pools, with a fallback default pool for unregistered types.
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]*Pool
	def     *Pool
}

// NewRegistry creates a Provider with defaultPool used for any task type
// without a dedicated pool.
func NewRegistry(defaultPool *Pool) *Registry {
	return &Registry{pools: make(map[string]*Pool), def: defaultPool}
}

// Bind dedicates pool to taskType.
func (r *Registry) Bind(taskType string, pool *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[taskType] = pool
}

// PoolFor resolves the pool for taskType, falling back to the default.
func (r *Registry) PoolFor(taskType string) (workerpool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.pools[taskType]; ok {
		return p, nil
	}
	if r.def != nil {
		return r.def, nil
	}
	return nil, fmt.Errorf("workerpool: no pool bound for task type %q", taskType)
}

// StopAll stops every bound pool plus the default, deduplicated. Pools are
// drained concurrently via an errgroup so one pool with a long-running
// queue of cleanup work does not delay the others' shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	seen := make(map[*Pool]bool)
	pools := make([]*Pool, 0, len(r.pools)+1)
	for _, p := range r.pools {
		if !seen[p] {
			seen[p] = true
			pools = append(pools, p)
		}
	}
	if r.def != nil && !seen[r.def] {
		pools = append(pools, r.def)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(func() error {
			p.Stop()
			return nil
		})
	}
	_ = g.Wait()
}

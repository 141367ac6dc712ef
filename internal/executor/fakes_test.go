package executor_test

import (
	"context"
	"sync"
	"time"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

// memStore is an in-memory taskstore.Store fake, keyed by record id.
type memStore struct {
	mu      sync.Mutex
	records map[string]*taskrecord.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*taskrecord.Record)}
}

func (s *memStore) Save(_ context.Context, rec *taskrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, rec *taskrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *memStore) MarkDirty(_ context.Context, rec *taskrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok {
		existing.UpdatedAt = rec.UpdatedAt
	}
	return nil
}

func (s *memStore) Refresh(_ context.Context, rec *taskrecord.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok {
		*rec = *existing
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*taskrecord.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// noopSink discards every observation.
type noopSink struct{}

func (noopSink) ObserveWait(string, time.Duration)         {}
func (noopSink) ObserveExecution(string, string, time.Duration) {}

// inlineFuture resolves synchronously: Submit runs r before returning.
type inlineFuture struct {
	err error
}

func (f *inlineFuture) Get(context.Context, time.Duration) error { return f.err }
func (f *inlineFuture) Cancel()                                  {}
func (f *inlineFuture) Done() bool                               { return true }

// inlinePool runs every submitted runnable synchronously on the calling
// goroutine, matching the executor's expectation that Submit returns a
// resolved-or-resolving Future without needing a real goroutine pool in
// tests.
type inlinePool struct{}

func (inlinePool) Submit(ctx context.Context, r workerpool.Runnable) (workerpool.Future, error) {
	return &inlineFuture{err: r(ctx)}, nil
}

type inlineProvider struct{ pool workerpool.Pool }

func (p inlineProvider) PoolFor(string) (workerpool.Pool, error) { return p.pool, nil }

// asyncFuture is a real future backed by a channel, resolved once by
// whichever of the worker goroutine or Cancel gets there first.
type asyncFuture struct {
	done     chan struct{}
	mu       sync.Mutex
	err      error
	resolved bool
}

func newAsyncFuture() *asyncFuture { return &asyncFuture{done: make(chan struct{})} }

func (f *asyncFuture) resolve(err error) {
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

func (f *asyncFuture) Get(ctx context.Context, timeout time.Duration) error {
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

func (f *asyncFuture) Cancel() { f.resolve(workerpool.ErrCancelled) }
func (f *asyncFuture) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// blockingPool runs every submitted runnable on its own goroutine, resolving
// a real asyncFuture with its outcome — used alongside blockingTask to
// exercise Abort/Shutdown against a task that is genuinely still running.
type blockingPool struct{}

func (p *blockingPool) Submit(ctx context.Context, r workerpool.Runnable) (workerpool.Future, error) {
	fut := newAsyncFuture()
	go func() { fut.resolve(r(ctx)) }()
	return fut, nil
}

type blockingProvider struct{ pool workerpool.Pool }

func (p blockingProvider) PoolFor(string) (workerpool.Pool, error) { return p.pool, nil }

// succeedTask always succeeds.
type succeedTask struct{}

func (*succeedTask) Initialize(map[string]any) error { return nil }
func (*succeedTask) Run() error                      { return nil }

// failTask always fails with err.
type failTask struct{ err error }

func (t *failTask) Initialize(map[string]any) error { return nil }
func (t *failTask) Run() error                       { return t.err }

// blockingTask signals started once Run begins, then blocks until release
// is closed, letting a test observe the task mid-flight before continuing.
type blockingTask struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingTask() *blockingTask {
	return &blockingTask{started: make(chan struct{}), release: make(chan struct{})}
}

func (t *blockingTask) Initialize(map[string]any) error { return nil }
func (t *blockingTask) Run() error {
	close(t.started)
	<-t.release
	return nil
}

var _ registry.Task = (*succeedTask)(nil)
var _ registry.Task = (*failTask)(nil)
var _ registry.Task = (*blockingTask)(nil)

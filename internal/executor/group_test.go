package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

// groupFakeStore is a minimal in-memory taskstore.Store for white-box
// group/subtask tests that need to poke unexported fields directly.
type groupFakeStore struct {
	mu sync.Mutex
}

func (s *groupFakeStore) Save(context.Context, *taskrecord.Record) error     { return nil }
func (s *groupFakeStore) Update(context.Context, *taskrecord.Record) error   { return nil }
func (s *groupFakeStore) MarkDirty(context.Context, *taskrecord.Record) error { return nil }
func (s *groupFakeStore) Refresh(context.Context, *taskrecord.Record) error  { return nil }
func (s *groupFakeStore) Get(context.Context, string) (*taskrecord.Record, error) {
	return nil, nil
}

type groupFakeSink struct{}

func (groupFakeSink) ObserveWait(string, time.Duration)          {}
func (groupFakeSink) ObserveExecution(string, string, time.Duration) {}

// groupInlinePool runs every runnable synchronously on the calling
// goroutine, resolving immediately.
type groupInlinePool struct{}

func (groupInlinePool) Submit(ctx context.Context, r workerpool.Runnable) (workerpool.Future, error) {
	return &groupInlineFuture{err: r(ctx)}, nil
}

type groupInlineFuture struct{ err error }

func (f *groupInlineFuture) Get(context.Context, time.Duration) error { return f.err }
func (f *groupInlineFuture) Cancel()                                  {}
func (f *groupInlineFuture) Done() bool                               { return true }

type groupInlineProvider struct{}

func (groupInlineProvider) PoolFor(string) (workerpool.Pool, error) { return groupInlinePool{}, nil }

type groupFailTask struct{ err error }

func (t *groupFailTask) Initialize(map[string]any) error { return nil }
func (t *groupFailTask) Run() error                       { return t.err }

func newTestParent(reg *registry.Registry) *RunnableTask {
	rec := &taskrecord.Record{ID: "parent-1", State: taskrecord.Created}
	return newRunnableTask(rec, "parent.type", "node-a", reg, &groupFakeStore{}, groupFakeSink{},
		groupInlineProvider{}, nil, func() string { return "sub-id" }, slog.Default(), true, nil)
}

func TestGroup_IgnoreErrorsAbsorbsMemberFailure(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)

	g := NewSubtaskGroup("phase").IgnoreErrors(true)
	memberErr := errors.New("boom")
	rec := &taskrecord.Record{ID: "m1", State: taskrecord.Initializing}
	member := newRunnableSubtask(rec, &groupFailTask{err: memberErr}, "member.type", parent, parent.store, parent.telemetry)
	g.members = append(g.members, member)

	err := g.run(context.Background(), parent)
	if err != nil {
		t.Fatalf("expected ignore_errors to absorb the failure, got %v", err)
	}
	if rec.State != taskrecord.Failure {
		t.Fatalf("expected member to still record its own Failure, got %s", rec.State)
	}
}

func TestGroup_PropagatesMemberFailureWhenNotIgnored(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)

	g := NewSubtaskGroup("phase").IgnoreErrors(false)
	memberErr := errors.New("boom")
	rec := &taskrecord.Record{ID: "m1", State: taskrecord.Initializing}
	member := newRunnableSubtask(rec, &groupFailTask{err: memberErr}, "member.type", parent, parent.store, parent.telemetry)
	g.members = append(g.members, member)

	err := g.run(context.Background(), parent)
	if err == nil {
		t.Fatal("expected the group to propagate the member failure")
	}
}

func TestGroup_EmptyGroupRunIsNoop(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)
	g := NewSubtaskGroup("empty")

	if err := g.run(context.Background(), parent); err != nil {
		t.Fatalf("expected nil for an empty group, got %v", err)
	}
}

func TestConsiderForcedCancel_TimeLimitExceeded(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)
	g := NewSubtaskGroup("phase")

	rec := &taskrecord.Record{ID: "m1", State: taskrecord.Running}
	member := newRunnableSubtask(rec, &groupFailTask{}, "member.type", parent, parent.store, parent.telemetry)
	member.timeLimit = 10 * time.Millisecond

	waitStart := time.Now().Add(-20 * time.Millisecond)
	err := g.considerForcedCancel(context.Background(), member, waitStart, parent)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if rec.State != taskrecord.Aborted {
		t.Fatalf("expected forced cancel to abort the record, got %s", rec.State)
	}
}

func TestConsiderForcedCancel_AbortGraceExpired(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)
	parent.setAbortTime(time.Now().Add(-defaultAbortGrace - time.Second))
	g := NewSubtaskGroup("phase")

	rec := &taskrecord.Record{ID: "m1", State: taskrecord.Running}
	member := newRunnableSubtask(rec, &groupFailTask{}, "member.type", parent, parent.store, parent.telemetry)

	err := g.considerForcedCancel(context.Background(), member, time.Now(), parent)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled once abort grace elapsed, got %v", err)
	}
	if rec.State != taskrecord.Aborted {
		t.Fatalf("expected forced cancel to abort the record, got %s", rec.State)
	}
}

func TestConsiderForcedCancel_NoopBeforeGraceOrLimit(t *testing.T) {
	reg := registry.New()
	parent := newTestParent(reg)
	g := NewSubtaskGroup("phase")

	rec := &taskrecord.Record{ID: "m1", State: taskrecord.Running}
	member := newRunnableSubtask(rec, &groupFailTask{}, "member.type", parent, parent.store, parent.telemetry)

	if err := g.considerForcedCancel(context.Background(), member, time.Now(), parent); err != nil {
		t.Fatalf("expected no forced cancel yet, got %v", err)
	}
	if rec.State != taskrecord.Running {
		t.Fatalf("expected record untouched, got %s", rec.State)
	}
}

// Package executor is the concurrent task-execution core: it runs
// hierarchical jobs (tasks composed of subtask groups composed of
// subtasks) to completion, persisting state transitions, honoring
// cooperative abort and per-subtask time limits, and draining cleanly on
// shutdown.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/port/replication"
	"github.com/Strob0t/taskforge/internal/port/taskstore"
	"github.com/Strob0t/taskforge/internal/port/telemetry"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

func marshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(params)
}

// Executor is the singleton facade coordinating Runnable Tasks. It is not
// itself a worker pool; it is a coordinator over pools supplied by its
// Provider.
type Executor struct {
	owner                     string
	skipSubtaskAbortableCheck bool
	redact                    RedactFunc
	idGen                     func() string
	logger                    *slog.Logger

	reg       *registry.Registry
	store     taskstore.Store
	provider  workerpool.Provider
	telemetry telemetry.Sink
	repl      replication.Trigger

	live *liveMap

	shutdownMu sync.Mutex
	shutdownAt time.Time
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithSkipSubtaskAbortableCheck overrides the default (true) policy: when
// true, a shutdown-driven abort cancels in-flight subtasks regardless of
// their abortable marker.
func WithSkipSubtaskAbortableCheck(v bool) Option {
	return func(e *Executor) { e.skipSubtaskAbortableCheck = v }
}

// WithRedact installs the secret-redaction filter applied to subtask
// payloads before persistence.
func WithRedact(fn RedactFunc) Option {
	return func(e *Executor) { e.redact = fn }
}

// WithIDGen overrides the default record-ID generator (google/uuid).
func WithIDGen(fn func() string) Option {
	return func(e *Executor) { e.idGen = fn }
}

// WithReplication installs the HA replication-sync trigger fired from a
// task's completion hook.
func WithReplication(t replication.Trigger) Option {
	return func(e *Executor) { e.repl = t }
}

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New constructs an Executor. owner identifies this process (typically a
// hostname) and is stamped onto every TaskRecord this instance creates.
func New(owner string, reg *registry.Registry, store taskstore.Store, provider workerpool.Provider, sink telemetry.Sink, opts ...Option) *Executor {
	e := &Executor{
		owner:                     owner,
		skipSubtaskAbortableCheck: true,
		idGen:                     uuid.NewString,
		logger:                    slog.Default(),
		reg:                       reg,
		store:                     store,
		provider:                  provider,
		telemetry:                 sink,
		repl:                      replication.Noop{},
		live:                      newLiveMap(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRunnable looks up the factory for taskType, constructs and
// initializes a user task instance, and creates its (persisted)
// top-level TaskRecord at position -1.
func (e *Executor) CreateRunnable(ctx context.Context, taskType string, params map[string]any) (*RunnableTask, error) {
	userTask, err := e.reg.NewTask(taskType)
	if err != nil {
		return nil, err
	}

	payload, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	if e.redact != nil {
		payload = e.redact(payload)
	}
	if len(payload) > taskrecord.PayloadExcerptLimit {
		payload = payload[:taskrecord.PayloadExcerptLimit]
	}

	rec := &taskrecord.Record{
		ID:        e.idGen(),
		Type:      taskType,
		State:     taskrecord.Created,
		Position:  taskrecord.TopLevelPosition,
		Owner:     e.owner,
		Payload:   payload,
		CreatedAt: time.Now(),
	}

	rt := newRunnableTask(rec, taskType, e.owner, e.reg, e.store, e.telemetry, e.provider, e.redact, e.idGen, e.logger, e.skipSubtaskAbortableCheck, e.live.remove)
	rt.userTask = userTask

	tc := &TaskContext{rt: rt}
	if c, ok := userTask.(Contextual); ok {
		c.SetContext(tc)
	}
	if err := userTask.Initialize(params); err != nil {
		return nil, err
	}

	if err := rec.Transition(taskrecord.Initializing); err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.Save(ctx, rec); err != nil {
			return nil, err
		}
	}

	rt.AddOnCompletion(func(ctx context.Context, rec *taskrecord.Record) {
		if err := e.repl.SyncOnce(ctx, rec.ID); err != nil {
			e.logger.Warn("replication sync trigger failed", "task_id", rec.ID, "error", err)
		}
	})

	return rt, nil
}

// Submit inserts rt into the live-tasks map and submits it to pool. A
// submission error removes the entry, transitions the record to Failure,
// and is returned to the caller.
func (e *Executor) Submit(ctx context.Context, rt *RunnableTask, pool workerpool.Pool) error {
	if !e.shutdownTime().IsZero() {
		return ErrExecutorShuttingDown
	}

	if !e.live.insert(rt.record.ID, rt) {
		return ErrExecutorShuttingDown
	}

	rt.scheduleLocked(ctx)

	fut, err := pool.Submit(ctx, rt.execute)
	if err != nil {
		e.live.remove(rt.record.ID)
		rt.failSubmissionLocked(ctx, err)
		return submissionErr(err)
	}
	rt.future = fut
	return nil
}

// WaitFor blocks until the top-level future for taskID completes or
// timeout elapses. A zero timeout waits indefinitely. Execution errors
// are unwrapped to their underlying cause. A task that is no longer live
// reports the outcome persisted in its record: Failure yields an error
// wrapping ErrTaskFailure with the stored error text, Aborted yields
// ErrCancelled, and any other state (or an unknown id) yields nil.
func (e *Executor) WaitFor(ctx context.Context, taskID string, timeout time.Duration) error {
	rt, ok := e.live.get(taskID)
	if !ok {
		if e.store == nil {
			return nil
		}
		rec, err := e.store.Get(ctx, taskID)
		if err != nil || rec == nil {
			return nil
		}
		switch rec.State {
		case taskrecord.Failure:
			return fmt.Errorf("%w: %s", ErrTaskFailure, rec.Error)
		case taskrecord.Aborted:
			return ErrCancelled
		}
		return nil
	}
	if rt.future == nil {
		return nil
	}
	err := rt.future.Get(ctx, timeout)
	if err == nil {
		return nil
	}
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.err
	}
	return err
}

// Abort requests cancellation of taskID. Returns the current TaskRecord on
// success, nil if the task is not (or no longer) live, and
// ErrNotAbortable if the task's type lacks the abortable marker.
func (e *Executor) Abort(taskID string) (*taskrecord.Record, error) {
	rt, ok := e.live.get(taskID)
	if !ok {
		return nil, nil
	}

	caps := e.reg.Capabilities(rt.taskType)
	if !caps.Abortable {
		return nil, ErrNotAbortable
	}

	rt.setAbortTime(time.Now())
	return rt.abortRecordLocked(context.Background()), nil
}

// Shutdown idempotently seals the live-tasks map, broadcasts an abort
// signal to every in-flight task, and waits up to timeout for the map to
// drain. Returns true on a clean drain.
func (e *Executor) Shutdown(timeout time.Duration) bool {
	e.shutdownMu.Lock()
	if !e.shutdownAt.IsZero() {
		e.shutdownMu.Unlock()
		return e.live.waitEmpty(timeout)
	}
	e.shutdownAt = time.Now()
	e.shutdownMu.Unlock()

	inFlight := e.live.seal()
	now := time.Now()
	for _, rt := range inFlight {
		rt.setAbortTime(now)
	}

	return e.live.waitEmpty(timeout)
}

// LiveTasks returns the TaskRecord of every task currently tracked in the
// live-tasks map, for admin introspection. The slice is a point-in-time
// snapshot; records may change state immediately after the call returns.
func (e *Executor) LiveTasks() []*taskrecord.Record {
	rts := e.live.snapshot()
	out := make([]*taskrecord.Record, 0, len(rts))
	for _, rt := range rts {
		out = append(out, rt.record)
	}
	return out
}

// Available lists every registered task-type tag.
func (e *Executor) Available() []string {
	return e.reg.Available()
}

func (e *Executor) shutdownTime() time.Time {
	e.shutdownMu.Lock()
	defer e.shutdownMu.Unlock()
	return e.shutdownAt
}

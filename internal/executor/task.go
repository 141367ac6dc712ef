package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/logger"
	"github.com/Strob0t/taskforge/internal/port/taskstore"
	"github.com/Strob0t/taskforge/internal/port/telemetry"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

// RedactFunc strips secret fields from a JSON payload before it is
// persisted, per the wire contract.
type RedactFunc func(payload []byte) []byte

// RunnableTask is the top-level job: it owns a FIFO queue of Subtask
// Groups and coordinates abort, listeners, and completion hooks.
type RunnableTask struct {
	record   *taskrecord.Record
	taskType string
	owner    string

	reg       *registry.Registry
	store     taskstore.Store
	telemetry telemetry.Sink
	provider  workerpool.Provider
	redact    RedactFunc
	idGen     func() string
	logger    *slog.Logger

	skipSubtaskAbortableCheck bool

	userTask registry.Task
	listeners []Listener
	completionHooks []func(ctx context.Context, rec *taskrecord.Record)

	// recordMu serializes every mutation and read of record: execute()
	// runs on a worker-pool goroutine while Abort (and Submit's
	// submission-failure path) can touch the same record from the
	// goroutine handling an admin request.
	recordMu sync.Mutex

	groups       []*SubtaskGroup
	nextPosition int
	runCtx       context.Context

	abortMu   sync.Mutex
	abortTime time.Time

	future workerpool.Future

	onLiveRemove func(id string)
}

// TaskContext is the handle a task's Run body uses to declaratively add
// subtask groups and drive the group/subtask scheduling discipline. It is
// handed to any user task implementing Contextual before Initialize runs.
type TaskContext struct {
	rt *RunnableTask
}

// Contextual is implemented by task types whose Run body needs to add
// subtask groups. The executor calls SetContext before Initialize.
type Contextual interface {
	SetContext(tc *TaskContext)
}

// NewGroup creates an empty, unattached SubtaskGroup tagged with typeTag.
func (tc *TaskContext) NewGroup(typeTag string) *SubtaskGroup {
	return NewSubtaskGroup(typeTag)
}

// AddSubtask constructs a fresh instance of taskType, initializes it with
// params, and appends it to group as a pending (unattached) member. The
// subtask's own TaskRecord is not persisted until group is attached via
// AddGroup/AddGroupAt.
func (tc *TaskContext) AddSubtask(group *SubtaskGroup, taskType string, params map[string]any) (*RunnableSubtask, error) {
	userTask, err := tc.rt.reg.NewTask(taskType)
	if err != nil {
		return nil, err
	}
	if err := userTask.Initialize(params); err != nil {
		return nil, fmt.Errorf("initialize subtask %s: %w", taskType, err)
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal subtask payload: %w", err)
	}
	if tc.rt.redact != nil {
		payload = tc.rt.redact(payload)
	}
	if len(payload) > taskrecord.PayloadExcerptLimit {
		payload = payload[:taskrecord.PayloadExcerptLimit]
	}

	return group.addPending(userTask, taskType, payload), nil
}

// AddGroup attaches group at the next monotonic position.
func (tc *TaskContext) AddGroup(group *SubtaskGroup) *SubtaskGroup {
	return tc.rt.addGroupAt(group, -1)
}

// AddGroupAt attaches group at an explicit position, overriding the
// counter — used when replaying resumed work.
func (tc *TaskContext) AddGroupAt(group *SubtaskGroup, position int) *SubtaskGroup {
	return tc.rt.addGroupAt(group, position)
}

// RunGroups dispatches every attached group in order. Must be called
// exactly once, from inside the task's Run body.
func (tc *TaskContext) RunGroups() error {
	return tc.rt.runGroups()
}

// Heartbeat marks the task's record dirty and writes it through, letting
// external watchers observe liveness.
func (tc *TaskContext) Heartbeat() {
	tc.rt.heartbeat()
}

// AbortRequested reports whether an abort has been signalled for this
// task, for user code that wants to check cooperatively between steps.
func (tc *TaskContext) AbortRequested() bool {
	return !tc.rt.AbortTime().IsZero()
}

func newRunnableTask(rec *taskrecord.Record, taskType, owner string, reg *registry.Registry, store taskstore.Store, sink telemetry.Sink, provider workerpool.Provider, redact RedactFunc, idGen func() string, logger *slog.Logger, skipAbortableCheck bool, onLiveRemove func(string)) *RunnableTask {
	return &RunnableTask{
		record:                    rec,
		taskType:                  taskType,
		owner:                     owner,
		reg:                       reg,
		store:                     store,
		telemetry:                 sink,
		provider:                  provider,
		redact:                    redact,
		idGen:                     idGen,
		logger:                    logger,
		skipSubtaskAbortableCheck: skipAbortableCheck,
		onLiveRemove:              onLiveRemove,
	}
}

// Record returns the task's TaskRecord.
func (rt *RunnableTask) Record() *taskrecord.Record { return rt.record }

// AddListener registers a before/after pair on the top-level task itself.
func (rt *RunnableTask) AddListener(l Listener) { rt.listeners = append(rt.listeners, l) }

// AddOnCompletion registers a callback fired after the task leaves the
// live-tasks map, in registration order. Panics from a hook are not
// recovered here; callers are expected to guard their own hooks.
func (rt *RunnableTask) AddOnCompletion(fn func(ctx context.Context, rec *taskrecord.Record)) {
	rt.completionHooks = append(rt.completionHooks, fn)
}

// AbortTime returns the timestamp abort was requested, or the zero value
// if no abort has been requested.
func (rt *RunnableTask) AbortTime() time.Time {
	rt.abortMu.Lock()
	defer rt.abortMu.Unlock()
	return rt.abortTime
}

// setAbortTime idempotently records the abort instant: a second call is a
// no-op, so every caller observes the same instant.
func (rt *RunnableTask) setAbortTime(t time.Time) {
	rt.abortMu.Lock()
	defer rt.abortMu.Unlock()
	if rt.abortTime.IsZero() {
		rt.abortTime = t
	}
}

func (rt *RunnableTask) capsOf(taskType string) registry.Capabilities {
	return rt.reg.Capabilities(taskType)
}

// addGroupAt is not thread-safe against RunGroups, matching the design's
// "add_group is not thread-safe against run_groups" contract: callers add
// all groups from the single Run-body goroutine before calling RunGroups.
func (rt *RunnableTask) addGroupAt(group *SubtaskGroup, position int) *SubtaskGroup {
	if position < 0 {
		position = rt.nextPosition
	}
	group.position = position
	if position >= rt.nextPosition {
		rt.nextPosition = position + 1
	}

	ctx := context.Background()
	for _, m := range group.members {
		m.attach(rt)
		m.record.ID = rt.idGen()
		m.record.ParentID = rt.record.ID
		m.record.Position = position
		m.record.Owner = rt.owner
		if err := m.record.Transition(taskrecord.Initializing); err != nil {
			rt.logger.Error("subtask attach transition failed", "subtask_id", m.record.ID, "error", err)
			continue
		}
		if err := rt.store.Save(ctx, m.record); err != nil {
			rt.logger.Error("subtask attach persist failed", "subtask_id", m.record.ID, "error", err)
		}
	}

	rt.groups = append(rt.groups, group)
	return group
}

// runGroups iterates the attached groups strictly in order. A group whose
// run propagates an error stops iteration unless the group ignores
// errors, in which case the error is logged and the next group starts.
func (rt *RunnableTask) runGroups() error {
	ctx := rt.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	for _, g := range rt.groups {
		err := g.run(ctx, rt)
		if err == nil {
			continue
		}
		if g.ignoreErrors {
			rt.logger.Warn("subtask group failed, ignored by policy", "group", g.typeTag, "error", err)
			continue
		}
		return err
	}
	return nil
}

// Reset clears the group queue and resets the position counter. Used when
// a retryable task is replayed; it does not remove persisted subtask
// records from prior attempts.
func (rt *RunnableTask) Reset() {
	rt.groups = nil
	rt.nextPosition = 0
}

func (rt *RunnableTask) heartbeat() {
	rt.recordMu.Lock()
	rt.record.UpdatedAt = time.Now()
	var err error
	if rt.store != nil {
		err = rt.store.MarkDirty(context.Background(), rt.record)
	}
	rt.recordMu.Unlock()
	if err != nil {
		rt.logger.Warn("heartbeat write failed", "task_id", rt.record.ID, "error", err)
	}
}

// persistLocked writes rt.record through to the store. Callers must hold
// recordMu.
func (rt *RunnableTask) persistLocked(ctx context.Context) error {
	if rt.store == nil {
		return nil
	}
	return rt.store.Update(ctx, rt.record)
}

// stateLocked reads rt.record.State under recordMu, for callers (such as
// the deferred telemetry observation in execute) that need a consistent
// snapshot rather than a racy direct field read.
func (rt *RunnableTask) stateLocked() taskrecord.Status {
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()
	return rt.record.State
}

// abortRecordLocked CASes the record to Aborted if it is still in a
// pre-terminal state and writes the transition through to the store before
// returning, matching the write-through invariant every other state
// transition in this package observes. Called from Executor.Abort, which
// runs on a different goroutine than the one driving execute(); recordMu
// is what makes this safe.
func (rt *RunnableTask) abortRecordLocked(ctx context.Context) *taskrecord.Record {
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()

	st := rt.record.State
	if st == taskrecord.Initializing || st == taskrecord.Created || st == taskrecord.Running {
		if err := rt.record.Transition(taskrecord.Aborted); err == nil {
			if err := rt.persistLocked(ctx); err != nil {
				rt.logger.Warn("abort persist failed", "task_id", rt.record.ID, "error", err)
			}
		}
	}
	return rt.record
}

// failSubmissionLocked marks the record Failed and persists it. Used by
// Executor.Submit when pool.Submit itself errors, before execute() ever
// runs — guarded by the same lock as every other record mutation for
// consistency.
func (rt *RunnableTask) failSubmissionLocked(ctx context.Context, err error) {
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()
	_ = rt.record.Fail(err)
	_ = rt.persistLocked(ctx)
}

// scheduleLocked stamps ScheduledAt and writes it through, called from
// Executor.Submit before the task is handed to the pool.
func (rt *RunnableTask) scheduleLocked(ctx context.Context) {
	rt.recordMu.Lock()
	defer rt.recordMu.Unlock()
	rt.record.ScheduledAt = time.Now()
	_ = rt.persistLocked(ctx)
}

// execute is the top-level Runnable submitted to the executor provider's
// pool by Executor.Submit.
func (rt *RunnableTask) execute(ctx context.Context) (returnErr error) {
	ctx = logger.WithTaskID(ctx, rt.record.ID)
	rt.runCtx = ctx

	rt.recordMu.Lock()
	waitDur := time.Since(rt.record.ScheduledAt)
	rt.recordMu.Unlock()
	rt.telemetry.ObserveWait(rt.taskType, waitDur)
	start := time.Now()

	defer func() {
		rt.telemetry.ObserveExecution(rt.taskType, string(rt.stateLocked()), time.Since(start))
		if rt.onLiveRemove != nil {
			rt.onLiveRemove(rt.record.ID)
		}
		for _, hook := range rt.completionHooks {
			hook(ctx, rt.record)
		}
	}()

	rt.recordMu.Lock()
	if abortAt := rt.AbortTime(); !abortAt.IsZero() {
		_ = rt.record.Abort(ErrCancelled)
		_ = rt.persistLocked(ctx)
		rt.recordMu.Unlock()
		fireAfter(rt.listeners, rt.record, ErrCancelled)
		return ErrCancelled
	}
	rt.recordMu.Unlock()

	if err := fireBefore(rt.listeners, rt.record); err != nil {
		rt.recordMu.Lock()
		_ = rt.record.Abort(err)
		_ = rt.persistLocked(ctx)
		rt.recordMu.Unlock()
		fireAfter(rt.listeners, rt.record, ErrCancelled)
		return ErrCancelled
	}

	rt.recordMu.Lock()
	transErr := rt.record.Transition(taskrecord.Running)
	if transErr != nil {
		_ = rt.record.Fail(transErr)
	}
	persistErr := rt.persistLocked(ctx)
	rt.recordMu.Unlock()
	if transErr != nil {
		fireAfter(rt.listeners, rt.record, transErr)
		return executionErr(transErr)
	}
	if persistErr != nil {
		rt.recordMu.Lock()
		_ = rt.record.Fail(persistErr)
		rt.recordMu.Unlock()
		fireAfter(rt.listeners, rt.record, persistErr)
		return executionErr(persistErr)
	}

	runErr := rt.userTask.Run()

	rt.recordMu.Lock()
	var finalErr error
	switch {
	case runErr == nil:
		_ = rt.record.Transition(taskrecord.Success)
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, ErrCancelled):
		_ = rt.record.Abort(runErr)
		finalErr = ErrCancelled
	default:
		_ = rt.record.Fail(runErr)
		finalErr = executionErr(runErr)
	}
	_ = rt.persistLocked(ctx)
	rt.recordMu.Unlock()
	fireAfter(rt.listeners, rt.record, finalErr)
	return finalErr
}

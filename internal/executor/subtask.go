package executor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/logger"
	"github.com/Strob0t/taskforge/internal/port/taskstore"
	"github.com/Strob0t/taskforge/internal/port/telemetry"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

// RunnableSubtask wraps a user task instance together with its durable
// record and timing. Authors never construct one directly; a Subtask
// Group builds them when members are added.
//
// mu serializes every mutation of record: both the worker goroutine
// running execute() and the group's wait loop (forcing a timeout or
// abort-grace cancellation) touch the same record concurrently.
type RunnableSubtask struct {
	mu        sync.Mutex
	record    *taskrecord.Record
	userTask  registry.Task
	taskType  string
	listeners []Listener
	store     taskstore.Store
	telemetry telemetry.Sink
	parent    *RunnableTask

	timeLimit time.Duration
	future    workerpool.Future

	// afterFired guards against firing the After listeners twice: once
	// from the group's wait loop on a forced cancel (time limit or abort
	// grace), and again from execute()'s own defer if the underlying
	// user Run() eventually returns anyway.
	afterFired atomic.Bool
}

func newRunnableSubtask(rec *taskrecord.Record, userTask registry.Task, taskType string, parent *RunnableTask, store taskstore.Store, sink telemetry.Sink) *RunnableSubtask {
	return &RunnableSubtask{
		record:    rec,
		userTask:  userTask,
		taskType:  taskType,
		store:     store,
		telemetry: sink,
		parent:    parent,
		timeLimit: timeLimitFromPayload(rec.Payload),
	}
}

// TimeLimit returns the optional positive duration parsed from
// payload.timeLimitMins; zero means unbounded.
func (s *RunnableSubtask) TimeLimit() time.Duration { return s.timeLimit }

// attach wires a pending subtask (built via SubtaskGroup.addPending,
// before its group was attached to a parent) to its owning task's
// collaborators. Called once, from RunnableTask.addGroupAt.
func (s *RunnableSubtask) attach(rt *RunnableTask) {
	s.parent = rt
	s.store = rt.store
	s.telemetry = rt.telemetry
}

// Record returns the subtask's TaskRecord.
func (s *RunnableSubtask) Record() *taskrecord.Record { return s.record }

// fireAfterOnce invokes the subtask's After listeners exactly once. Both
// execute()'s own completion defer and the group's wait loop (on a forced
// cancel) call this; whichever gets there first wins, and the other is a
// no-op.
func (s *RunnableSubtask) fireAfterOnce(err error) {
	if s.afterFired.CompareAndSwap(false, true) {
		fireAfter(s.listeners, s.record, err)
	}
}

// AddListener registers a before/after pair on this subtask.
func (s *RunnableSubtask) AddListener(l Listener) { s.listeners = append(s.listeners, l) }

func timeLimitFromPayload(payload []byte) time.Duration {
	if len(payload) == 0 {
		return 0
	}
	var p struct {
		TimeLimitMins float64 `json:"timeLimitMins"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.TimeLimitMins <= 0 {
		return 0
	}
	return time.Duration(p.TimeLimitMins * float64(time.Minute))
}

// submitTo records the scheduled-at timestamp and submits the subtask to
// pool. A submission error is caught: the record transitions to Failure
// with the error text and the after-listener fires before the error is
// returned to the caller.
func (s *RunnableSubtask) submitTo(ctx context.Context, pool workerpool.Pool) error {
	s.mu.Lock()
	s.record.ScheduledAt = time.Now()
	err := s.persistLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	fut, err := pool.Submit(ctx, s.execute)
	if err != nil {
		s.mu.Lock()
		_ = s.record.Fail(submissionErr(err))
		_ = s.persistLocked(ctx)
		s.mu.Unlock()
		s.fireAfterOnce(err)
		return submissionErr(err)
	}
	s.future = fut
	return nil
}

// execute is the worker-side run body. It is the Runnable handed to the
// pool by submitTo.
func (s *RunnableSubtask) execute(ctx context.Context) (returnErr error) {
	s.mu.Lock()
	waitDur := time.Since(s.record.ScheduledAt)
	s.mu.Unlock()
	s.telemetry.ObserveWait(s.taskType, waitDur)

	start := time.Now()
	defer func() {
		s.mu.Lock()
		s.record.CompletedAt = time.Now()
		_ = s.persistLocked(context.WithoutCancel(ctx))
		result := string(s.record.State)
		s.mu.Unlock()
		s.telemetry.ObserveExecution(s.taskType, result, time.Since(start))
		s.fireAfterOnce(returnErr)
	}()

	s.mu.Lock()
	if abortAt := s.parent.AbortTime(); !abortAt.IsZero() {
		_ = s.record.Abort(ErrCancelled)
		_ = s.persistLocked(ctx)
		s.mu.Unlock()
		return ErrCancelled
	}
	s.mu.Unlock()

	if err := fireBefore(s.listeners, s.record); err != nil {
		s.mu.Lock()
		_ = s.record.Abort(err)
		_ = s.persistLocked(ctx)
		s.mu.Unlock()
		return ErrCancelled
	}

	s.mu.Lock()
	s.record.StartedAt = time.Now()
	transErr := s.record.Transition(taskrecord.Running)
	if transErr != nil {
		_ = s.record.Fail(transErr)
	}
	persistErr := s.persistLocked(ctx)
	s.mu.Unlock()
	if transErr != nil {
		return executionErr(transErr)
	}
	if persistErr != nil {
		s.mu.Lock()
		_ = s.record.Fail(persistErr)
		s.mu.Unlock()
		return executionErr(persistErr)
	}

	runErr := s.userTask.Run()

	s.mu.Lock()
	defer s.mu.Unlock()
	// The group's wait loop may have already force-aborted this record
	// (time limit or abort grace) while Run() was still executing.
	if s.record.State.IsTerminal() {
		return returnFromTerminalState(s.record.State)
	}
	switch {
	case runErr == nil:
		_ = s.record.Transition(taskrecord.Success)
		return nil
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, ErrCancelled):
		_ = s.record.Abort(runErr)
		return ErrCancelled
	default:
		_ = s.record.Fail(runErr)
		if s.parent != nil && s.parent.logger != nil {
			s.parent.logger.Error("subtask run failed", "task_id", logger.TaskID(ctx), "subtask_id", s.record.ID, "error", runErr)
		}
		return executionErr(runErr)
	}
}

func returnFromTerminalState(st taskrecord.Status) error {
	switch st {
	case taskrecord.Success:
		return nil
	case taskrecord.Aborted:
		return ErrCancelled
	default:
		return ErrTaskFailure
	}
}

// forceAbort is invoked by the owning group's wait loop, never by the
// worker goroutine running execute(), to cancel a still-running subtask
// once its time limit or the abort grace has elapsed. It is a no-op if
// the record already reached a terminal state.
func (s *RunnableSubtask) forceAbort(ctx context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record.State.IsTerminal() {
		return
	}
	_ = s.record.Abort(cause)
	_ = s.persistLocked(ctx)
	if s.future != nil {
		s.future.Cancel()
	}
}

func (s *RunnableSubtask) persistLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Update(ctx, s.record)
}

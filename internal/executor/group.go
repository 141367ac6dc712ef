package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
	"github.com/Strob0t/taskforge/internal/port/workerpool"
	"github.com/Strob0t/taskforge/internal/registry"
)

// spinInterval is the fixed poll interval the wait policy uses when
// round-robining over a group's still-running members.
const spinInterval = 2 * time.Second

// defaultAbortGrace is the window between an abort signal and forced
// cancellation of a still-running, cancellable subtask.
const defaultAbortGrace = 60 * time.Second

// SubtaskGroup is a named, in-memory set of Runnable Subtasks plus a
// group policy. It lives entirely in the memory of its owning Runnable
// Task and is discarded when the task ends.
type SubtaskGroup struct {
	typeTag      string
	ignoreErrors bool
	pool         workerpool.Pool // explicit override; nil means provider-resolved

	position int
	members  []*RunnableSubtask

	// completed counts members the wait loop has removed from its pending
	// set, whether by normal resolution, cancellation, or a forced
	// cancel. Exposed for admin introspection alongside Members().
	completed atomic.Int64
}

// CompletedCount reports how many of the group's members the wait loop has
// finished processing so far.
func (g *SubtaskGroup) CompletedCount() int { return int(g.completed.Load()) }

// NewSubtaskGroup creates an empty group tagged with typeTag.
func NewSubtaskGroup(typeTag string) *SubtaskGroup {
	return &SubtaskGroup{typeTag: typeTag}
}

// IgnoreErrors sets whether member failures are absorbed rather than
// propagated to the parent task.
func (g *SubtaskGroup) IgnoreErrors(v bool) *SubtaskGroup {
	g.ignoreErrors = v
	return g
}

// WithPool pins the group to an explicit worker pool instead of letting
// the executor provider choose one from the parent task's type.
func (g *SubtaskGroup) WithPool(pool workerpool.Pool) *SubtaskGroup {
	g.pool = pool
	return g
}

// Members returns the group's subtasks, in the order they were added.
func (g *SubtaskGroup) Members() []*RunnableSubtask { return g.members }

// Position reports the index assigned when this group was attached.
func (g *SubtaskGroup) Position() int { return g.position }

// addPending appends an in-memory member. Its record carries only type,
// group tag, and payload; RunnableTask.addGroupAt fills in id, parent link,
// position, and owner, then persists it, at attachment time.
func (g *SubtaskGroup) addPending(userTask registry.Task, taskType string, payload []byte) *RunnableSubtask {
	rec := &taskrecord.Record{
		Type:         taskType,
		State:        taskrecord.Created,
		GroupTypeTag: g.typeTag,
		Position:     taskrecord.TopLevelPosition,
		Payload:      payload,
	}
	st := newRunnableSubtask(rec, userTask, taskType, nil, nil, nil)
	g.members = append(g.members, st)
	return st
}

// run executes the group: resolves a pool, submits every member, then
// applies the round-robin wait policy until every member has resolved.
// Returns the first propagating error observed, or nil.
func (g *SubtaskGroup) run(ctx context.Context, parent *RunnableTask) error {
	if len(g.members) == 0 {
		return nil
	}

	pool := g.pool
	if pool == nil {
		var err error
		pool, err = parent.provider.PoolFor(parent.taskType)
		if err != nil {
			return err
		}
	}
	if pool == nil {
		return errors.New("executor: resolved worker pool is nil")
	}

	for _, m := range g.members {
		if err := m.submitTo(ctx, pool); err != nil {
			// The subtask already recorded its own Failure and fired its
			// listener; submission of the remaining members continues.
			continue
		}
	}

	return g.wait(ctx, parent)
}

// wait implements the cooperative round-robin poll described in the
// component design: each still-running member is visited in turn and
// given up to spinInterval to resolve before the visitor moves to the
// next member and, on later passes, decides whether to force a
// cancellation.
func (g *SubtaskGroup) wait(ctx context.Context, parent *RunnableTask) error {
	waitStart := time.Now()

	pending := make([]*RunnableSubtask, 0, len(g.members))
	for _, m := range g.members {
		if m.future != nil {
			pending = append(pending, m)
		}
	}

	var firstErr error
	recordErr := func(err error) {
		if firstErr == nil && !g.ignoreErrors {
			firstErr = err
		}
	}

	for len(pending) > 0 {
		next := pending[:0:0]
		for _, m := range pending {
			err := m.future.Get(ctx, spinInterval)
			switch {
			case err == nil:
				// success — the subtask's own execute() defer already
				// fired its After listeners.
				g.completed.Add(1)
			case errors.Is(err, workerpool.ErrTimeout):
				if forced := g.considerForcedCancel(ctx, m, waitStart, parent); forced != nil {
					// The worker goroutine may be stuck in a Run() that
					// ignores cooperative cancellation and never returns,
					// so execute()'s own defer may never fire; fire the
					// After listeners here instead. fireAfterOnce makes
					// this safe even if execute() does eventually return.
					m.fireAfterOnce(forced)
					g.completed.Add(1)
					recordErr(forced)
					break
				}
				next = append(next, m)
				continue
			case errors.Is(err, workerpool.ErrCancelled):
				// The future itself resolved this way — execute() ran
				// and already fired its own After listeners.
				g.completed.Add(1)
				recordErr(ErrCancelled)
			default:
				g.completed.Add(1)
				recordErr(err)
			}
		}
		pending = next
	}

	return firstErr
}

// considerForcedCancel checks the two forced-cancellation conditions from
// the wait policy — per-subtask time limit, and abort grace — and forces
// the member's future to cancel if either applies. Returns the cause if a
// forced cancel happened, else nil.
func (g *SubtaskGroup) considerForcedCancel(ctx context.Context, m *RunnableSubtask, waitStart time.Time, parent *RunnableTask) error {
	if tl := m.TimeLimit(); tl > 0 && time.Since(waitStart) >= tl {
		m.forceAbort(ctx, ErrTimeout)
		return ErrTimeout
	}

	if abortAt := parent.AbortTime(); !abortAt.IsZero() && time.Since(abortAt) >= defaultAbortGrace {
		if parent.skipSubtaskAbortableCheck || parent.capsOf(m.taskType).Abortable {
			m.forceAbort(ctx, ErrCancelled)
			return ErrCancelled
		}
	}

	return nil
}

package executor

import (
	"log/slog"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
)

// Listener is the pair of hooks callers register on a Runnable Task or
// Runnable Subtask. Before may return an error to veto the run (the
// subtask is transitioned to Aborted with ErrCancelled); After always
// fires exactly once per subtask, with err nil on success.
type Listener struct {
	Before func(rec *taskrecord.Record) error
	After  func(rec *taskrecord.Record, err error)
}

// fireBefore invokes every listener's Before hook in order, stopping and
// returning the first non-nil error. A panicking hook is recovered and
// logged rather than propagated: listener exceptions are caught and
// logged but do not re-enter the state machine.
func fireBefore(listeners []Listener, rec *taskrecord.Record) (err error) {
	for _, l := range listeners {
		if l.Before == nil {
			continue
		}
		if hookErr := callBefore(l, rec); hookErr != nil {
			return hookErr
		}
	}
	return nil
}

func callBefore(l Listener, rec *taskrecord.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("listener Before panicked", "task_id", rec.ID, "panic", r)
			err = nil
		}
	}()
	return l.Before(rec)
}

// fireAfter invokes every listener's After hook. A panicking hook is
// recovered and logged, then the remaining listeners still run: listener
// exceptions are caught and logged but do not re-enter the state machine.
func fireAfter(listeners []Listener, rec *taskrecord.Record, err error) {
	for _, l := range listeners {
		if l.After == nil {
			continue
		}
		callAfter(l, rec, err)
	}
}

func callAfter(l Listener, rec *taskrecord.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("listener After panicked", "task_id", rec.ID, "panic", r)
		}
	}()
	l.After(rec, err)
}

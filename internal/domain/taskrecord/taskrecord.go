// Package taskrecord defines the durable record of a task or subtask and
// the state machine it obeys.
package taskrecord

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a TaskRecord.
type Status string

const (
	Created      Status = "Created"
	Initializing Status = "Initializing"
	Running      Status = "Running"
	Success      Status = "Success"
	Failure      Status = "Failure"
	Aborted      Status = "Aborted"
)

// IsTerminal reports whether s is one of the states from which no further
// transition occurs.
func (s Status) IsTerminal() bool {
	switch s {
	case Success, Failure, Aborted:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the edges of the state graph in spec section 3.
var legalTransitions = map[Status]map[Status]bool{
	Created: {
		Initializing: true,
		Aborted:      true,
		Failure:      true,
	},
	Initializing: {
		Running: true,
		Aborted: true,
		Failure: true,
	},
	Running: {
		Success: true,
		Failure: true,
		Aborted: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	edges, ok := legalTransitions[from]
	return ok && edges[to]
}

// TopLevelPosition is the position value used for a task's own record; only
// subtasks carry a real group index.
const TopLevelPosition = -1

// PayloadExcerptLimit and ErrorTextLimit bound the size of text embedded in
// a persisted record, per the wire contract.
const (
	PayloadExcerptLimit = 500
	ErrorTextLimit      = 3000
)

// Record is the persisted state for a task or subtask.
type Record struct {
	ID           string
	ParentID     string // empty for a top-level task
	Type         string
	State        Status
	Position     int
	GroupTypeTag string
	Owner        string
	Payload      []byte // redacted, JSON-encoded
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ScheduledAt  time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Transition moves r into `to`, returning an error if the edge is illegal.
// Callers must persist r through the Task Store immediately after a
// successful call, before any external effect depends on the new state.
func (r *Record) Transition(to Status) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("taskrecord %s: illegal transition %s -> %s", r.ID, r.State, to)
	}
	r.State = to
	r.UpdatedAt = time.Now()
	return nil
}

// Fail transitions r to Failure and stores the truncated error text.
func (r *Record) Fail(err error) error {
	if err != nil {
		r.Error = Truncate(err.Error(), ErrorTextLimit)
	}
	return r.Transition(Failure)
}

// Abort transitions r to Aborted and stores the truncated error text.
func (r *Record) Abort(err error) error {
	if err != nil {
		r.Error = Truncate(err.Error(), ErrorTextLimit)
	}
	return r.Transition(Aborted)
}

// Truncate clips s to n runes, keeping head and tail and dropping the
// middle, matching the wire contract's "truncate the middle" rule for
// error text.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	half := (n - 3) / 2
	return string(r[:half]) + "..." + string(r[len(r)-half:])
}

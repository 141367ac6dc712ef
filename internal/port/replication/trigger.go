// Package replication defines the HA replication-sync collaborator fired
// from a Runnable Task's completion hooks.
package replication

import "context"

// Trigger fires a one-off replication sync for the given top-level task.
// Implementations are expected to be fire-and-forget from the caller's
// perspective: a failure to trigger is logged, not propagated into the
// task's own terminal state.
type Trigger interface {
	SyncOnce(ctx context.Context, taskID string) error
}

// Noop discards every trigger request. Used where no HA replication
// collaborator is wired (e.g. single-node deployments, tests).
type Noop struct{}

func (Noop) SyncOnce(context.Context, string) error { return nil }

// Package taskstore defines the durable persistence collaborator for task
// and subtask records. The executor core depends only on this interface;
// internal/adapter/postgres provides the concrete implementation.
package taskstore

import (
	"context"

	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
)

// Store is the external Task Store collaborator named in the executor
// design. Updates are full-record writes; the executor is responsible for
// serializing writes to a given record (it synchronizes per-record before
// calling here).
type Store interface {
	Save(ctx context.Context, rec *taskrecord.Record) error
	Update(ctx context.Context, rec *taskrecord.Record) error
	Refresh(ctx context.Context, rec *taskrecord.Record) error
	MarkDirty(ctx context.Context, rec *taskrecord.Record) error
	Get(ctx context.Context, id string) (*taskrecord.Record, error)
}

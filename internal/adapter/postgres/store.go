package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/taskforge/internal/domain"
	"github.com/Strob0t/taskforge/internal/domain/taskrecord"
)

// TaskStore implements taskstore.Store using PostgreSQL. Updates are
// full-record writes; the executor is responsible for serializing writes
// to a given record before calling here.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore backed by the given connection pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

const taskColumns = `id, COALESCE(parent_id, ''), type, state, position, group_type_tag, owner, payload, error, created_at, updated_at, scheduled_at, started_at, completed_at`

func scanTaskRecord(scanner interface{ Scan(dest ...any) error }, rec *taskrecord.Record) error {
	var scheduledAt, startedAt, completedAt *time.Time
	if err := scanner.Scan(
		&rec.ID, &rec.ParentID, &rec.Type, &rec.State, &rec.Position, &rec.GroupTypeTag, &rec.Owner,
		&rec.Payload, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &scheduledAt, &startedAt, &completedAt,
	); err != nil {
		return err
	}
	if scheduledAt != nil {
		rec.ScheduledAt = *scheduledAt
	}
	if startedAt != nil {
		rec.StartedAt = *startedAt
	}
	if completedAt != nil {
		rec.CompletedAt = *completedAt
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullParent(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Save inserts a new task or subtask record.
func (s *TaskStore) Save(ctx context.Context, rec *taskrecord.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_records
		 (id, parent_id, type, state, position, group_type_tag, owner, payload, error, created_at, updated_at, scheduled_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, nullParent(rec.ParentID), rec.Type, rec.State, rec.Position, rec.GroupTypeTag, rec.Owner,
		rec.Payload, rec.Error, rec.CreatedAt, rec.UpdatedAt, nullTime(rec.ScheduledAt), nullTime(rec.StartedAt), nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("save task record %s: %w", rec.ID, err)
	}
	return nil
}

// Update overwrites every column of an existing record.
func (s *TaskStore) Update(ctx context.Context, rec *taskrecord.Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_records SET
		 parent_id = $2, type = $3, state = $4, position = $5, group_type_tag = $6, owner = $7,
		 payload = $8, error = $9, updated_at = $10, scheduled_at = $11, started_at = $12, completed_at = $13
		 WHERE id = $1`,
		rec.ID, nullParent(rec.ParentID), rec.Type, rec.State, rec.Position, rec.GroupTypeTag, rec.Owner,
		rec.Payload, rec.Error, rec.UpdatedAt, nullTime(rec.ScheduledAt), nullTime(rec.StartedAt), nullTime(rec.CompletedAt))
	if err != nil {
		return fmt.Errorf("update task record %s: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkDirty is a lightweight heartbeat write: it only touches updated_at.
func (s *TaskStore) MarkDirty(ctx context.Context, rec *taskrecord.Record) error {
	_, err := s.pool.Exec(ctx, `UPDATE task_records SET updated_at = $2 WHERE id = $1`, rec.ID, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("mark dirty task record %s: %w", rec.ID, err)
	}
	return nil
}

// Refresh re-reads rec's row from the store into rec, discarding any
// unwritten in-memory mutations.
func (s *TaskStore) Refresh(ctx context.Context, rec *taskrecord.Record) error {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM task_records WHERE id = $1`, taskColumns), rec.ID)
	if err := scanTaskRecord(row, rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("refresh task record %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a record by id.
func (s *TaskStore) Get(ctx context.Context, id string) (*taskrecord.Record, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM task_records WHERE id = $1`, taskColumns), id)
	var rec taskrecord.Record
	if err := scanTaskRecord(row, &rec); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get task record %s: %w", id, err)
	}
	return &rec, nil
}

// ListChildren returns every subtask record attached under parentID,
// ordered by position, for admin introspection.
func (s *TaskStore) ListChildren(ctx context.Context, parentID string) ([]taskrecord.Record, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM task_records WHERE parent_id = $1 ORDER BY position ASC`, taskColumns), parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	defer rows.Close()

	var out []taskrecord.Record
	for rows.Next() {
		var rec taskrecord.Record
		if err := scanTaskRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan child of %s: %w", parentID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StaleSince returns top-level task records owned by owner whose
// updated_at predates cutoff — the heartbeat-staleness admin signal.
func (s *TaskStore) StaleSince(ctx context.Context, owner string, cutoff time.Time) ([]taskrecord.Record, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM task_records WHERE owner = $1 AND position = -1 AND state = 'Running' AND updated_at < $2 ORDER BY updated_at ASC`, taskColumns),
		owner, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale tasks for %s: %w", owner, err)
	}
	defer rows.Close()

	var out []taskrecord.Record
	for rows.Next() {
		var rec taskrecord.Record
		if err := scanTaskRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan stale record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

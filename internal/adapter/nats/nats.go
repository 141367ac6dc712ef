// Package nats implements the HA replication-sync trigger over a plain
// NATS core publish — the task executor's completion hook fires a single
// fire-and-forget message per completed top-level task, so no JetStream
// stream, consumer, or acknowledgment tracking is needed.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/taskforge/internal/port/replication"
)

const syncSubject = "replication.sync"

// Trigger implements replication.Trigger by publishing a single NATS
// message naming the completed task.
type Trigger struct {
	nc *nats.Conn
}

// Connect establishes a connection to NATS for publishing sync triggers.
func Connect(url string) (*Trigger, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("nats connected", "url", url, "subject", syncSubject)
	return &Trigger{nc: nc}, nil
}

type syncMessage struct {
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

// SyncOnce publishes a single replication-sync message for taskID. A
// publish failure is returned to the caller, which is expected to log and
// move on: replication sync is best-effort, not part of a task's terminal
// state.
func (t *Trigger) SyncOnce(ctx context.Context, taskID string) error {
	data, err := json.Marshal(syncMessage{TaskID: taskID, At: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal sync message: %w", err)
	}
	if err := t.nc.Publish(syncSubject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", syncSubject, err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (t *Trigger) Close() error {
	t.nc.Close()
	return nil
}

var _ replication.Trigger = (*Trigger)(nil)

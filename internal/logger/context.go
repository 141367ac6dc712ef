package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// taskIDKey is the context key for the task correlation id.
var taskIDKey = contextKey{}

// WithTaskID returns a new context carrying the given task id, for threading
// a top-level task's correlation id through its subtask tree's log lines.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskID extracts the task id from the context.
// Returns an empty string if no task id is set.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey).(string)
	return id
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "taskforge"

// StartTaskSpan starts a span for a top-level task's run.
func StartTaskSpan(ctx context.Context, taskID, taskType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.run",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.type", taskType),
		),
	)
}

// StartSubtaskSpan starts a span for one subtask's execute body, tagged
// with the group it belongs to and its position within the parent.
func StartSubtaskSpan(ctx context.Context, subtaskID, taskType, groupTypeTag string, position int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "subtask.execute",
		trace.WithAttributes(
			attribute.String("subtask.id", subtaskID),
			attribute.String("subtask.type", taskType),
			attribute.String("subtask.group", groupTypeTag),
			attribute.Int("subtask.position", position),
		),
	)
}

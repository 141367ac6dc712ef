package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/taskforge/internal/port/telemetry"
)

const meterName = "taskforge"

// Sink implements telemetry.Sink with the two duration histograms named
// in the executor's telemetry contract: task_waiting_seconds{task_type}
// and task_execution_seconds{task_type,result}.
type Sink struct {
	waiting   metric.Float64Histogram
	execution metric.Float64Histogram
}

// NewSink creates the two instruments on the global meter provider.
func NewSink() (*Sink, error) {
	meter := otel.Meter(meterName)

	waiting, err := meter.Float64Histogram("task_waiting_seconds",
		metric.WithDescription("Time a subtask sat scheduled before its worker began executing it"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	execution, err := meter.Float64Histogram("task_execution_seconds",
		metric.WithDescription("Time a subtask's execute body ran"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Sink{waiting: waiting, execution: execution}, nil
}

// ObserveWait records d against task_waiting_seconds{task_type}.
func (s *Sink) ObserveWait(taskType string, d time.Duration) {
	s.waiting.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("task_type", taskType)))
}

// ObserveExecution records d against task_execution_seconds{task_type,result}.
func (s *Sink) ObserveExecution(taskType, result string, d time.Duration) {
	s.execution.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(
			attribute.String("task_type", taskType),
			attribute.String("result", result),
		))
}

var _ telemetry.Sink = (*Sink)(nil)

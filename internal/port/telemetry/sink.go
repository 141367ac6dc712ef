// Package telemetry defines the Telemetry Sink collaborator: the two
// duration histograms named in the executor design.
package telemetry

import "time"

// Sink records wait and execution duration observations, tagged by task
// type and (for execution) outcome.
type Sink interface {
	// ObserveWait records how long a subtask sat scheduled before its
	// worker began executing it.
	ObserveWait(taskType string, d time.Duration)
	// ObserveExecution records how long a subtask's execute() body ran,
	// tagged with its terminal result ("Success", "Failure", "Aborted").
	ObserveExecution(taskType, result string, d time.Duration)
}

// NoopSink discards every observation. Used where a caller has not wired
// a real telemetry backend (e.g. in unit tests).
type NoopSink struct{}

func (NoopSink) ObserveWait(string, time.Duration)          {}
func (NoopSink) ObserveExecution(string, string, time.Duration) {}

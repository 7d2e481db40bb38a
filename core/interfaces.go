package core

import (
	"time"
)

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting mailbox and checkpoint metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; they are called from task goroutines.
type Metrics interface {
	// RecordMailDuration records how long a mail took to execute.
	RecordMailDuration(taskName string, priority MailPriority, duration time.Duration)

	// RecordMailFailure records a mail or default action that returned an
	// error or panicked. reason is "error" or "panic".
	RecordMailFailure(taskName string, reason string)

	// RecordMailRejected records a mail dropped by a closed mailbox.
	RecordMailRejected(taskName string, reason string)

	// RecordQueueDepth records the current number of queued mails.
	RecordQueueDepth(taskName string, depth int)

	// RecordCheckpoint records the outcome of a checkpoint.
	// outcome is one of CheckpointOutcomeCompleted or CheckpointOutcomeTimeout.
	RecordCheckpoint(outcome string, duration time.Duration)
}

const (
	CheckpointOutcomeCompleted = "completed"
	CheckpointOutcomeTimeout   = "timeout"
)

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordMailDuration is a no-op.
func (m *NilMetrics) RecordMailDuration(taskName string, priority MailPriority, duration time.Duration) {
}

// RecordMailFailure is a no-op.
func (m *NilMetrics) RecordMailFailure(taskName string, reason string) {
}

// RecordMailRejected is a no-op.
func (m *NilMetrics) RecordMailRejected(taskName string, reason string) {
}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(taskName string, depth int) {
}

// RecordCheckpoint is a no-op.
func (m *NilMetrics) RecordCheckpoint(outcome string, duration time.Duration) {
}

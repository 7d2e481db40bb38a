package core

import "time"

// MailExecutionRecord captures a completed mail or default-action quantum.
type MailExecutionRecord struct {
	Description string
	TaskName    string
	Priority    MailPriority
	StartedAt   time.Time
	FinishedAt  time.Time
	Duration    time.Duration
	Failed      bool
	Panicked    bool
}

// TaskStats represents runtime observability state for a stream task.
type TaskStats struct {
	Name          string
	State         string
	Pending       int
	MailsExecuted int64
	Quanta        int64
	Suspensions   int64
	LastMail      string
	LastMailAt    time.Time

	// Set by tasks that move records; zero otherwise.
	RecordsProcessed int64
	RecordsEmitted   int64
}

// SlotStats represents runtime observability state for a task manager.
type SlotStats struct {
	ID      string
	Slots   int
	Queued  int
	Active  int
	Running bool
}

// CheckpointStats summarizes coordinator progress.
type CheckpointStats struct {
	LastTriggeredID   int64
	LastCompletedID   int64
	Pending           int
	Completed         int64
	TimedOut          int64
	LastCompletedTime time.Time
}

package stream

import (
	"context"
	"fmt"

	"github.com/Swind/go-stream-runner/core"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Invokable is the task-specific part of a StreamTask.
//
// Both methods run on the task's mailbox goroutine, never concurrently
// with each other.
type Invokable interface {
	// RunDefaultAction runs one quantum of steady-state work.
	RunDefaultAction(ctx context.Context, controller core.Controller) error
	// PerformCheckpoint snapshots local state for checkpointID.
	PerformCheckpoint(ctx context.Context, checkpointID int64) error
}

// TaskState is the lifecycle state of a StreamTask.
type TaskState int32

const (
	TaskConstructed TaskState = iota
	TaskRunning
	TaskClosed
)

func (s TaskState) String() string {
	switch s {
	case TaskConstructed:
		return "constructed"
	case TaskRunning:
		return "running"
	case TaskClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type taskOptions struct {
	logger          core.Logger
	metrics         core.Metrics
	historyCapacity int
}

// TaskOption configures a StreamTask.
type TaskOption func(*taskOptions)

// WithTaskLogger sets the logger shared by the task, its mailbox and processor.
func WithTaskLogger(logger core.Logger) TaskOption {
	return func(o *taskOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTaskMetrics sets the metrics sink.
func WithTaskMetrics(metrics core.Metrics) TaskOption {
	return func(o *taskOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTaskHistoryCapacity sets how many executed mails RecentMails keeps.
func WithTaskHistoryCapacity(capacity int) TaskOption {
	return func(o *taskOptions) { o.historyCapacity = capacity }
}

// StreamTask runs an Invokable on a mailbox loop.
//
// The owner token is allocated at construction and never changes. Invoke
// stamps it into the context of whichever goroutine runs the loop, so that
// goroutine becomes the only consumer of the mailbox.
type StreamTask struct {
	name      string
	impl      Invokable
	owner     core.OwnerToken
	mailbox   *core.TaskMailbox
	processor *core.MailboxProcessor
	state     atomic.Int32
	logger    core.Logger
}

// NewStreamTask builds the mailbox and processor of a task running impl.
func NewStreamTask(name string, impl Invokable, opts ...TaskOption) *StreamTask {
	o := taskOptions{
		logger:  core.NewNoOpLogger(),
		metrics: &core.NilMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	owner := core.NewOwnerToken()
	mailbox := core.NewTaskMailbox(name, owner,
		core.WithMailboxLogger(o.logger),
		core.WithMailboxMetrics(o.metrics))

	t := &StreamTask{
		name:    name,
		impl:    impl,
		owner:   owner,
		mailbox: mailbox,
		logger:  o.logger,
	}
	procOpts := []core.ProcessorOption{
		core.WithProcessorLogger(o.logger),
		core.WithProcessorMetrics(o.metrics),
	}
	if o.historyCapacity > 0 {
		procOpts = append(procOpts, core.WithHistoryCapacity(o.historyCapacity))
	}
	t.processor = core.NewMailboxProcessor(mailbox, core.DefaultActionFunc(impl.RunDefaultAction), procOpts...)
	return t
}

// Invoke runs the mailbox loop on the calling goroutine until the mailbox is
// closed, ctx is cancelled, or a mail or quantum fails. Cancellation is a
// normal exit. The mailbox is closed on every exit path.
func (t *StreamTask) Invoke(ctx context.Context) (err error) {
	if !t.state.CompareAndSwap(int32(TaskConstructed), int32(TaskRunning)) {
		return ErrTaskAlreadyInvoked.GenWithStackByArgs(t.name)
	}

	ctx = core.WithOwner(ctx, t.owner)
	stop := context.AfterFunc(ctx, t.mailbox.Close)

	defer func() {
		stop()
		t.mailbox.Close()
		t.state.Store(int32(TaskClosed))
		if err != nil {
			t.logger.Error("Task failed", core.F("task", t.name), core.F("error", err))
			return
		}
		t.logger.Info("Task finished", core.F("task", t.name))
	}()

	t.logger.Info("Task started", core.F("task", t.name))
	err = t.processor.RunMailboxLoop(ctx)
	if err != nil && ctx.Err() != nil && errors.Cause(err) == ctx.Err() {
		err = nil
	}
	return err
}

// TriggerCheckpoint asks the task to snapshot for checkpointID ahead of any
// queued data work.
func (t *StreamTask) TriggerCheckpoint(checkpointID int64) {
	t.ControlMailboxExecutor().Execute(func(ctx context.Context) error {
		return t.impl.PerformCheckpoint(ctx, checkpointID)
	}, fmt.Sprintf("checkpoint %d", checkpointID))
}

// ResumeDefaultAction may be called from any goroutine.
func (t *StreamTask) ResumeDefaultAction() {
	t.processor.ResumeDefaultAction()
}

// Close closes the mailbox, which ends a running Invoke.
func (t *StreamTask) Close() {
	t.mailbox.Close()
}

func (t *StreamTask) Name() string                                  { return t.name }
func (t *StreamTask) Owner() core.OwnerToken                        { return t.owner }
func (t *StreamTask) State() TaskState                              { return TaskState(t.state.Load()) }
func (t *StreamTask) Mailbox() *core.TaskMailbox                    { return t.mailbox }
func (t *StreamTask) ControlMailboxExecutor() *core.MailboxExecutor { return t.processor.ControlExecutor() }
func (t *StreamTask) DefaultMailboxExecutor() *core.MailboxExecutor { return t.processor.DefaultExecutor() }

// RecentMails returns up to limit executed mails, newest first.
func (t *StreamTask) RecentMails(limit int) []core.MailExecutionRecord {
	return t.processor.RecentMails(limit)
}

// Stats returns a snapshot of the task's mailbox counters.
func (t *StreamTask) Stats() core.TaskStats {
	return t.processor.Stats()
}

package core

import (
	"context"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Controller is handed to a default action quantum so it can pause itself.
type Controller interface {
	// SuspendDefaultAction stops further quanta until ResumeDefaultAction
	// is called. It must only be called from inside a quantum.
	SuspendDefaultAction()
}

// DefaultAction is the steady-state work of a task. Each call must process
// at most one unit of input, or suspend itself when no input is available.
type DefaultAction interface {
	RunDefaultAction(ctx context.Context, controller Controller) error
}

// DefaultActionFunc adapts a function to DefaultAction.
type DefaultActionFunc func(ctx context.Context, controller Controller) error

func (f DefaultActionFunc) RunDefaultAction(ctx context.Context, controller Controller) error {
	return f(ctx, controller)
}

// MailboxProcessor runs the mailbox loop of one task:
//
//  1. drain every queued control mail;
//  2. run one default action quantum if the default action is available;
//  3. otherwise block until any mail arrives and run it.
//
// defaultActionAvailable is only ever written by the goroutine running
// RunMailboxLoop: directly by SuspendDefaultAction, and through a control
// mail by ResumeDefaultAction.
type MailboxProcessor struct {
	mailbox         *TaskMailbox
	action          DefaultAction
	controlExecutor *MailboxExecutor
	defaultExecutor *MailboxExecutor

	defaultActionAvailable bool

	resumeRequested atomic.Bool
	mailsExecuted   atomic.Int64
	quanta          atomic.Int64
	suspensions     atomic.Int64

	history *executionHistory
	logger  Logger
	metrics Metrics
}

// ProcessorOption configures a MailboxProcessor.
type ProcessorOption func(*MailboxProcessor)

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger Logger) ProcessorOption {
	return func(p *MailboxProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithProcessorMetrics sets the metrics sink.
func WithProcessorMetrics(metrics Metrics) ProcessorOption {
	return func(p *MailboxProcessor) {
		if metrics != nil {
			p.metrics = metrics
		}
	}
}

// WithHistoryCapacity sets how many mail executions are kept for RecentMails.
func WithHistoryCapacity(capacity int) ProcessorOption {
	return func(p *MailboxProcessor) {
		p.history = newExecutionHistory(capacity)
	}
}

// NewMailboxProcessor creates a processor over mailbox running action as its
// default action.
func NewMailboxProcessor(mailbox *TaskMailbox, action DefaultAction, opts ...ProcessorOption) *MailboxProcessor {
	p := &MailboxProcessor{
		mailbox:                mailbox,
		action:                 action,
		controlExecutor:        NewMailboxExecutor(mailbox, ControlPriority),
		defaultExecutor:        NewMailboxExecutor(mailbox, DefaultPriority),
		defaultActionAvailable: true,
		history:                newExecutionHistory(defaultMailHistoryCapacity),
		logger:                 NewNoOpLogger(),
		metrics:                &NilMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ControlExecutor submits control-priority mail.
func (p *MailboxProcessor) ControlExecutor() *MailboxExecutor { return p.controlExecutor }

// DefaultExecutor submits default-priority mail.
func (p *MailboxProcessor) DefaultExecutor() *MailboxExecutor { return p.defaultExecutor }

// Mailbox returns the underlying mailbox.
func (p *MailboxProcessor) Mailbox() *TaskMailbox { return p.mailbox }

// RunMailboxLoop runs until the mailbox is closed (returns nil) or a mail or
// quantum fails (returns that error). ctx must carry the mailbox owner token.
func (p *MailboxProcessor) RunMailboxLoop(ctx context.Context) error {
	for {
		if p.mailbox.State() == MailboxClosed {
			return nil
		}

		if err := p.processControlMail(ctx); err != nil {
			return err
		}

		if p.defaultActionAvailable {
			if err := p.runDefaultAction(ctx); err != nil {
				return err
			}
			continue
		}

		mail, err := p.mailbox.Take(ctx, DefaultPriority)
		if err != nil {
			if ErrMailboxClosed.Equal(err) {
				return nil
			}
			return err
		}
		if err := p.runMail(ctx, mail); err != nil {
			return err
		}
	}
}

// processControlMail runs control mail until none is left at that threshold.
func (p *MailboxProcessor) processControlMail(ctx context.Context) error {
	for {
		mail, ok, err := p.mailbox.TryTake(ctx, ControlPriority)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := p.runMail(ctx, mail); err != nil {
			return err
		}
	}
}

func (p *MailboxProcessor) runMail(ctx context.Context, mail *Mail) (err error) {
	startedAt := time.Now()
	panicked := false

	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			err = ErrMailPanicked.GenWithStackByArgs(mail.Description(), rec)
		}
		finishedAt := time.Now()
		p.mailsExecuted.Inc()
		p.history.Add(MailExecutionRecord{
			Description: mail.Description(),
			TaskName:    p.mailbox.Name(),
			Priority:    mail.Priority(),
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
			Duration:    finishedAt.Sub(startedAt),
			Failed:      err != nil,
			Panicked:    panicked,
		})
		p.metrics.RecordMailDuration(p.mailbox.Name(), mail.Priority(), finishedAt.Sub(startedAt))
		p.recordFailure(err, panicked)
	}()

	if err = mail.Run(ctx); err != nil {
		err = errors.Annotatef(err, "mail %s", mail.Description())
	}
	return err
}

func (p *MailboxProcessor) runDefaultAction(ctx context.Context) (err error) {
	panicked := false
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			err = ErrDefaultActionPanicked.GenWithStackByArgs(p.mailbox.Name(), rec)
		}
		p.quanta.Inc()
		p.recordFailure(err, panicked)
	}()

	return p.action.RunDefaultAction(ctx, p)
}

func (p *MailboxProcessor) recordFailure(err error, panicked bool) {
	if err == nil {
		return
	}
	reason := "error"
	if panicked {
		reason = "panic"
	}
	p.metrics.RecordMailFailure(p.mailbox.Name(), reason)
	p.logger.Error("Mailbox loop failed", F("task", p.mailbox.Name()), F("error", err))
}

// SuspendDefaultAction implements Controller.
func (p *MailboxProcessor) SuspendDefaultAction() {
	p.defaultActionAvailable = false
	p.suspensions.Inc()
}

// ResumeDefaultAction makes the default action available again. It may be
// called from any goroutine: the flag itself is flipped by a control mail
// executed on the mailbox goroutine. Concurrent calls are coalesced while a
// resumption mail is still queued.
func (p *MailboxProcessor) ResumeDefaultAction() {
	if !p.resumeRequested.CompareAndSwap(false, true) {
		return
	}
	p.controlExecutor.Execute(func(ctx context.Context) error {
		p.resumeRequested.Store(false)
		p.defaultActionAvailable = true
		return nil
	}, "resume default action")
}

// RecentMails returns up to limit executed mails, newest first.
func (p *MailboxProcessor) RecentMails(limit int) []MailExecutionRecord {
	return p.history.Recent(limit)
}

// Stats returns a snapshot of processor counters.
func (p *MailboxProcessor) Stats() TaskStats {
	stats := TaskStats{
		Name:          p.mailbox.Name(),
		State:         p.mailbox.State().String(),
		Pending:       p.mailbox.Len(),
		MailsExecuted: p.mailsExecuted.Load(),
		Quanta:        p.quanta.Load(),
		Suspensions:   p.suspensions.Load(),
	}
	if last, ok := p.history.Last(); ok {
		stats.LastMail = last.Description
		stats.LastMailAt = last.FinishedAt
	}
	return stats
}

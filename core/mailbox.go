package core

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
)

// MailboxState is the lifecycle state of a TaskMailbox.
type MailboxState int32

const (
	// MailboxOpen accepts and delivers mail.
	MailboxOpen MailboxState = iota
	// MailboxQuiesced is reserved; no transition enters it yet.
	MailboxQuiesced
	// MailboxClosed is terminal: mail is dropped and waiters are released.
	MailboxClosed
)

func (s MailboxState) String() string {
	switch s {
	case MailboxOpen:
		return "open"
	case MailboxQuiesced:
		return "quiesced"
	case MailboxClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TaskMailbox is a priority-partitioned mail queue with exactly one consumer.
//
// Put may be called from any goroutine. TryTake and Take may only be called
// with a context stamped with the mailbox owner token (see WithOwner); any
// other caller gets ErrThreadAffinityViolation regardless of the contents.
type TaskMailbox struct {
	name  string
	owner OwnerToken

	mu       sync.Mutex
	notEmpty *sync.Cond
	queue    *mailQueue
	state    MailboxState

	logger  Logger
	metrics Metrics
}

// MailboxOption configures a TaskMailbox.
type MailboxOption func(*TaskMailbox)

// WithMailboxLogger sets the logger used for dropped mail.
func WithMailboxLogger(logger Logger) MailboxOption {
	return func(m *TaskMailbox) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMailboxMetrics sets the metrics sink.
func WithMailboxMetrics(metrics Metrics) MailboxOption {
	return func(m *TaskMailbox) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// NewTaskMailbox creates an open mailbox consumed by owner.
func NewTaskMailbox(name string, owner OwnerToken, opts ...MailboxOption) *TaskMailbox {
	m := &TaskMailbox{
		name:    name,
		owner:   owner,
		queue:   newMailQueue(),
		state:   MailboxOpen,
		logger:  NewNoOpLogger(),
		metrics: &NilMetrics{},
	}
	m.notEmpty = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *TaskMailbox) Name() string      { return m.name }
func (m *TaskMailbox) Owner() OwnerToken { return m.owner }

// Put enqueues mail. It never blocks; mail put after Close is dropped.
func (m *TaskMailbox) Put(mail *Mail) {
	m.mu.Lock()
	if m.state == MailboxClosed {
		m.mu.Unlock()
		m.logger.Info("Mailbox is closed, dropping mail",
			F("mailbox", m.name), F("mail", mail.Description()))
		m.metrics.RecordMailRejected(m.name, "closed")
		return
	}
	m.queue.push(mail)
	depth := m.queue.len()
	m.notEmpty.Signal()
	m.mu.Unlock()

	m.metrics.RecordQueueDepth(m.name, depth)
}

// TryTake returns the head mail if its priority is <= priority.
// It never blocks.
func (m *TaskMailbox) TryTake(ctx context.Context, priority MailPriority) (*Mail, bool, error) {
	if err := m.checkIsMailboxThread(ctx); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	mail, ok := m.queue.popUpTo(priority)
	return mail, ok, nil
}

// Take blocks until a mail with priority <= priority is available.
// It fails with ErrMailboxClosed once the mailbox is closed, or with the
// context error if ctx is done first.
func (m *TaskMailbox) Take(ctx context.Context, priority MailPriority) (*Mail, error) {
	if err := m.checkIsMailboxThread(ctx); err != nil {
		return nil, err
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			m.mu.Lock()
			m.notEmpty.Broadcast()
			m.mu.Unlock()
		})
		defer stop()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if mail, ok := m.queue.popUpTo(priority); ok {
			return mail, nil
		}
		if m.state == MailboxClosed {
			return nil, ErrMailboxClosed.GenWithStackByArgs(m.name)
		}
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		m.notEmpty.Wait()
	}
}

// Close transitions the mailbox to MailboxClosed, drops pending mail and
// wakes all waiters. Calling Close more than once is a no-op.
func (m *TaskMailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == MailboxClosed {
		return
	}
	dropped := m.queue.len()
	m.state = MailboxClosed
	m.queue.clear()
	m.notEmpty.Broadcast()
	m.logger.Debug("Mailbox closed", F("mailbox", m.name), F("dropped", dropped))
}

// HasMail reports whether any mail is queued.
func (m *TaskMailbox) HasMail() bool {
	return m.Len() > 0
}

// Len returns the number of queued mails.
func (m *TaskMailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// State returns the current lifecycle state.
func (m *TaskMailbox) State() MailboxState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *TaskMailbox) checkIsMailboxThread(ctx context.Context) error {
	if OwnerFromContext(ctx) != m.owner || m.owner == NoOwner {
		return ErrThreadAffinityViolation.GenWithStackByArgs(m.name)
	}
	return nil
}

// =============================================================================
// MailboxExecutor: (mailbox, fixed priority) submission facade
// =============================================================================

// MailboxExecutor submits mail to a mailbox at a fixed priority.
// It is safe for concurrent use.
type MailboxExecutor struct {
	mailbox  *TaskMailbox
	priority MailPriority
}

// NewMailboxExecutor creates an executor that enqueues into mailbox at priority.
func NewMailboxExecutor(mailbox *TaskMailbox, priority MailPriority) *MailboxExecutor {
	return &MailboxExecutor{mailbox: mailbox, priority: priority}
}

// Execute wraps action into a Mail and puts it into the mailbox.
func (e *MailboxExecutor) Execute(action MailAction, description string) {
	e.mailbox.Put(NewMail(action, e.priority, description))
}

// Priority returns the priority of every mail submitted through e.
func (e *MailboxExecutor) Priority() MailPriority { return e.priority }

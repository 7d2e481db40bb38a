package core

import (
	"context"
	"fmt"
)

// MailAction is the body of a mail. Returning an error terminates the
// mailbox loop that runs it.
type MailAction func(ctx context.Context) error

// =============================================================================
// MailPriority: lower value is more urgent
// =============================================================================

type MailPriority int

const (
	// ControlPriority is reserved for system messages (checkpoints,
	// resumptions) that preempt data processing.
	ControlPriority MailPriority = 0

	// DefaultPriority is used by task-internal logic.
	DefaultPriority MailPriority = 1
)

func (p MailPriority) String() string {
	switch p {
	case ControlPriority:
		return "control"
	case DefaultPriority:
		return "default"
	default:
		return fmt.Sprintf("priority-%d", int(p))
	}
}

// Mail is a unit of work queued in a TaskMailbox.
// All fields are fixed once the mail is enqueued.
type Mail struct {
	action      MailAction
	priority    MailPriority
	description string
	sequence    uint64
}

// NewMail creates a mail. The sequence number is assigned by the mailbox on Put.
func NewMail(action MailAction, priority MailPriority, description string) *Mail {
	return &Mail{
		action:      action,
		priority:    priority,
		description: description,
	}
}

func (m *Mail) Priority() MailPriority { return m.priority }
func (m *Mail) Description() string    { return m.description }
func (m *Mail) Sequence() uint64       { return m.sequence }

// Run executes the mail body.
func (m *Mail) Run(ctx context.Context) error {
	if m.action == nil {
		return nil
	}
	return m.action(ctx)
}

func (m *Mail) String() string {
	return m.description
}

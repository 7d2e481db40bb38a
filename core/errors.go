package core

import (
	"github.com/pingcap/errors"
)

// Errors raised by the mailbox runtime and the components built on it.
var (
	ErrThreadAffinityViolation = errors.Normalize(
		"mailbox %s accessed from a non-owner execution context",
		errors.RFCCodeText("STREAM:ErrThreadAffinityViolation"),
	)
	ErrMailboxClosed = errors.Normalize(
		"mailbox %s is closed",
		errors.RFCCodeText("STREAM:ErrMailboxClosed"),
	)
	ErrMailPanicked = errors.Normalize(
		"mail %s panicked: %v",
		errors.RFCCodeText("STREAM:ErrMailPanicked"),
	)
	ErrDefaultActionPanicked = errors.Normalize(
		"default action of %s panicked: %v",
		errors.RFCCodeText("STREAM:ErrDefaultActionPanicked"),
	)
	ErrTaskAlreadyInvoked = errors.Normalize(
		"task %s has already been invoked",
		errors.RFCCodeText("STREAM:ErrTaskAlreadyInvoked"),
	)
	ErrChannelClosed = errors.Normalize(
		"data channel is closed",
		errors.RFCCodeText("STREAM:ErrChannelClosed"),
	)
	ErrInvalidLogic = errors.Normalize(
		"logic %T is neither a source, an operator nor a sink",
		errors.RFCCodeText("STREAM:ErrInvalidLogic"),
	)
	ErrInvalidJobGraph = errors.Normalize(
		"invalid job graph: %s",
		errors.RFCCodeText("STREAM:ErrInvalidJobGraph"),
	)
	ErrJobAlreadySubmitted = errors.Normalize(
		"job manager already runs job %s",
		errors.RFCCodeText("STREAM:ErrJobAlreadySubmitted"),
	)
	ErrCheckpointTimeout = errors.Normalize(
		"checkpoint %d timed out after %s with %d acknowledgements missing",
		errors.RFCCodeText("STREAM:ErrCheckpointTimeout"),
	)
	ErrCheckpointUnknown = errors.Normalize(
		"checkpoint %d is unknown or already finished",
		errors.RFCCodeText("STREAM:ErrCheckpointUnknown"),
	)
	ErrCheckpointCoordinatorStopped = errors.Normalize(
		"checkpoint coordinator is stopped",
		errors.RFCCodeText("STREAM:ErrCheckpointCoordinatorStopped"),
	)
	ErrTaskManagerClosed = errors.Normalize(
		"task manager %s is closed",
		errors.RFCCodeText("STREAM:ErrTaskManagerClosed"),
	)
	ErrTaskPanicked = errors.Normalize(
		"task %s panicked: %v",
		errors.RFCCodeText("STREAM:ErrTaskPanicked"),
	)
	ErrConfigInvalid = errors.Normalize(
		"invalid configuration: %s",
		errors.RFCCodeText("STREAM:ErrConfigInvalid"),
	)
)

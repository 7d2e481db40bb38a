package stream

import "github.com/Swind/go-stream-runner/core"

var (
	ErrChannelClosed      = core.ErrChannelClosed
	ErrTaskAlreadyInvoked = core.ErrTaskAlreadyInvoked
	ErrInvalidLogic       = core.ErrInvalidLogic
)

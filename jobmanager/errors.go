package jobmanager

import "github.com/Swind/go-stream-runner/core"

var (
	ErrJobAlreadySubmitted          = core.ErrJobAlreadySubmitted
	ErrCheckpointTimeout            = core.ErrCheckpointTimeout
	ErrCheckpointUnknown            = core.ErrCheckpointUnknown
	ErrCheckpointCoordinatorStopped = core.ErrCheckpointCoordinatorStopped
)

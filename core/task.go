package core

import "context"

// Task is a unit of work posted to a SingleThreadTaskRunner (Closure)
type Task func(ctx context.Context)

// RepeatingTaskHandle controls the lifecycle of a repeating task
type RepeatingTaskHandle interface {
	Stop()
	IsStopped() bool
}

package taskmanager

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
)

// TaskFuture completes when a submitted task returns.
type TaskFuture struct {
	name string
	done chan struct{}
	once sync.Once
	err  error
}

func newTaskFuture(name string) *TaskFuture {
	return &TaskFuture{name: name, done: make(chan struct{})}
}

func (f *TaskFuture) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Name is the name of the task the future belongs to.
func (f *TaskFuture) Name() string { return f.name }

// Done is closed once the task has finished.
func (f *TaskFuture) Done() <-chan struct{} { return f.done }

// Err returns the task result. It is nil until Done is closed.
func (f *TaskFuture) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (f *TaskFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

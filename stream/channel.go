package stream

import (
	"context"
	"sync"

	"github.com/edwingeng/deque"
	"github.com/pingcap/errors"
)

// DataChannel is a bounded FIFO of elements between exactly one producer
// task instance and one consumer task instance.
//
// Push blocks while the channel is full, which propagates backpressure to
// the producer. Barriers are appended behind the records already queued and
// never overtake them.
type DataChannel struct {
	name     string
	capacity int

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      deque.Deque
	closed   bool

	// listener fires once on the next push.
	listener func()
}

// NewDataChannel creates a channel holding at most capacity elements.
// capacity below 1 is raised to 1.
func NewDataChannel(name string, capacity int) *DataChannel {
	if capacity < 1 {
		capacity = 1
	}
	c := &DataChannel{
		name:     name,
		capacity: capacity,
		buf:      deque.NewDeque(),
	}
	c.notEmpty = sync.NewCond(&c.mu)
	c.notFull = sync.NewCond(&c.mu)
	return c
}

func (c *DataChannel) Name() string { return c.name }
func (c *DataChannel) Cap() int     { return c.capacity }

// Len returns the number of queued elements.
func (c *DataChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Len()
}

// Push appends a record, blocking while the channel is full.
func (c *DataChannel) Push(ctx context.Context, record any) error {
	return c.push(ctx, RecordElement(record))
}

// BroadcastBarrier appends barrier behind every element already queued.
// It blocks like Push when the channel is full.
func (c *DataChannel) BroadcastBarrier(ctx context.Context, barrier CheckpointBarrier) error {
	return c.push(ctx, BarrierElement(barrier))
}

func (c *DataChannel) push(ctx context.Context, elem Element) error {
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	for c.buf.Len() >= c.capacity && !c.closed && ctx.Err() == nil {
		c.notFull.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed.GenWithStackByArgs()
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return errors.Trace(err)
	}
	c.buf.PushBack(elem)
	c.notEmpty.Signal()
	listener := c.listener
	c.listener = nil
	c.mu.Unlock()

	if listener != nil {
		listener()
	}
	return nil
}

// Pop removes the head element, blocking while the channel is empty.
// Elements queued before Close can still be popped.
func (c *DataChannel) Pop(ctx context.Context) (Element, error) {
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.buf.Empty() && !c.closed && ctx.Err() == nil {
		c.notEmpty.Wait()
	}
	if !c.buf.Empty() {
		return c.popLocked(), nil
	}
	if c.closed {
		return Element{}, ErrChannelClosed.GenWithStackByArgs()
	}
	return Element{}, errors.Trace(ctx.Err())
}

// TryPop removes the head element if there is one. It never blocks.
func (c *DataChannel) TryPop() (Element, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buf.Empty() {
		return Element{}, false
	}
	return c.popLocked(), true
}

func (c *DataChannel) popLocked() Element {
	elem := c.buf.PopFront().(Element)
	c.notFull.Signal()
	return elem
}

// OnAvailable registers cb to run once on the next push. If data is already
// queued, cb runs immediately on the calling goroutine. A later registration
// replaces an earlier one that has not fired.
func (c *DataChannel) OnAvailable(cb func()) {
	c.mu.Lock()
	if !c.buf.Empty() {
		c.mu.Unlock()
		cb()
		return
	}
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.listener = cb
	c.mu.Unlock()
}

// Close wakes blocked producers and consumers with ErrChannelClosed.
// Queued elements stay poppable.
func (c *DataChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.listener = nil
	c.notEmpty.Broadcast()
	c.notFull.Broadcast()
}

func (c *DataChannel) wakeOnDone(ctx context.Context) func() bool {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notEmpty.Broadcast()
		c.notFull.Broadcast()
		c.mu.Unlock()
	})
}

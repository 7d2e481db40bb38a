package taskmanager

import (
	"sync"

	"github.com/edwingeng/deque"
	"go.uber.org/atomic"
)

type work struct {
	task   Task
	future *TaskFuture
}

// slotQueue holds submitted tasks until a slot frees up. Tasks are handed
// out in submission order.
type slotQueue struct {
	mu     sync.Mutex
	items  deque.Deque
	signal chan struct{}

	metricQueued atomic.Int32 // waiting for a slot
	metricActive atomic.Int32 // running in a slot

	shuttingDown atomic.Bool
}

func newSlotQueue(slots int) *slotQueue {
	return &slotQueue{
		items:  deque.NewDeque(),
		signal: make(chan struct{}, slots*2),
	}
}

// push queues w. It returns false once the queue is shut down.
func (q *slotQueue) push(w *work) bool {
	q.mu.Lock()
	if q.shuttingDown.Load() {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(w)
	q.metricQueued.Inc()
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
		// Signal buffer full; the work is queued and a worker will find it.
	}
	return true
}

func (q *slotQueue) pop() (*work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *slotQueue) popLocked() (*work, bool) {
	if q.items.Empty() {
		return nil, false
	}
	q.metricQueued.Dec()
	return q.items.PopFront().(*work), true
}

// getWork blocks until work is available or stopCh is closed.
func (q *slotQueue) getWork(stopCh <-chan struct{}) (*work, bool) {
	for {
		if w, ok := q.pop(); ok {
			return w, true
		}
		select {
		case <-q.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// shutdown rejects further pushes and returns the work that never started.
func (q *slotQueue) shutdown() []*work {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuttingDown.Store(true)

	var pending []*work
	for {
		w, ok := q.popLocked()
		if !ok {
			return pending
		}
		pending = append(pending, w)
	}
}

func (q *slotQueue) onTaskStart() { q.metricActive.Inc() }
func (q *slotQueue) onTaskEnd()   { q.metricActive.Dec() }
func (q *slotQueue) queued() int  { return int(q.metricQueued.Load()) }
func (q *slotQueue) active() int  { return int(q.metricActive.Load()) }

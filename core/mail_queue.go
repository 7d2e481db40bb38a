package core

import (
	"container/heap"
)

const (
	defaultQueueCap = 16
	compactMinCap   = 64 // Don't compact if capacity is less than this
)

// =============================================================================
// mailQueue: Min-Heap ordered by (priority, sequence)
// =============================================================================
//
// mailQueue is not synchronized; TaskMailbox guards it with its own lock.
// The sequence key keeps equal-priority mail in submission order, which a
// bare priority heap does not.

type mailHeap []*Mail

func (h mailHeap) Len() int { return len(h) }

// Less puts the most urgent (smallest) priority first, then the earliest sequence.
func (h mailHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].sequence < h[j].sequence
}

func (h mailHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mailHeap) Push(x any) {
	*h = append(*h, x.(*Mail))
}

func (h *mailHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	*h = old[0 : n-1]
	return item
}

type mailQueue struct {
	pq           mailHeap
	nextSequence uint64
}

func newMailQueue() *mailQueue {
	return &mailQueue{pq: make(mailHeap, 0, defaultQueueCap)}
}

// push stamps the next sequence number onto mail and enqueues it.
func (q *mailQueue) push(mail *Mail) {
	mail.sequence = q.nextSequence
	q.nextSequence++
	heap.Push(&q.pq, mail)
}

// peek returns the most urgent mail without removing it.
func (q *mailQueue) peek() (*Mail, bool) {
	if len(q.pq) == 0 {
		return nil, false
	}
	return q.pq[0], true
}

// popUpTo removes the head mail if its priority is within threshold.
func (q *mailQueue) popUpTo(threshold MailPriority) (*Mail, bool) {
	head, ok := q.peek()
	if !ok || head.priority > threshold {
		return nil, false
	}
	mail := heap.Pop(&q.pq).(*Mail)
	q.maybeCompact()
	return mail, true
}

func (q *mailQueue) len() int { return len(q.pq) }

// clear drops every queued mail. The sequence counter keeps increasing so
// ordering stays monotonic across the lifetime of the mailbox.
func (q *mailQueue) clear() {
	q.pq = make(mailHeap, 0, defaultQueueCap)
}

func (q *mailQueue) maybeCompact() {
	n := len(q.pq)
	c := cap(q.pq)
	if c < compactMinCap || n*4 >= c {
		return
	}
	shrunk := make(mailHeap, n, max(c/2, defaultQueueCap))
	copy(shrunk, q.pq)
	q.pq = shrunk
}

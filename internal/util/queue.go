package util

import "sync"

// Queue is an unbounded FIFO mailbox with a single consumer. Push never
// blocks, so it is safe to call from library callbacks that must return
// promptly. The consumer waits on Signal and then takes everything with
// Drain.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends v. It reports false if the queue has been closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Signal fires at least once after every Push.
func (q *Queue[T]) Signal() <-chan struct{} {
	return q.signal
}

// Drain removes and returns all queued items in arrival order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Close rejects further pushes. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// ABOUTME: Unbounded FIFO of payload buffers shared by one producer and one consumer
// ABOUTME: Non-blocking push and try-pop, context-aware blocking pop, graceful close
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and drained
var ErrClosed = errors.New("queue: closed")

// Queue is a goroutine-safe, unbounded, ordered queue of byte buffers.
//
// Push never blocks, so a network loop can feed it without waiting on the
// consumer. TryPop never blocks either, which makes it usable from a
// real-time audio callback. Pop blocks until an item arrives, the queue is
// closed and empty, or the context ends.
//
// Fan-out is done by giving every consumer its own Queue; a Queue is not
// meant to be shared between competing readers.
type Queue struct {
	notify chan struct{}

	mu     sync.Mutex
	items  [][]byte
	head   int
	closed bool
}

// New creates an empty queue
func New() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends a buffer. Pushing to a closed queue is a no-op and reports false.
func (q *Queue) Push(b []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, b)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// TryPop removes and returns the oldest buffer without waiting
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop removes and returns the oldest buffer, waiting for one if necessary
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	for {
		q.mu.Lock()
		if b, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return b, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// popLocked must hold q.mu
func (q *Queue) popLocked() ([]byte, bool) {
	if q.head >= len(q.items) {
		return nil, false
	}
	b := q.items[q.head]
	q.items[q.head] = nil
	q.head++

	// Compact once the consumed prefix dominates the slice
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = nil
		}
		q.items = q.items[:n]
		q.head = 0
	}
	return b, true
}

// Len returns the number of pending buffers
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops further pushes. Pending buffers remain readable; once they are
// drained Pop returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.notify)
	q.mu.Unlock()
}

// Closed reports whether Close has been called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

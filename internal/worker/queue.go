// Package worker runs queued tasks one at a time on a single background
// goroutine, in the order they were pushed.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmpty is returned by [Queue.Pop] when the poll timeout expires
	// before a task arrives.
	ErrEmpty = errors.New("worker: queue empty")

	// ErrClosed is returned once the queue has been closed and drained.
	ErrClosed = errors.New("worker: queue closed")
)

// Queue is an unbounded FIFO queue. Push never blocks; producers are expected
// to throttle themselves.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends item. It returns [ErrClosed] after [Queue.Close].
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes and returns the oldest item, waiting up to timeout for one to
// arrive.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	var timer *time.Timer
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			if timer != nil {
				timer.Stop()
			}
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		if timer == nil {
			timer = time.NewTimer(timeout)
			defer timer.Stop()
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return zero, ErrEmpty
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of waiting items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package events

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO ring that doubles its capacity at 70% fill.
type Queue[T any] struct {
	mu      sync.Mutex
	buf     []T
	head    int
	tail    int
	count   int
	closed  bool
	notify  chan struct{} // closed and replaced whenever an item arrives or the queue closes
	pushed  int64
	popped  int64
	resizes int
}

// QueueStats reports queue usage.
type QueueStats struct {
	Len      int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

// NewQueue creates a queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Queue[T]{
		buf:    make([]T, initialCapacity),
		notify: make(chan struct{}),
	}
}

// Push appends item. It returns false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.buf) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.pushed++

	q.wakeLocked()
	return true
}

// Pop blocks until an item is available, the queue is closed and drained,
// or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			item := q.popLocked()
			q.mu.Unlock()
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// TryPop returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// PopBatch removes up to max items (all when max <= 0) in FIFO order.
func (q *Queue[T]) PopBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if n == 0 {
		return nil
	}
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // release for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return item
}

func (q *Queue[T]) wakeLocked() {
	close(q.notify)
	if !q.closed {
		q.notify = make(chan struct{})
	}
}

// grow doubles the ring, unwrapping it so head is 0.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.buf)*2)
	if q.count > 0 {
		if q.head < q.tail {
			copy(next, q.buf[q.head:q.tail])
		} else {
			n := copy(next, q.buf[q.head:])
			copy(next[n:], q.buf[:q.tail])
		}
	}
	q.buf = next
	q.head = 0
	q.tail = q.count
	q.resizes++
}

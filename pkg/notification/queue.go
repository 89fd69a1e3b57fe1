package notification

import "sync"

// Terminator is implemented by queued items that may end an operation.
type Terminator interface {
	Terminal() bool
}

// Queue is a bounded FIFO between a publisher and one consumer. Push never
// blocks. When the queue is full a non-terminal item is dropped, while a
// terminal one evicts the oldest non-terminal entry instead, so the event
// that ends an operation always reaches the consumer.
type Queue[T Terminator] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	dropped  int64
	ready    chan struct{}
}

// NewQueue returns an empty queue holding up to capacity items (at least one).
func NewQueue[T Terminator](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Push appends item. It returns false when something was discarded to make
// room, either item itself or an evicted older one. Pushing to a closed
// queue discards item.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped++
		return false
	}

	kept := true
	if len(q.items) >= q.capacity {
		if !item.Terminal() {
			q.dropped++
			return false
		}
		// Terminal items never displace each other; with nothing else to
		// evict the queue grows past capacity.
		kept = !q.evictLocked()
	}
	q.items = append(q.items, item)
	q.signal()
	return kept
}

// evictLocked removes the oldest non-terminal entry.
func (q *Queue[T]) evictLocked() bool {
	for i, item := range q.items {
		if !item.Terminal() {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled after a Push or Close. One signal may cover several
// pushes, so consumers selecting on it drain the queue with Pop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Pop removes the oldest item without blocking.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	last := len(q.items) - 1
	copy(q.items, q.items[1:])
	q.items[last] = zero
	q.items = q.items[:last]
	return item, true
}

// Next blocks until an item is available. After Close it returns the
// remaining items and then false.
func (q *Queue[T]) Next() (T, bool) {
	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()
		if ok || closed {
			return item, ok
		}
		<-q.ready
	}
}

// Close stops accepting items and wakes a consumer blocked in Next.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signal()
	}
}

// Dropped returns how many items were discarded.
func (q *Queue[T]) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

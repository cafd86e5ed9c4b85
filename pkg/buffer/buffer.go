// Package buffer holds items that could not be delivered yet.
package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a thread-safe bounded FIFO. When full, the oldest items are
// dropped to make room for new ones.
type RingBuffer[T any] struct {
	mu       sync.Mutex
	data     []T
	capacity int
	start    int
	size     int
	dropped  int
	logger   *zap.Logger
}

// New creates a RingBuffer holding at most capacity items
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Add appends items in order, evicting the oldest entries on overflow
func (rb *RingBuffer[T]) Add(items ...T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	evicted := 0
	for _, item := range items {
		end := (rb.start + rb.size) % rb.capacity
		rb.data[end] = item
		if rb.size == rb.capacity {
			rb.start = (rb.start + 1) % rb.capacity
			evicted++
		} else {
			rb.size++
		}
	}

	if evicted > 0 {
		rb.dropped += evicted
		rb.logger.Warn("buffer full, dropped oldest entries",
			zap.Int("capacity", rb.capacity),
			zap.Int("dropped", evicted))
	}
}

// Drain removes and returns all items, oldest first
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return nil
	}

	out := make([]T, rb.size)
	for i := range out {
		out[i] = rb.data[(rb.start+i)%rb.capacity]
	}

	var zero T
	for i := range rb.data {
		rb.data[i] = zero
	}
	rb.start, rb.size = 0, 0
	return out
}

// Len returns the number of buffered items
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Capacity returns the maximum number of items
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}

// Dropped returns how many items were evicted since creation
func (rb *RingBuffer[T]) Dropped() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

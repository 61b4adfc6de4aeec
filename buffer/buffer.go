// Package buffer keeps decoded readings until the exporter ships them.
package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// Ring is a fixed-size FIFO safe for concurrent use. When full, Add evicts
// the oldest item.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	next    int // slot the next Add writes to
	count   int
	evicted uint64
	logger  *zap.Logger
}

// New returns a ring holding at most capacity items
func New[T any](capacity int, logger *zap.Logger) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:  make([]T, capacity),
		logger: logger,
	}
}

// Add appends an item, evicting the oldest one when the ring is full
func (r *Ring[T]) Add(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(item)
}

// AddAll appends items in order, e.g. to put back a batch that failed to ship
func (r *Ring[T]) AddAll(items []T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.add(item)
	}
}

func (r *Ring[T]) add(item T) {
	if r.count == len(r.items) {
		r.evicted++
		r.logger.Warn("reading buffer full, evicting oldest entry",
			zap.Int("capacity", len(r.items)),
			zap.Uint64("evicted_total", r.evicted),
		)
	} else {
		r.count++
	}
	r.items[r.next] = item
	r.next = (r.next + 1) % len(r.items)
}

// Drain returns the buffered items oldest first and empties the ring
func (r *Ring[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return nil
	}

	out := make([]T, r.count)
	oldest := (r.next - r.count + len(r.items)) % len(r.items)
	for i := range out {
		out[i] = r.items[(oldest+i)%len(r.items)]
	}

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.next = 0
	r.count = 0
	return out
}

// Len returns the number of buffered items
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the ring capacity
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Evicted returns how many items were overwritten since creation
func (r *Ring[T]) Evicted() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

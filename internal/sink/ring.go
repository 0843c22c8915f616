package sink

import (
	"sync"
	"sync/atomic"
)

// Ring is a thread-safe circular buffer.
type Ring[T any] struct {
	mu       sync.RWMutex
	data     []T
	head     int64 // Next write position
	tail     int64 // Oldest element
	count    int64
	capacity int64

	pushCount atomic.Int64
	dropCount atomic.Int64
}

// NewRing creates a ring holding at most capacity elements.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Ring[T]{
		data:     make([]T, capacity),
		capacity: int64(capacity),
	}
}

// Push appends v. It returns false and drops v when the ring is full.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= r.capacity {
		r.dropCount.Add(1)
		return false
	}

	r.data[r.head%r.capacity] = v
	r.head++
	r.count++
	r.pushCount.Add(1)
	return true
}

// PushOverwrite appends v, evicting the oldest element when full.
func (r *Ring[T]) PushOverwrite(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= r.capacity {
		var zero T
		r.data[r.tail%r.capacity] = zero
		r.tail++
		r.count--
		r.dropCount.Add(1)
	}

	r.data[r.head%r.capacity] = v
	r.head++
	r.count++
	r.pushCount.Add(1)
}

// PopN removes and returns up to n of the oldest elements.
func (r *Ring[T]) PopN(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 || n <= 0 {
		return nil
	}

	count := min(int64(n), r.count)
	var zero T
	out := make([]T, count)
	for i := int64(0); i < count; i++ {
		idx := (r.tail + i) % r.capacity
		out[i] = r.data[idx]
		r.data[idx] = zero
	}

	r.tail += count
	r.count -= count
	return out
}

// Snapshot returns the elements oldest first without removing them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.count)
	for i := int64(0); i < r.count; i++ {
		out[i] = r.data[(r.tail+i)%r.capacity]
	}
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.count)
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return int(r.capacity)
}

// UsageRatio returns Len/Cap.
func (r *Ring[T]) UsageRatio() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return float64(r.count) / float64(r.capacity)
}

// Pushed returns the number of accepted elements.
func (r *Ring[T]) Pushed() int64 {
	return r.pushCount.Load()
}

// Dropped returns the number of rejected or overwritten elements.
func (r *Ring[T]) Dropped() int64 {
	return r.dropCount.Load()
}

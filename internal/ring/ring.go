// Package ring provides a fixed-capacity FIFO that evicts its oldest entry
// when a push would overflow it.
//
// Tests in this package use testify.
package ring

import "sync"

// Buffer is a thread-safe drop-oldest ring. All operations are O(1) except
// the snapshot helpers, which copy.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // index of the oldest entry
	size     int
	capacity int
	dropped  uint64
}

// New creates a buffer holding at most capacity entries. Capacities below
// one are raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item. When the buffer is full the oldest entry is removed
// first and returned with evicted=true.
func (b *Buffer[T]) Push(item T) (old T, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == b.capacity {
		old = b.items[b.head]
		var zero T
		b.items[b.head] = zero
		b.head = (b.head + 1) % b.capacity
		b.size--
		b.dropped++
		evicted = true
	}

	b.items[(b.head+b.size)%b.capacity] = item
	b.size++
	return old, evicted
}

// PopFront removes and returns the oldest entry.
func (b *Buffer[T]) PopFront() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	item := b.items[b.head]
	b.items[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.size--
	return item, true
}

// Snapshot returns every entry, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	return b.Tail(-1)
}

// Tail returns up to n of the most recent entries, oldest first. A negative
// n returns everything.
func (b *Buffer[T]) Tail(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n < 0 || n > b.size {
		n = b.size
	}
	out := make([]T, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+start+i)%b.capacity]
	}
	return out
}

// Last returns the newest entry.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head+b.size-1)%b.capacity], true
}

// Len returns the number of stored entries.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Dropped returns how many entries have been evicted by overflow.
func (b *Buffer[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Clear removes every entry. The overflow counter is preserved.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}

package history

import "sync"

const DefaultCapacity = 60

// Ring is a fixed-capacity FIFO of readings. Push evicts the oldest entry
// once full; nothing else mutates stored entries.
type Ring[T any] struct {
	buf  []T
	head int
	size int
	mu   sync.RWMutex
}

// NewRing creates a ring with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry on overflow.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Latest returns the most recent entry.
func (r *Ring[T]) Latest() (T, bool) {
	return r.fromEnd(1)
}

// Previous returns the entry before the most recent one.
func (r *Ring[T]) Previous() (T, bool) {
	return r.fromEnd(2)
}

func (r *Ring[T]) fromEnd(n int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if r.size < n {
		return zero, false
	}
	idx := (r.head - n + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Items returns a copy of the stored entries, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

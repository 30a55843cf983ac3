// Package history holds bounded rolling sample windows shared between the
// sampler (writer) and query handlers (readers).
package history

import "sync"

// Capacity is the number of samples retained per window.
const Capacity = 60

// window is an unsynchronised bounded FIFO. Callers own the locking.
type window[T any] struct {
	items []T
	limit int
}

func newWindow[T any](limit int) *window[T] {
	if limit <= 0 {
		limit = Capacity
	}
	return &window[T]{items: make([]T, 0, limit), limit: limit}
}

func (w *window[T]) push(value T) {
	if len(w.items) >= w.limit {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, value)
}

// latest copies up to n samples, newest first.
func (w *window[T]) latest(n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > len(w.items) {
		n = len(w.items)
	}
	out := make([]T, 0, n)
	for i := len(w.items) - 1; i >= len(w.items)-n; i-- {
		out = append(out, w.items[i])
	}
	return out
}

func (w *window[T]) values() []T {
	out := make([]T, len(w.items))
	copy(out, w.items)
	return out
}

// Buffer is a mutex-guarded bounded FIFO. Pushing past capacity evicts the
// oldest sample.
type Buffer[T any] struct {
	mu sync.Mutex
	w  *window[T]
}

// NewBuffer creates a buffer holding at most capacity samples. A
// non-positive capacity falls back to Capacity.
func NewBuffer[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{w: newWindow[T](capacity)}
}

// Push appends a sample, evicting the oldest one when full.
func (b *Buffer[T]) Push(value T) {
	b.mu.Lock()
	b.w.push(value)
	b.mu.Unlock()
}

// Latest returns up to n of the most recent samples, newest first.
func (b *Buffer[T]) Latest(n int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.latest(n)
}

// Values returns a copy of every sample in push order.
func (b *Buffer[T]) Values() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.values()
}

// Len reports the number of buffered samples.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.w.items)
}

// Cap reports the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return b.w.limit
}

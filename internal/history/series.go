package history

import (
	"sort"
	"sync"
)

// Series keeps one bounded window per key (process id, GPU name) behind a
// single mutex.
type Series[K comparable, T any] struct {
	mu       sync.Mutex
	capacity int
	windows  map[K]*window[T]
}

// NewSeries creates an empty series whose windows hold at most capacity
// samples each.
func NewSeries[K comparable, T any](capacity int) *Series[K, T] {
	if capacity <= 0 {
		capacity = Capacity
	}
	return &Series[K, T]{
		capacity: capacity,
		windows:  make(map[K]*window[T]),
	}
}

// Push appends a sample to the window for key, creating it on first sight.
func (s *Series[K, T]) Push(key K, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = newWindow[T](s.capacity)
		s.windows[key] = w
	}
	w.push(value)
}

// Latest returns up to n of the most recent samples for key, newest first.
func (s *Series[K, T]) Latest(key K, n int) ([]T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return nil, false
	}
	return w.latest(n), true
}

// Values returns a copy of the samples for key in push order.
func (s *Series[K, T]) Values(key K) ([]T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return nil, false
	}
	return w.values(), true
}

// Snapshot copies every window in push order.
func (s *Series[K, T]) Snapshot() map[K][]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K][]T, len(s.windows))
	for key, w := range s.windows {
		out[key] = w.values()
	}
	return out
}

// Retain drops every window whose key is not in live.
func (s *Series[K, T]) Retain(live map[K]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.windows {
		if _, ok := live[key]; !ok {
			delete(s.windows, key)
		}
	}
}

// Len reports the number of tracked keys.
func (s *Series[K, T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// SortedKeys returns the tracked keys ordered by less.
func (s *Series[K, T]) SortedKeys(less func(a, b K) bool) []K {
	s.mu.Lock()
	keys := make([]K, 0, len(s.windows))
	for key := range s.windows {
		keys = append(keys, key)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return less(keys[i], keys[j]) })
	return keys
}

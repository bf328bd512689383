package memory

import "sync"

// Memory is a bounded, concurrency-safe history. Once full, storing a new entry
// evicts the oldest one.
type Memory[T any] struct {
	stream   []T
	capacity int
	mu       sync.RWMutex
}

// NewMemory returns a Memory holding at most capacity entries. A capacity below 1 is treated as 1.
func NewMemory[T any](capacity int) *Memory[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory[T]{
		stream:   make([]T, 0, capacity),
		capacity: capacity,
	}
}

// All returns a copy of the stored entries, oldest first.
func (m *Memory[T]) All() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]T, len(m.stream))
	copy(out, m.stream)
	return out
}

// Last returns up to n of the most recent entries, oldest first.
func (m *Memory[T]) Last(n int) []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return []T{}
	}
	if n > len(m.stream) {
		n = len(m.stream)
	}
	out := make([]T, n)
	copy(out, m.stream[len(m.stream)-n:])
	return out
}

func (m *Memory[T]) Store(entry T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stream = append(m.stream, entry)
	if len(m.stream) > m.capacity {
		m.stream = m.stream[len(m.stream)-m.capacity:]
	}
}

func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stream)
}

// Clear drops every entry, e.g. at the start of a new episode.
func (m *Memory[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = m.stream[:0]
}

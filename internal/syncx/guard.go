// Package syncx provides small synchronization primitives shared by the
// input devices.
package syncx

import "sync"

// Guard holds a value behind a mutex. Every mutation is reported to an
// optional change hook while the lock is still held, so observers see
// changes in the order they were applied.
type Guard[T any] struct {
	mu       sync.Mutex
	value    T
	onChange func(T)
}

// NewGuard creates a guarded value. onChange may be nil.
func NewGuard[T any](initial T, onChange func(T)) *Guard[T] {
	return &Guard[T]{value: initial, onChange: onChange}
}

// Get returns a copy of the value.
func (g *Guard[T]) Get() T {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Set replaces the value.
func (g *Guard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store(v)
}

// Swap replaces the value and returns the previous one.
func (g *Guard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.store(v)
	return old
}

// Update runs fn with the lock held. fn reports whether it changed the
// value; only then is the change hook invoked.
func (g *Guard[T]) Update(fn func(*T) bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !fn(&g.value) {
		return false
	}
	if g.onChange != nil {
		g.onChange(g.value)
	}
	return true
}

// CompareAndSwap stores next if match accepts the current value.
func (g *Guard[T]) CompareAndSwap(match func(T) bool, next T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !match(g.value) {
		return false
	}
	g.store(next)
	return true
}

func (g *Guard[T]) store(v T) {
	g.value = v
	if g.onChange != nil {
		g.onChange(v)
	}
}

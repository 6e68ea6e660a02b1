package syncx

import "sync"

// Observable holds the latest value of a stream and fans it out to
// subscribers. Slow subscribers never block the writer: each subscription
// buffers only the most recent value.
type Observable[T any] struct {
	mu    sync.Mutex
	value T
	equal func(a, b T) bool
	subs  map[int]chan T
	next  int
}

// NewObservable creates an Observable. equal suppresses redundant
// notifications; it may be nil, in which case every Set is delivered.
func NewObservable[T any](initial T, equal func(a, b T) bool) *Observable[T] {
	return &Observable[T]{
		value: initial,
		equal: equal,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value.
func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Set publishes v to all subscribers.
func (o *Observable[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.equal != nil && o.equal(o.value, v) {
		return
	}
	o.value = v
	for _, ch := range o.subs {
		offer(ch, v)
	}
}

// Subscribe returns a channel that first receives the current value and
// then every later change. Call the returned func to unsubscribe; it closes
// the channel.
func (o *Observable[T]) Subscribe() (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	ch := make(chan T, 1)
	ch <- o.value
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.subs, id)
			close(ch)
		})
	}
}

// offer replaces any undelivered value in ch with v.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

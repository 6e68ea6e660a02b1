// Package hotkey turns a global key combo into button clicks using gohook.
// Every press of the combo is one click; the device decides what a click
// means in its current state.
package hotkey

import (
	"context"
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

// repeatWindow swallows key auto-repeat while the combo is held.
const repeatWindow = 300 * time.Millisecond

// Listener manages a global hotkey and emits clicks.
type Listener struct {
	keys []string
	ch   chan struct{}

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewListener creates a Listener for the given key combo.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "r"]).
func NewListener(keys []string) *Listener {
	return &Listener{
		keys: keys,
		ch:   make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Clicks returns the channel that receives one value per press.
// The channel is closed when Run returns.
func (l *Listener) Clicks() <-chan struct{} {
	return l.ch
}

// Run listens for the global hotkey until ctx is done.
// It blocks, so run it in a goroutine.
func (l *Listener) Run(ctx context.Context) {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.press() })

	evChan := hook.Start()
	go func() {
		<-ctx.Done()
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// press records one key down. Presses inside repeatWindow of the previous
// one are auto-repeat, and a click the consumer has not taken yet absorbs
// new ones.
func (l *Listener) press() {
	l.mu.Lock()
	now := l.now()
	repeat := !l.last.IsZero() && now.Sub(l.last) < repeatWindow
	l.last = now
	l.mu.Unlock()
	if repeat {
		return
	}

	select {
	case l.ch <- struct{}{}:
	default:
	}
}

package stt

import (
	"sync"

	"github.com/chaz8081/gostt-listener/internal/syncx"
)

// View combines a device's durable state with a transient override such
// as SilenceDetected or Thinking. The transient value wins while set.
type View struct {
	mu        sync.Mutex
	durable   State
	transient *State
	out       *syncx.Observable[State]
}

// NewView creates a View whose durable state is initial.
func NewView(initial State) *View {
	return &View{
		durable: initial,
		out:     syncx.NewObservable(initial, State.Equal),
	}
}

// SetDurable records the projection of the device's internal state.
func (v *View) SetDurable(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.durable = s
	v.publish()
}

// SetTransient overrides the visible state until ClearTransient.
func (v *View) SetTransient(s State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transient = &s
	v.publish()
}

// ClearTransient removes any transient override.
func (v *View) ClearTransient() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.transient = nil
	v.publish()
}

// Current returns the visible state.
func (v *View) Current() State {
	return v.out.Get()
}

// Subscribe streams visible state changes.
func (v *View) Subscribe() (<-chan State, func()) {
	return v.out.Subscribe()
}

func (v *View) publish() {
	if v.transient != nil {
		v.out.Set(*v.transient)
		return
	}
	v.out.Set(v.durable)
}

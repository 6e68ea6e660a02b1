package stt

import "context"

// EventKind identifies a result delivered to a Listener.
type EventKind int

const (
	// Partial is an incremental, non-final hypothesis. Zero or more may
	// precede the terminal event of a session.
	Partial EventKind = iota
	// Final carries the recognized text.
	Final
	// None means nothing was recognized, or listening was stopped.
	None
	// Error carries the cause of a failed session.
	Error
)

func (k EventKind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	case None:
		return "none"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single recognition result. Every listen session ends with
// exactly one Final, None or Error event.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float32
	Err        error
}

// Terminal reports whether e ends a listen session.
func (e Event) Terminal() bool {
	return e.Kind != Partial
}

func PartialEvent(text string) Event { return Event{Kind: Partial, Text: text} }

func FinalEvent(text string, confidence float32) Event {
	return Event{Kind: Final, Text: text, Confidence: confidence}
}

func NoneEvent() Event { return Event{Kind: None} }

func ErrorEvent(err error) Event { return Event{Kind: Error, Err: err} }

// Listener receives the events of one listen session.
type Listener func(Event)

// Device is the capability set implemented by every STT backend. Methods
// other than Destroy return immediately; progress is observable through
// the state and results arrive through the Listener.
type Device interface {
	// UIState returns the current caller-visible state.
	UIState() State
	// Subscribe streams state changes, starting with the current state.
	Subscribe() (<-chan State, func())
	// TryLoad loads the model if needed and, when l is non-nil, starts
	// listening once ready. It reports whether that will happen without
	// further user action.
	TryLoad(l Listener) bool
	// OnClick advances the device one step: download, load, or toggle
	// listening. l receives the events of a session started by this click.
	OnClick(l Listener)
	// StopListening stops an active session, discarding its audio.
	StopListening()
	// Destroy cancels all work and releases every resource. It is safe to
	// call more than once.
	Destroy(ctx context.Context) error
}

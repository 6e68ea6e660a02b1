// Package inject delivers final transcripts to the active application
// using robotgo for keystroke simulation or clipboard paste.
package inject

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/go-vgo/robotgo"
)

// Sink receives transcribed text.
type Sink interface {
	Inject(text string) error
}

// New returns the sink for a configured method: "type", "paste" or
// "none".
func New(method string) (Sink, error) {
	switch method {
	case "type", "paste":
		return &Injector{method: method, keys: robotKeys{}}, nil
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("inject: unknown method %q (supported: type, paste, none)", method)
	}
}

// Discard drops all text.
type Discard struct{}

func (Discard) Inject(string) error { return nil }

// keyboard is the part of robotgo the Injector drives.
type keyboard interface {
	Type(text string)
	ReadClipboard() (string, error)
	WriteClipboard(text string) error
	Tap(key string, mods ...string) error
}

type robotKeys struct{}

func (robotKeys) Type(text string)                     { robotgo.Type(text) }
func (robotKeys) ReadClipboard() (string, error)       { return robotgo.ReadAll() }
func (robotKeys) WriteClipboard(text string) error     { return robotgo.WriteAll(text) }
func (robotKeys) Tap(key string, mods ...string) error { return robotgo.KeyTap(key, mods) }

// Injector handles typing or pasting text into the active application.
type Injector struct {
	method string // "type" or "paste"
	keys   keyboard
}

// Inject sends text to the active application using the configured method.
// Consecutive transcripts are separated by a trailing space.
func (inj *Injector) Inject(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	text += " "

	switch inj.method {
	case "paste":
		return inj.paste(text)
	default: // "type"
		inj.keys.Type(text)
		return nil
	}
}

// paste copies text to the clipboard and pastes it. Faster for long text;
// the previous clipboard is restored afterwards.
func (inj *Injector) paste(text string) error {
	prev, _ := inj.keys.ReadClipboard()

	if err := inj.keys.WriteClipboard(text); err != nil {
		return fmt.Errorf("inject: write to clipboard: %w", err)
	}
	if err := inj.keys.Tap("v", pasteModifier()); err != nil {
		return fmt.Errorf("inject: paste key tap: %w", err)
	}

	// Restore previous clipboard (best effort)
	_ = inj.keys.WriteClipboard(prev)
	return nil
}

func pasteModifier() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}

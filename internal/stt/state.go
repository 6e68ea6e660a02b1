// Package stt defines the contract shared by every speech-to-text input
// device: the UI-facing state, the result events delivered to callers and
// the error taxonomy.
package stt

import (
	"errors"
	"fmt"
)

// Kind identifies a UI-visible device state.
type Kind int

const (
	Uninitialized Kind = iota
	Unavailable
	NotDownloaded
	Downloading
	DownloadError
	Downloaded
	NotLoaded
	Loading
	LoadError
	Loaded
	Listening
	SilenceDetected
	Thinking
)

var kindNames = [...]string{
	Uninitialized:   "uninitialized",
	Unavailable:     "unavailable",
	NotDownloaded:   "not-downloaded",
	Downloading:     "downloading",
	DownloadError:   "download-error",
	Downloaded:      "downloaded",
	NotLoaded:       "not-loaded",
	Loading:         "loading",
	LoadError:       "load-error",
	Loaded:          "loaded",
	Listening:       "listening",
	SilenceDetected: "silence-detected",
	Thinking:        "thinking",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Progress is download progress: either unknown or a fraction in [0,1].
type Progress struct {
	Known    bool
	Fraction float64
}

// UnknownProgress is reported before the total size is known.
var UnknownProgress = Progress{}

// Fraction returns a known progress clamped to [0,1].
func Fraction(f float64) Progress {
	switch {
	case f < 0:
		f = 0
	case f > 1:
		f = 1
	}
	return Progress{Known: true, Fraction: f}
}

func (p Progress) String() string {
	if !p.Known {
		return "unknown"
	}
	return fmt.Sprintf("%.0f%%", p.Fraction*100)
}

// State is the caller-visible snapshot of a device. It never carries
// resource handles or callbacks.
type State struct {
	Kind Kind
	// Progress is set while Downloading.
	Progress Progress
	// Err is set for DownloadError and LoadError.
	Err error
	// PendingListen is set while Loading when listening will start as soon
	// as the model is ready.
	PendingListen bool
}

// Equal reports whether two states would render identically.
func (s State) Equal(o State) bool {
	return s.Kind == o.Kind &&
		s.Progress == o.Progress &&
		s.PendingListen == o.PendingListen &&
		sameError(s.Err, o.Err)
}

func (s State) String() string {
	switch s.Kind {
	case Downloading:
		return fmt.Sprintf("%s(%s)", s.Kind, s.Progress)
	case DownloadError, LoadError:
		return fmt.Sprintf("%s(%v)", s.Kind, s.Err)
	case Loading:
		return fmt.Sprintf("%s(listen=%t)", s.Kind, s.PendingListen)
	default:
		return s.Kind.String()
	}
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return errors.Is(a, b) && a.Error() == b.Error()
}

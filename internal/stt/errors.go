package stt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies device failures. Every kind is recoverable: the
// device rests in an error state and the next user action retries.
type ErrorKind int

const (
	UnknownFailure ErrorKind = iota
	// DownloadFailure is a network or disk error while fetching model files.
	DownloadFailure
	// LoadFailure is any inference-engine initialization error, including
	// native allocation failures.
	LoadFailure
	// CaptureFailure is an audio hardware acquisition or read error.
	CaptureFailure
	// InferenceFailure is an error in preprocessing, encoding or decoding.
	InferenceFailure
	// ProtocolFailure is a malformed or error message from a remote service.
	ProtocolFailure
)

func (k ErrorKind) String() string {
	switch k {
	case DownloadFailure:
		return "download"
	case LoadFailure:
		return "load"
	case CaptureFailure:
		return "capture"
	case InferenceFailure:
		return "inference"
	case ProtocolFailure:
		return "protocol"
	default:
		return "unknown"
	}
}

// Failure is a classified device failure.
type Failure struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Failure) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("stt %s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("stt %s failure: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Failure) Unwrap() error { return e.Err }

// Wrap classifies err. It returns nil for a nil err and leaves an already
// classified error untouched.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Failure
	if errors.As(err, &se) {
		return err
	}
	return &Failure{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, or UnknownFailure.
func KindOf(err error) ErrorKind {
	var se *Failure
	if errors.As(err, &se) {
		return se.Kind
	}
	return UnknownFailure
}

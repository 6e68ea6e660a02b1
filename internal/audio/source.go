// Package audio captures 16 kHz mono PCM audio and decides when an
// utterance has ended.
package audio

import (
	"context"
	"fmt"
)

// SampleRate is the capture rate every model in this module expects.
const SampleRate = 16000

// Source delivers 16-bit mono PCM at SampleRate. Read blocks until at least
// one sample is available, the context is done, or the source fails.
type Source interface {
	Read(ctx context.Context, buf []int16) (int, error)
	Close() error
}

// Opener opens a fresh Source for one capture session.
type Opener func() (Source, error)

// OpenerFor returns the Opener for a configured backend name.
func OpenerFor(backend string) (Opener, error) {
	switch backend {
	case "malgo", "":
		return func() (Source, error) { return NewMalgoSource() }, nil
	case "portaudio":
		return func() (Source, error) { return NewPortAudioSource(DefaultChunkSamples) }, nil
	default:
		return nil, fmt.Errorf("audio: unknown backend %q (supported: malgo, portaudio)", backend)
	}
}

// DefaultChunkSamples is the read size used by the capture backends
// (100 ms).
const DefaultChunkSamples = SampleRate / 10

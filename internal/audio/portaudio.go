package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures from the default input through a blocking
// PortAudio stream. Each Read fetches one hardware buffer, so cancellation
// is observed between buffers.
type PortAudioSource struct {
	stream  *portaudio.Stream
	buf     []int16
	pending []int16
	once    sync.Once
}

// NewPortAudioSource opens the default input with framesPerBuffer frames
// per read.
func NewPortAudioSource(framesPerBuffer int) (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(SampleRate), len(buf), buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting input stream: %w", err)
	}

	return &PortAudioSource{stream: stream, buf: buf}, nil
}

func (s *PortAudioSource) Read(ctx context.Context, dst []int16) (int, error) {
	if len(s.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.stream.Read(); err != nil {
			return 0, fmt.Errorf("reading input stream: %w", err)
		}
		s.pending = s.buf
	}
	n := copy(dst, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close stops the stream and releases PortAudio.
func (s *PortAudioSource) Close() error {
	var err error
	s.once.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("stopping input stream: %w", stopErr)
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing input stream: %w", closeErr)
		}
		portaudio.Terminate()
	})
	return err
}

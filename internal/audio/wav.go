package audio

import (
	"context"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource reads 16-bit mono PCM at SampleRate from a WAV file.
type WAVSource struct {
	f   *os.File
	dec *wav.Decoder
	buf *goaudio.IntBuffer
}

// OpenWAV opens path and checks that its format matches what the models
// expect.
func OpenWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}
	if dec.SampleRate != SampleRate || dec.NumChans != 1 || dec.BitDepth != 16 {
		f.Close()
		return nil, fmt.Errorf("%s: need %d Hz mono 16-bit, got %d Hz %d ch %d-bit",
			path, SampleRate, dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	return &WAVSource{
		f:   f,
		dec: dec,
		buf: &goaudio.IntBuffer{Format: monoFormat()},
	}, nil
}

// Read decodes up to len(dst) samples. It returns io.EOF at the end.
func (s *WAVSource) Read(ctx context.Context, dst []int16) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("decoding wav: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(s.buf.Data[i])
	}
	return n, nil
}

func (s *WAVSource) Close() error {
	return s.f.Close()
}

// ReadWAV returns all samples of a WAV file.
func ReadWAV(path string) ([]int16, error) {
	src, err := OpenWAV(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var out []int16
	buf := make([]int16, DefaultChunkSamples)
	for {
		n, err := src.Read(context.Background(), buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteWAV stores samples as a 16 kHz mono 16-bit WAV file.
func WriteWAV(path string, samples []int16) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating wav: %w", err)
	}

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{Format: monoFormat(), Data: data, SourceBitDepth: 16}

	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("writing wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}

func monoFormat() *goaudio.Format {
	return &goaudio.Format{NumChannels: 1, SampleRate: SampleRate}
}

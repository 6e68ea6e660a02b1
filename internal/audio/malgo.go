package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("audio: source closed")

// MalgoSource captures from the default microphone through miniaudio.
// The device callback hands chunks to Read over a buffered channel.
type MalgoSource struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	chunks  chan []int16
	pending []int16

	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewMalgoSource opens and starts the default capture device.
func NewMalgoSource() (*MalgoSource, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}

	s := &MalgoSource{
		ctx:    ctx,
		chunks: make(chan []int16, 64),
		closed: make(chan struct{}),
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = 1
	deviceCfg.SampleRate = SampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: s.onData,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("starting capture device: %w", err)
	}
	s.device = device

	return s, nil
}

// Read copies captured samples into buf.
func (s *MalgoSource) Read(ctx context.Context, buf []int16) (int, error) {
	if len(s.pending) == 0 {
		select {
		case chunk := <-s.chunks:
			s.pending = chunk
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.closed:
			return 0, ErrClosed
		}
	}
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close stops the device and releases the audio context.
func (s *MalgoSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.device != nil {
			s.device.Uninit()
			s.device = nil
		}
		s.mu.Unlock()
		err = s.freeContext()
	})
	return err
}

func (s *MalgoSource) freeContext() error {
	if s.ctx == nil {
		return nil
	}
	if err := s.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	s.ctx.Free()
	s.ctx = nil
	return nil
}

// onData is the malgo callback invoked when audio data is available.
// pSample contains the captured frames as little-endian int16.
func (s *MalgoSource) onData(_, pSample []byte, frameCount uint32) {
	samples := bytesToInt16(pSample, frameCount)
	select {
	case s.chunks <- samples:
	case <-s.closed:
	default:
		slog.Warn("[audio] capture buffer full, dropping chunk", "samples", len(samples))
	}
}

// bytesToInt16 converts raw little-endian bytes to an int16 slice.
func bytesToInt16(data []byte, sampleCount uint32) []int16 {
	samples := make([]int16, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 2
		if offset+2 > uint32(len(data)) {
			break
		}
		samples = append(samples, int16(binary.LittleEndian.Uint16(data[offset:offset+2])))
	}
	return samples
}

// int16ToBytes is the inverse of bytesToInt16.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMBytes encodes samples as little-endian 16-bit PCM.
func PCMBytes(samples []int16) []byte {
	return int16ToBytes(samples)
}

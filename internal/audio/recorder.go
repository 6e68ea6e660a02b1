package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MinSpeechSamples is how much non-silent audio (0.4 s) must be heard
	// before silence may end a recording. Brief noise spikes stay below it.
	MinSpeechSamples = SampleRate * 2 / 5
	// SilenceUnit is the duration of one configured silence second.
	SilenceUnit = 1000 * time.Millisecond
	// DefaultSilenceSeconds is the default trailing silence before stopping.
	DefaultSilenceSeconds = 2
	// DefaultMaxDuration caps every recording.
	DefaultMaxDuration = 30 * time.Second
	// SilenceFeedbackDelay is how long "silence detected" stays visible
	// before inference starts.
	SilenceFeedbackDelay = 800 * time.Millisecond
)

// EndpointConfig tunes the Recorder.
type EndpointConfig struct {
	// SilenceSeconds of trailing silence end a recording once speech was
	// heard.
	SilenceSeconds int
	// MaxDuration stops recording regardless of speech.
	MaxDuration time.Duration
	// ChunkSamples is the read size.
	ChunkSamples int
	Classifier   Classifier
}

// DefaultEndpointConfig returns the standard settings.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		SilenceSeconds: DefaultSilenceSeconds,
		MaxDuration:    DefaultMaxDuration,
		ChunkSamples:   DefaultChunkSamples,
		Classifier:     RMSClassifier{Threshold: SilenceRMSThreshold},
	}
}

// Capture is the outcome of one recording.
type Capture struct {
	Samples []int16
	// HeardSpeech is set once at least MinSpeechSamples of non-silent
	// audio were captured.
	HeardSpeech bool
	// SilenceDetected is set when trailing silence ended the recording.
	SilenceDetected bool
	// Discarded is set when Discard stopped the recording.
	Discarded bool
}

// Duration returns the captured length.
func (c Capture) Duration() time.Duration {
	return time.Duration(len(c.Samples)) * time.Second / SampleRate
}

// Recorder captures one utterance. It is single-use.
type Recorder struct {
	cfg EndpointConfig

	discarded atomic.Bool
	mu        sync.Mutex
	cancel    context.CancelFunc
}

// NewRecorder creates a Recorder; zero fields of cfg take defaults.
func NewRecorder(cfg EndpointConfig) *Recorder {
	def := DefaultEndpointConfig()
	if cfg.SilenceSeconds < 1 {
		cfg.SilenceSeconds = def.SilenceSeconds
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = def.ChunkSamples
	}
	if cfg.Classifier == nil {
		cfg.Classifier = def.Classifier
	}
	return &Recorder{cfg: cfg}
}

// Record reads src until trailing silence follows speech, the duration cap
// is reached, the source ends, or Discard is called. A discarded recording
// returns Capture{Discarded: true} and no error, whatever the source did.
func (r *Recorder) Record(ctx context.Context, src Source) (Capture, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.discarded.Load() {
		return Capture{Discarded: true}, nil
	}

	maxSamples := int(r.cfg.MaxDuration * SampleRate / time.Second)
	buf := make([]int16, r.cfg.ChunkSamples)
	samples := make([]int16, 0, SampleRate*4)

	var (
		heard         bool
		speechSamples int
		silentReads   int
	)

	for {
		n, err := src.Read(ctx, buf)
		if r.discarded.Load() {
			return Capture{Discarded: true}, nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Capture{}, err
			}
			if errors.Is(err, io.EOF) {
				return Capture{Samples: samples, HeardSpeech: heard}, nil
			}
			return Capture{}, fmt.Errorf("reading audio: %w", err)
		}
		if n == 0 {
			continue
		}

		chunk := buf[:n]
		samples = append(samples, chunk...)

		silent, err := r.cfg.Classifier.Silent(chunk)
		if err != nil {
			return Capture{}, fmt.Errorf("classifying audio: %w", err)
		}

		if !silent {
			speechSamples += n
			heard = speechSamples >= MinSpeechSamples
			silentReads = 0
		} else {
			silentReads++
		}

		if heard && silentReads >= requiredSilentReads(n, r.cfg.SilenceSeconds) {
			slog.Debug("[audio] silence detected after speech",
				"samples", len(samples), "seconds", float64(len(samples))/SampleRate)
			return Capture{Samples: samples, HeardSpeech: true, SilenceDetected: true}, nil
		}

		if len(samples) >= maxSamples {
			slog.Debug("[audio] max recording duration reached", "heardSpeech", heard)
			return Capture{Samples: samples, HeardSpeech: heard}, nil
		}
	}
}

// Discard stops an ongoing or future Record call and drops its audio.
func (r *Recorder) Discard() {
	r.discarded.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// requiredSilentReads converts silence seconds to a number of consecutive
// silent reads of readSize samples.
func requiredSilentReads(readSize, silenceSeconds int) int {
	samplesPerUnit := int(SilenceUnit * SampleRate / time.Second)
	readsPerUnit := max(samplesPerUnit/readSize, 1)
	return readsPerUnit * silenceSeconds
}

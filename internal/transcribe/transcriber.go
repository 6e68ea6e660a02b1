// Package transcribe provides speech-to-text backends.
//
// Supported backends:
//   - parakeet: Parakeet TDT 0.6B v3 through ONNX Runtime (default)
//   - whisper: whisper.cpp via Go bindings
package transcribe

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
)

// Model converts captured audio to text.
type Model interface {
	// Transcribe converts mono 16 kHz PCM samples to text.
	Transcribe(ctx context.Context, samples []int16) (string, error)
	// Close releases backend resources.
	Close() error
}

// StageObserver receives the duration of each inference stage.
type StageObserver interface {
	ObserveStage(ctx context.Context, backend, stage string, d time.Duration)
}

// LoadOptions tune how a backend loads its model.
type LoadOptions struct {
	// Language is the base language of the active locale, e.g. "de".
	Language string
	// Accelerator selects an execution provider: "", "cpu", "coreml" or "cuda".
	Accelerator string
	// Threads caps intra-op parallelism. Zero means min(NumCPU, 4).
	Threads int
	// RuntimeLibrary is the path to the onnxruntime shared library.
	RuntimeLibrary string
	Stages         StageObserver
}

func (o LoadOptions) threads() int {
	if o.Threads > 0 {
		return o.Threads
	}
	return min(runtime.NumCPU(), 4)
}

// Backend describes a downloadable, loadable model family.
type Backend interface {
	Name() string
	// Locales maps supported locales to the model URL.
	Locales() locale.Table
	// Prefix is prepended to every local file name of the backend.
	Prefix() string
	// Files lists what must be downloaded from url into dir.
	Files(dir, url string) []models.File
	Load(ctx context.Context, dir string, opts LoadOptions) (Model, error)
}

// DefaultBackend is used when no backend is configured.
const DefaultBackend = "parakeet"

var backends = map[string]Backend{
	"parakeet": parakeetBackend{},
	"whisper":  whisperBackend{},
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	if name == "" {
		name = DefaultBackend
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: %v)", name, BackendNames())
	}
	return b, nil
}

// BackendNames lists the registered backends.
func BackendNames() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// observe reports a stage duration if an observer is set.
func observe(ctx context.Context, o StageObserver, backend, stage string, start time.Time) {
	if o != nil {
		o.ObserveStage(ctx, backend, stage, time.Since(start))
	}
}

// normalize converts int16 PCM to float32 in [-1, 1].
func normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32767
	}
	return out
}

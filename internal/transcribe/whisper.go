package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
)

// WhisperURL hosts the ggml conversions of the whisper models.
const WhisperURL = "https://huggingface.co/ggerganov/whisper.cpp"

const (
	whisperPrefix = "whisper-"
	whisperRemote = "ggml-base.bin"
	whisperModel  = whisperPrefix + whisperRemote
)

var whisperLanguages = []string{
	"en", "de", "es", "fr", "it", "pt", "nl", "pl", "ru", "uk", "sv", "da", "fi", "cs",
	"el", "hu", "ro", "bg", "hr", "sk", "sl", "tr", "zh", "ja", "ko",
}

type whisperBackend struct{}

func (whisperBackend) Name() string   { return "whisper" }
func (whisperBackend) Prefix() string { return whisperPrefix }

func (whisperBackend) Locales() locale.Table {
	return locale.Uniform(WhisperURL, whisperLanguages...)
}

func (whisperBackend) Files(dir, url string) []models.File {
	return []models.File{{URL: url + "/resolve/main/" + whisperRemote, Dest: filepath.Join(dir, whisperModel)}}
}

func (whisperBackend) Load(ctx context.Context, dir string, opts LoadOptions) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, err := NewWhisper(filepath.Join(dir, whisperModel), opts.Language, opts.threads())
	if err != nil {
		return nil, err
	}
	w.stages = opts.Stages
	return w, nil
}

// Whisper wraps a whisper.cpp model.
type Whisper struct {
	model    whisper.Model
	language string
	threads  uint
	stages   StageObserver

	closeOnce sync.Once
	closeErr  error
}

// NewWhisper loads a ggml model from path. language may be empty for
// automatic detection. The caller must call Close() when done.
func NewWhisper(path, language string, threads int) (*Whisper, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}
	if !model.IsMultilingual() {
		language = ""
	}
	return &Whisper{model: model, language: language, threads: uint(max(threads, 1))}, nil
}

// Close releases the whisper model resources.
func (w *Whisper) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.model.Close()
	})
	return w.closeErr
}

// Transcribe converts 16 kHz PCM to text. whisper.cpp cannot be
// interrupted, so ctx is only checked before processing starts.
func (w *Whisper) Transcribe(ctx context.Context, samples []int16) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}
	wctx.SetThreads(w.threads)
	if w.language != "" {
		if err := wctx.SetLanguage(w.language); err != nil {
			slog.Debug("[whisper] language not supported, detecting", "language", w.language, "error", err)
		}
	}

	if err := wctx.Process(normalize(samples), nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("transcribe: next segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}
	observe(ctx, w.stages, "whisper", "process", start)

	return strings.TrimSpace(strings.Join(segments, " ")), nil
}

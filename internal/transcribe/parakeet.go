package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
)

// ParakeetURL hosts the int8 ONNX export of Parakeet TDT 0.6B v3.
const ParakeetURL = "https://huggingface.co/istupakov/parakeet-tdt-0.6b-v3-onnx"

// parakeetLanguages are the European languages Parakeet v3 transcribes.
var parakeetLanguages = []string{
	"bg", "hr", "cs", "da", "nl", "en", "et", "fi", "fr", "de", "el", "hu", "it",
	"lv", "lt", "mt", "pl", "pt", "ro", "sk", "sl", "es", "sv", "ru", "uk",
}

// Local file names, relative to the models directory.
const (
	parakeetPrefix       = "parakeet-"
	parakeetEncoder      = parakeetPrefix + "encoder.int8.onnx"
	parakeetDecoderJoint = parakeetPrefix + "decoder-joint.int8.onnx"
	parakeetPreprocessor = parakeetPrefix + "nemo128.onnx"
	parakeetVocab        = parakeetPrefix + "vocab.txt"
)

type parakeetBackend struct{}

func (parakeetBackend) Name() string   { return "parakeet" }
func (parakeetBackend) Prefix() string { return parakeetPrefix }

func (parakeetBackend) Locales() locale.Table {
	return locale.Uniform(ParakeetURL, parakeetLanguages...)
}

func (parakeetBackend) Files(dir, url string) []models.File {
	remote := func(name string) string { return url + "/resolve/main/" + name }
	return []models.File{
		{URL: remote("encoder-model.int8.onnx"), Dest: filepath.Join(dir, parakeetEncoder)},
		{URL: remote("decoder_joint-model.int8.onnx"), Dest: filepath.Join(dir, parakeetDecoderJoint)},
		{URL: remote("nemo128.onnx"), Dest: filepath.Join(dir, parakeetPreprocessor)},
		{URL: remote("vocab.txt"), Dest: filepath.Join(dir, parakeetVocab)},
	}
}

// Load opens the three ONNX graphs and the vocabulary in dir.
func (parakeetBackend) Load(ctx context.Context, dir string, opts LoadOptions) (Model, error) {
	if err := initRuntime(opts.RuntimeLibrary); err != nil {
		return nil, err
	}

	vocab, err := LoadVocabulary(filepath.Join(dir, parakeetVocab))
	if err != nil {
		return nil, err
	}

	var graphs []Graph
	closeAll := func() {
		for _, g := range graphs {
			g.Close()
		}
	}
	for _, name := range []string{parakeetPreprocessor, parakeetEncoder, parakeetDecoderJoint} {
		if err := ctx.Err(); err != nil {
			closeAll()
			return nil, err
		}
		start := time.Now()
		g, err := openGraph(filepath.Join(dir, name), opts.Accelerator, opts.threads())
		if err != nil {
			closeAll()
			return nil, err
		}
		slog.Debug("[parakeet] graph loaded", "file", name, "elapsed", time.Since(start))
		graphs = append(graphs, g)
	}

	return NewParakeet(graphs[0], graphs[1], graphs[2], vocab, opts.Stages), nil
}

// Parakeet runs the preprocessor, encoder and TDT decoder-joint graphs.
type Parakeet struct {
	pre, enc, dec Graph
	vocab         *Vocabulary
	stateShapes   [2][]int64
	stages        StageObserver

	closeOnce sync.Once
	closeErr  error
}

// NewParakeet assembles a pipeline from loaded graphs. It takes ownership
// of the graphs.
func NewParakeet(pre, enc, dec Graph, vocab *Vocabulary, stages StageObserver) *Parakeet {
	return &Parakeet{
		pre:   pre,
		enc:   enc,
		dec:   dec,
		vocab: vocab,
		stateShapes: [2][]int64{
			stateShape(dec.InputShape("input_states_1")),
			stateShape(dec.InputShape("input_states_2")),
		},
		stages: stages,
	}
}

// Transcribe converts 16 kHz PCM to text.
func (p *Parakeet) Transcribe(ctx context.Context, samples []int16) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	total := time.Now()

	start := time.Now()
	n := int64(len(samples))
	out, err := p.pre.Run(ctx, map[string]Tensor{
		"waveforms":      Float32Tensor(normalize(samples), 1, n),
		"waveforms_lens": Int64Tensor([]int64{n}, 1),
	}, "features", "features_lens")
	if err != nil {
		return "", fmt.Errorf("preprocessor: %w", err)
	}
	features, err := output(out, "features")
	if err != nil {
		return "", fmt.Errorf("preprocessor: %w", err)
	}
	featureLens, err := output(out, "features_lens")
	if err != nil {
		return "", fmt.Errorf("preprocessor: %w", err)
	}
	observe(ctx, p.stages, "parakeet", "preprocess", start)

	start = time.Now()
	out, err = p.enc.Run(ctx, map[string]Tensor{
		"audio_signal": features,
		"length":       featureLens,
	}, "outputs", "encoded_lengths")
	if err != nil {
		return "", fmt.Errorf("encoder: %w", err)
	}
	encoded, err := output(out, "outputs")
	if err != nil {
		return "", fmt.Errorf("encoder: %w", err)
	}
	encodedLens, err := output(out, "encoded_lengths")
	if err != nil {
		return "", fmt.Errorf("encoder: %w", err)
	}
	validLength, err := firstInt(encodedLens)
	if err != nil {
		return "", fmt.Errorf("encoder lengths: %w", err)
	}
	frames, err := transposeFrames(encoded)
	if err != nil {
		return "", fmt.Errorf("encoder: %w", err)
	}
	observe(ctx, p.stages, "parakeet", "encode", start)

	start = time.Now()
	stepper := &decoderJoint{graph: p.dec}
	tokens, err := tdtDecode(ctx, frames, validLength, p.vocab.Blank, p.vocab.Size(), p.stateShapes, stepper)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	observe(ctx, p.stages, "parakeet", "decode", start)

	text := p.vocab.Decode(tokens)
	slog.Debug("[parakeet] transcribed",
		"samples", len(samples),
		"frames", len(frames),
		"tokens", len(tokens),
		"elapsed", time.Since(total),
	)
	return text, nil
}

// Close releases the graphs. Later calls return the first result.
func (p *Parakeet) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = errors.Join(p.pre.Close(), p.enc.Close(), p.dec.Close())
	})
	return p.closeErr
}

// transposeFrames turns encoder output [1, D, T] into T frames of D values.
func transposeFrames(t Tensor) ([][]float32, error) {
	if len(t.Shape) != 3 || t.Shape[0] != 1 {
		return nil, fmt.Errorf("unexpected encoder output shape %v", t.Shape)
	}
	d, n := int(t.Shape[1]), int(t.Shape[2])
	if len(t.Float32) != d*n {
		return nil, fmt.Errorf("encoder output has %d values, shape %v", len(t.Float32), t.Shape)
	}
	frames := make([][]float32, n)
	for ti := range frames {
		frame := make([]float32, d)
		for di := 0; di < d; di++ {
			frame[di] = t.Float32[di*n+ti]
		}
		frames[ti] = frame
	}
	return frames, nil
}

// decoderJoint steps the combined prediction and joint graph.
type decoderJoint struct {
	graph Graph
}

func (d *decoderJoint) step(ctx context.Context, frame []float32, target int32, states [2]Tensor) ([]float32, [2]Tensor, error) {
	out, err := d.graph.Run(ctx, map[string]Tensor{
		"encoder_outputs": Float32Tensor(frame, 1, int64(len(frame)), 1),
		"targets":         Int32Tensor([]int32{target}, 1, 1),
		"target_length":   Int32Tensor([]int32{1}, 1),
		"input_states_1":  states[0],
		"input_states_2":  states[1],
	}, "outputs", "output_states_1", "output_states_2")
	if err != nil {
		return nil, states, err
	}
	logits, err := output(out, "outputs")
	if err != nil {
		return nil, states, err
	}
	s1, err := output(out, "output_states_1")
	if err != nil {
		return nil, states, err
	}
	s2, err := output(out, "output_states_2")
	if err != nil {
		return nil, states, err
	}
	return logits.Float32, [2]Tensor{s1, s2}, nil
}

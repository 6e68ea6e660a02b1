package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/device"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

var referenceText string

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a 16 kHz mono WAV file with the on-device model",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscribe,
}

func init() {
	transcribeCmd.Flags().StringVar(&referenceText, "reference", "", "expected transcript; prints the word error rate")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	backend, url, err := resolveModel(cfg)
	if err != nil {
		return err
	}
	if !device.Installed(backend, cfg.Models.Dir, url) {
		return fmt.Errorf("%s model is not installed in %s; run 'gostt-listener download' first", backend.Name(), cfg.Models.Dir)
	}

	samples, err := audio.ReadWAV(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := loadOptions(cfg)
	opts.Language = currentLanguage(cfg)

	loadStart := time.Now()
	model, err := backend.Load(ctx, cfg.Models.Dir, opts)
	if err != nil {
		return fmt.Errorf("loading %s model: %w", backend.Name(), err)
	}
	defer model.Close()
	fmt.Fprintf(os.Stderr, "Model loaded in %s\n", time.Since(loadStart).Round(time.Millisecond))

	start := time.Now()
	text, err := model.Transcribe(ctx, samples)
	if err != nil {
		return fmt.Errorf("transcribing: %w", err)
	}
	elapsed := time.Since(start)
	audioLen := time.Duration(len(samples)) * time.Second / audio.SampleRate

	fmt.Println(strings.TrimSpace(text))
	fmt.Fprintf(os.Stderr, "Audio %s, inference %s (RTF %.3f)\n",
		audioLen.Round(time.Millisecond), elapsed.Round(time.Millisecond), rtf(elapsed, audioLen))

	if referenceText != "" {
		r := transcribe.ComputeWER(referenceText, text)
		fmt.Fprintf(os.Stderr, "WER %.1f%% (%d subs, %d ins, %d dels over %d words)\n",
			r.WER*100, r.Substitutions, r.Insertions, r.Deletions, r.RefWords)
	}
	return nil
}

// rtf is the real-time factor of an inference.
func rtf(elapsed, audioLen time.Duration) float64 {
	if audioLen <= 0 {
		return 0
	}
	return elapsed.Seconds() / audioLen.Seconds()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-listener/internal/config"
	"github.com/chaz8081/gostt-listener/internal/hotkey"
	"github.com/chaz8081/gostt-listener/internal/inject"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen for the hotkey and dictate into the active application",
	Args:  cobra.NoArgs,
	RunE:  runListener,
}

func runListener(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.Metrics.Addr != "" {
		tel, err := telemetry.Setup(ctx, "gostt-listener", version)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			tel.Shutdown(sctx)
		}()
		metrics = tel.Metrics
		go func() {
			if err := tel.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	sink, err := inject.New(cfg.Inject.Method)
	if err != nil {
		return err
	}

	dev, err := newDevice(cfg, metrics)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := dev.Destroy(dctx); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}()

	states, unsubscribe := dev.Subscribe()
	defer unsubscribe()
	go logStates(states)

	events := make(chan stt.Event, 16)
	listener := func(e stt.Event) {
		select {
		case events <- e:
		default:
			slog.Warn("dropping event", "kind", e.Kind)
		}
	}

	// Warm the model up so the first press starts listening quickly.
	dev.TryLoad(nil)

	keys := hotkey.NewListener(cfg.Hotkey.Keys)
	hctx, stopHotkey := context.WithCancel(ctx)
	defer stopHotkey()
	go keys.Run(hctx)

	slog.Info("Ready! Press " + strings.Join(cfg.Hotkey.Keys, "+") + " to dictate. Ctrl+C to quit.")

	clicks := keys.Clicks()
	for {
		select {
		case _, ok := <-clicks:
			if !ok {
				slog.Info("hotkey listener stopped")
				return nil
			}
			dev.OnClick(listener)

		case e := <-events:
			handleEvent(sink, e)

		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		}
	}
}

// handleEvent logs e and injects final text.
func handleEvent(sink inject.Sink, e stt.Event) {
	switch e.Kind {
	case stt.Partial:
		slog.Debug("partial", "text", e.Text)
	case stt.Final:
		slog.Info("transcribed", "text", e.Text)
		if err := sink.Inject(e.Text); err != nil {
			slog.Error("text injection failed", "error", err)
		}
	case stt.None:
		slog.Info("nothing heard")
	case stt.Error:
		slog.Error("listening failed", "kind", stt.KindOf(e.Err), "error", e.Err)
	}
}

func logStates(states <-chan stt.State) {
	for s := range states {
		switch s.Kind {
		case stt.NotDownloaded:
			slog.Info("model not downloaded; press the hotkey to download it")
		case stt.DownloadError, stt.LoadError:
			slog.Warn("device", "state", s.String())
		default:
			slog.Info("device", "state", s.String())
		}
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== gostt-listener ===")
	fmt.Printf("  Backend: %s\n", cfg.STT.Backend)
	if cfg.STT.Backend != "scribe" {
		fmt.Printf("  Models:  %s (%s)\n", cfg.Models.Dir, cfg.Models.Accelerator)
	}
	fmt.Printf("  Locale:  %s\n", localeLabel(cfg))
	fmt.Printf("  Hotkey:  %s\n", strings.Join(cfg.Hotkey.Keys, "+"))
	fmt.Printf("  Audio:   %s, %s silence after %ds\n", cfg.Audio.Backend, cfg.Audio.Classifier, cfg.STT.SilenceSeconds)
	fmt.Printf("  Inject:  %s\n", cfg.Inject.Method)
	if cfg.Metrics.Addr != "" {
		fmt.Printf("  Metrics: %s/metrics\n", cfg.Metrics.Addr)
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("======================")
}

func localeLabel(cfg *config.Config) string {
	if cfg.Locale.File != "" {
		return fmt.Sprintf("%s (watching %s)", cfg.Locale.Tag, cfg.Locale.File)
	}
	return cfg.Locale.Tag
}

package main

import (
	"fmt"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/config"
	"github.com/chaz8081/gostt-listener/internal/device"
	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/stream"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/telemetry"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

// openLocale returns the configured locale source.
func openLocale(cfg *config.Config) (locale.Source, error) {
	if cfg.Locale.File != "" {
		return locale.WatchFile(cfg.Locale.File, cfg.Locale.Tag)
	}
	return locale.NewStatic(cfg.Locale.Tag), nil
}

func loadOptions(cfg *config.Config) transcribe.LoadOptions {
	return transcribe.LoadOptions{
		Accelerator:    cfg.Models.Accelerator,
		Threads:        cfg.Models.Threads,
		RuntimeLibrary: cfg.Models.RuntimeLibrary,
	}
}

// newDevice builds the stt.Device for cfg.STT.Backend.
func newDevice(cfg *config.Config, metrics *telemetry.Metrics) (stt.Device, error) {
	src, err := openLocale(cfg)
	if err != nil {
		return nil, fmt.Errorf("locale: %w", err)
	}
	open, err := audio.OpenerFor(cfg.Audio.Backend)
	if err != nil {
		src.Close()
		return nil, err
	}

	if cfg.STT.Backend == "scribe" {
		s, err := stream.New(stream.Config{
			APIKey:         cfg.Scribe.APIKey,
			URL:            cfg.Scribe.URL,
			Locale:         src,
			SilenceSeconds: cfg.STT.SilenceSeconds,
			OpenAudio:      open,
			Metrics:        metrics,
		})
		if err != nil {
			src.Close()
			return nil, err
		}
		return s, nil
	}

	backend, err := transcribe.Lookup(cfg.STT.Backend)
	if err != nil {
		src.Close()
		return nil, err
	}
	classifier, err := audio.ClassifierFor(cfg.Audio.Classifier, cfg.Audio.WebRTCMode)
	if err != nil {
		src.Close()
		return nil, err
	}
	endpoint := audio.DefaultEndpointConfig()
	endpoint.SilenceSeconds = cfg.STT.SilenceSeconds
	endpoint.Classifier = classifier

	d, err := device.New(device.Config{
		Backend:   backend,
		ModelsDir: cfg.Models.Dir,
		Locale:    src,
		OpenAudio: open,
		Endpoint:  endpoint,
		Load:      loadOptions(cfg),
		Metrics:   metrics,
		DumpDir:   cfg.Audio.DumpDir,
	})
	if err != nil {
		src.Close()
		return nil, err
	}
	return d, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-listener/internal/config"
	"github.com/chaz8081/gostt-listener/internal/device"
	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

var downloadForce bool

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the model for the configured locale",
	Args:  cobra.NoArgs,
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadForce, "force", false, "download even if the model is already installed")
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	backend, url, err := resolveModel(cfg)
	if err != nil {
		return err
	}

	if !downloadForce && device.Installed(backend, cfg.Models.Dir, url) {
		fmt.Printf("%s model already installed in %s\n", backend.Name(), cfg.Models.Dir)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files := backend.Files(cfg.Models.Dir, url)
	fmt.Printf("Downloading %s model (%d files) from %s\n", backend.Name(), len(files), url)

	last := ""
	err = models.NewDownloader(nil).Download(ctx, files, func(p stt.Progress) {
		if s := p.String(); s != last {
			last = s
			fmt.Fprintf(os.Stderr, "\r  %s   ", s)
		}
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("downloading model: %w", err)
	}
	if err := device.WriteSentinel(backend, cfg.Models.Dir, url); err != nil {
		return err
	}
	fmt.Printf("Installed into %s\n", cfg.Models.Dir)
	return nil
}

// resolveModel finds the on-device backend and the model URL for the
// configured locale.
func resolveModel(cfg *config.Config) (transcribe.Backend, string, error) {
	if cfg.STT.Backend == "scribe" {
		return nil, "", fmt.Errorf("the scribe backend has no local model")
	}
	backend, err := transcribe.Lookup(cfg.STT.Backend)
	if err != nil {
		return nil, "", err
	}

	src, err := openLocale(cfg)
	if err != nil {
		return nil, "", fmt.Errorf("locale: %w", err)
	}
	tag := src.Current()
	src.Close()

	url, ok := backend.Locales().Resolve(tag)
	if !ok {
		return nil, "", fmt.Errorf("%s has no model for locale %q (supported: %v)", backend.Name(), tag, backend.Locales().Languages())
	}
	return backend, url, nil
}

// currentLanguage returns the base language of the configured locale.
func currentLanguage(cfg *config.Config) string {
	src, err := openLocale(cfg)
	if err != nil {
		return ""
	}
	defer src.Close()
	return locale.BaseLanguage(src.Current())
}

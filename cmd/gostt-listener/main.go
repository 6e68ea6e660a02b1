// Command gostt-listener is a push-to-talk dictation tool. A global hotkey
// drives a speech-to-text device and each final transcript is typed into
// the active application.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/gostt-listener/internal/config"
)

var version = "dev"

var (
	cfgFile     string
	backendFlag string
)

var rootCmd = &cobra.Command{
	Use:   "gostt-listener",
	Short: "Push-to-talk speech-to-text for the desktop",
	Long: `gostt-listener turns a global hotkey into a dictation button.

Backends:
  parakeet  - NVIDIA Parakeet TDT on ONNX Runtime (on-device, default)
  whisper   - whisper.cpp (on-device)
  scribe    - ElevenLabs Scribe realtime (cloud)`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: ~/.config/gostt-listener/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "override stt.backend (parakeet, whisper, scribe)")
	rootCmd.AddCommand(runCmd, downloadCmd, transcribeCmd, initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads and validates the config and installs the logger.
func setup() (*config.Config, error) {
	cfg, source, err := loadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if backendFlag != "" {
		cfg.STT.Backend = backendFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)})
	slog.SetDefault(slog.New(handler))
	slog.Debug("config loaded", "source", source)
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	// No config file, use defaults
	cfg := config.Default()
	cfg.Scribe.APIKey = os.Getenv(config.APIKeyEnv)
	return cfg, "defaults", nil
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv is read when scribe.api_key is empty.
const APIKeyEnv = "ELEVENLABS_API_KEY"

// Config holds all application configuration.
type Config struct {
	STT      STTConfig     `yaml:"stt"`
	Models   ModelsConfig  `yaml:"models"`
	Locale   LocaleConfig  `yaml:"locale"`
	Audio    AudioConfig   `yaml:"audio"`
	Scribe   ScribeConfig  `yaml:"scribe"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Hotkey   HotkeyConfig  `yaml:"hotkey"`
	Inject   InjectConfig  `yaml:"inject"`
	LogLevel string        `yaml:"log_level"`
}

// STTConfig selects the speech-to-text device.
type STTConfig struct {
	Backend        string `yaml:"backend"` // "parakeet", "whisper" or "scribe"
	SilenceSeconds int    `yaml:"silence_seconds"`
}

// ModelsConfig holds on-device model settings.
type ModelsConfig struct {
	Dir         string `yaml:"dir"`
	Accelerator string `yaml:"accelerator"` // "cpu", "coreml" or "cuda"
	Threads     int    `yaml:"threads"`
	// RuntimeLibrary is the onnxruntime shared library path.
	RuntimeLibrary string `yaml:"onnxruntime_lib"`
}

// LocaleConfig picks the language to transcribe. When File is set, it is
// watched and its first line replaces Tag.
type LocaleConfig struct {
	Tag  string `yaml:"tag"`
	File string `yaml:"file"`
}

// AudioConfig holds audio capture settings.
type AudioConfig struct {
	Backend    string `yaml:"backend"`    // "malgo" or "portaudio"
	Classifier string `yaml:"classifier"` // "rms" or "webrtc"
	WebRTCMode int    `yaml:"webrtc_mode"`
	DumpDir    string `yaml:"dump_dir"`
}

// ScribeConfig holds the cloud streaming settings.
type ScribeConfig struct {
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// MetricsConfig holds the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys []string `yaml:"keys"`
}

// InjectConfig holds text injection settings.
type InjectConfig struct {
	Method string `yaml:"method"` // "type", "paste" or "none"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-listener")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultModelsDir returns where models are stored by default.
func DefaultModelsDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "gostt-listener", "models")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		STT: STTConfig{
			Backend:        "parakeet",
			SilenceSeconds: 2,
		},
		Models: ModelsConfig{
			Dir:         DefaultModelsDir(),
			Accelerator: "cpu",
		},
		Locale: LocaleConfig{
			Tag: "en-US",
		},
		Audio: AudioConfig{
			Backend:    "malgo",
			Classifier: "rms",
			WebRTCMode: 2,
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
		},
		Inject: InjectConfig{
			Method: "type",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Models.Dir = expandTilde(cfg.Models.Dir)
	cfg.Models.RuntimeLibrary = expandTilde(cfg.Models.RuntimeLibrary)
	cfg.Locale.File = expandTilde(cfg.Locale.File)
	cfg.Audio.DumpDir = expandTilde(cfg.Audio.DumpDir)
	if cfg.Scribe.APIKey == "" {
		cfg.Scribe.APIKey = os.Getenv(APIKeyEnv)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.STT.Backend {
	case "parakeet", "whisper":
		if c.Models.Dir == "" {
			return fmt.Errorf("models.dir must not be empty for the %s backend", c.STT.Backend)
		}
	case "scribe":
	default:
		return fmt.Errorf("stt.backend must be parakeet, whisper, or scribe, got %q", c.STT.Backend)
	}

	if c.STT.SilenceSeconds <= 0 {
		return fmt.Errorf("stt.silence_seconds must be > 0")
	}

	switch c.Models.Accelerator {
	case "", "cpu", "coreml", "cuda":
	default:
		return fmt.Errorf("models.accelerator must be cpu, coreml, or cuda, got %q", c.Models.Accelerator)
	}

	if c.Models.Threads < 0 {
		return fmt.Errorf("models.threads must be >= 0")
	}

	if c.Locale.Tag == "" && c.Locale.File == "" {
		return fmt.Errorf("locale.tag or locale.file must be set")
	}

	switch c.Audio.Backend {
	case "malgo", "portaudio":
	default:
		return fmt.Errorf("audio.backend must be \"malgo\" or \"portaudio\", got %q", c.Audio.Backend)
	}

	switch c.Audio.Classifier {
	case "rms":
	case "webrtc":
		if c.Audio.WebRTCMode < 0 || c.Audio.WebRTCMode > 3 {
			return fmt.Errorf("audio.webrtc_mode must be between 0 and 3, got %d", c.Audio.WebRTCMode)
		}
	default:
		return fmt.Errorf("audio.classifier must be \"rms\" or \"webrtc\", got %q", c.Audio.Classifier)
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}

	switch c.Inject.Method {
	case "type", "paste", "none":
	default:
		return fmt.Errorf("inject.method must be type, paste, or none, got %q", c.Inject.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# gostt-listener configuration
# Backends: parakeet and whisper run on-device, scribe streams to the cloud
# and reads its key from scribe.api_key or $` + APIKeyEnv + `.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

// SentinelPath is the file recording which URL the installed model came
// from.
func SentinelPath(b transcribe.Backend, dir string) string {
	return filepath.Join(dir, b.Prefix()+"model-url")
}

// Installed reports whether the model for url is completely present in
// dir.
func Installed(b transcribe.Backend, dir, url string) bool {
	data, err := os.ReadFile(SentinelPath(b, dir))
	if err != nil || strings.TrimSpace(string(data)) != url {
		return false
	}
	for _, f := range b.Files(dir, url) {
		if _, err := os.Stat(f.Dest); err != nil {
			return false
		}
	}
	return true
}

// WriteSentinel marks the model for url as installed in dir.
func WriteSentinel(b transcribe.Backend, dir, url string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}
	if err := os.WriteFile(SentinelPath(b, dir), []byte(url), 0644); err != nil {
		return fmt.Errorf("writing model sentinel: %w", err)
	}
	return nil
}

package locale

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source provides the current locale and a stream of later changes.
type Source interface {
	// Current returns the locale at the time of the call.
	Current() string
	// Changes receives each new locale. It is closed by Close.
	Changes() <-chan string
	Close() error
}

// Static is a Source that never changes unless Set is called.
type Static struct {
	// ch is never reassigned, so Changes needs no lock.
	ch chan string

	mu      sync.Mutex
	current string
	closed  bool
}

// NewStatic creates a Static source for tag.
func NewStatic(tag string) *Static {
	return &Static{current: tag, ch: make(chan string, 1)}
}

func (s *Static) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Static) Changes() <-chan string { return s.ch }

// Set changes the locale and notifies the stream. Repeated values are
// ignored; an undelivered value is replaced by the newer one.
func (s *Static) Set(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag == s.current || s.closed {
		return
	}
	s.current = tag
	select {
	case <-s.ch:
	default:
	}
	s.ch <- tag
}

// Close closes the change stream. Later Sets are ignored.
func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// FileWatcher reads the locale from a one-line file and reports edits.
// The parent directory is watched so editors that replace the file on save
// are followed too.
type FileWatcher struct {
	*Static
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	stop    sync.Once
}

// WatchFile starts following path. fallback is used while the file is
// missing or empty.
func WatchFile(path, fallback string) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("locale: creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("locale: watching %s: %w", filepath.Dir(path), err)
	}

	fw := &FileWatcher{
		Static:  NewStatic(readTag(path, fallback)),
		path:    filepath.Clean(path),
		watcher: w,
		done:    make(chan struct{}),
	}
	fw.wg.Add(1)
	go fw.loop(fallback)
	return fw, nil
}

func (fw *FileWatcher) loop(fallback string) {
	defer fw.wg.Done()
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != fw.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				tag := readTag(fw.path, fallback)
				slog.Debug("[locale] file changed", "path", fw.path, "locale", tag)
				fw.Set(tag)
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("[locale] watcher error", "error", err)
		case <-fw.done:
			return
		}
	}
}

// Close stops watching and closes the change stream.
func (fw *FileWatcher) Close() error {
	var err error
	fw.stop.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
		fw.wg.Wait()
		fw.Static.Close()
	})
	return err
}

func readTag(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	tag := strings.TrimSpace(string(data))
	if tag == "" {
		return fallback
	}
	return tag
}

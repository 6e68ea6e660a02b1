// Package device implements the on-device speech-to-text lifecycle:
// locale resolution, model download, model load and listening sessions,
// driven by a single toggle button.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/syncx"
	"github.com/chaz8081/gostt-listener/internal/telemetry"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

// Downloader fetches model files.
type Downloader interface {
	Download(ctx context.Context, files []models.File, progress models.ProgressFunc) error
}

// Config wires a Device to its collaborators.
type Config struct {
	Backend   transcribe.Backend
	ModelsDir string
	Locale    locale.Source
	// Downloader defaults to models.NewDownloader(nil).
	Downloader Downloader
	// OpenAudio defaults to the malgo capture backend.
	OpenAudio audio.Opener
	Endpoint  audio.EndpointConfig
	// Load is passed to the backend; Language is filled from the locale.
	Load    transcribe.LoadOptions
	Metrics *telemetry.Metrics
	// DumpDir, when set, receives every capture as a WAV file.
	DumpDir string
	// FeedbackDelay is how long SilenceDetected stays visible before
	// inference. Zero means audio.SilenceFeedbackDelay.
	FeedbackDelay time.Duration
}

// target is what the active locale resolved to.
type target struct {
	tag  string
	lang string
	url  string
}

// Device is the on-device implementation of stt.Device.
type Device struct {
	cfg  Config
	name string

	st   *syncx.Guard[state]
	view *stt.View
	// lastKind is only touched by the state change hook.
	lastKind stt.Kind

	target atomic.Pointer[target]

	// sessMu guards latest and shown; it is taken after the state lock
	// and before the view lock.
	sessMu sync.Mutex
	latest *session
	shown  *session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reinitMu  sync.Mutex
	destroyed bool

	destroyOnce sync.Once
	destroyErr  error
}

var _ stt.Device = (*Device)(nil)

// New creates a Device and initializes it for the current locale. Locale
// changes reported by cfg.Locale reinitialize it.
func New(cfg Config) (*Device, error) {
	if cfg.Backend == nil {
		return nil, errors.New("device: backend is required")
	}
	if cfg.Locale == nil {
		return nil, errors.New("device: locale source is required")
	}
	if cfg.ModelsDir == "" {
		return nil, errors.New("device: models directory is required")
	}
	if cfg.Downloader == nil {
		cfg.Downloader = models.NewDownloader(nil)
	}
	if cfg.OpenAudio == nil {
		open, err := audio.OpenerFor("")
		if err != nil {
			return nil, err
		}
		cfg.OpenAudio = open
	}
	if cfg.FeedbackDelay <= 0 {
		cfg.FeedbackDelay = audio.SilenceFeedbackDelay
	}
	if cfg.Metrics != nil && cfg.Load.Stages == nil {
		cfg.Load.Stages = cfg.Metrics
	}

	d := &Device{
		cfg:  cfg,
		name: cfg.Backend.Name(),
		view: stt.NewView(stt.State{Kind: stt.Uninitialized}),
	}
	d.st = syncx.NewGuard(state{kind: stt.Uninitialized}, d.stateChanged)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.init(cfg.Locale.Current())

	changes := cfg.Locale.Changes()
	d.wg.Add(1)
	go d.followLocale(changes)

	return d, nil
}

// UIState returns the visible state.
func (d *Device) UIState() stt.State { return d.view.Current() }

// Subscribe streams visible state changes, starting with the current one.
func (d *Device) Subscribe() (<-chan stt.State, func()) { return d.view.Subscribe() }

// TryLoad starts loading from NotLoaded or LoadError with l pending, or
// starts listening when already Loaded and l is set.
func (d *Device) TryLoad(l stt.Listener) bool {
	return d.st.Update(func(s *state) bool {
		switch s.kind {
		case stt.NotLoaded, stt.LoadError:
			d.startLoading(s, l)
			return true
		case stt.Loaded:
			if l == nil {
				return false
			}
			d.startListening(s, s.model, l)
			return true
		}
		return false
	})
}

// OnClick advances the device by one step. See the package documentation
// of stt.Device for the per-state behavior.
func (d *Device) OnClick(l stt.Listener) {
	var stopped *session
	d.st.Update(func(s *state) bool {
		switch s.kind {
		case stt.NotDownloaded, stt.DownloadError:
			d.startDownload(s)
		case stt.Downloaded, stt.NotLoaded, stt.LoadError:
			d.startLoading(s, l)
		case stt.Loading:
			if s.pending == nil {
				s.pending = l
			} else {
				s.pending = nil
			}
		case stt.Loaded:
			d.startListening(s, s.model, l)
		case stt.Listening:
			stopped = s.session
			*s = state{kind: stt.Loaded, model: s.model}
		default:
			return false
		}
		return true
	})
	if stopped != nil {
		d.endStopped(stopped)
	}
}

// StopListening ends an active session without inference and emits None.
func (d *Device) StopListening() {
	var stopped *session
	d.st.Update(func(s *state) bool {
		if s.kind != stt.Listening {
			return false
		}
		stopped = s.session
		*s = state{kind: stt.Loaded, model: s.model}
		return true
	})
	if stopped != nil {
		d.endStopped(stopped)
	}
}

// endStopped discards a session that was just moved out of Listening.
func (d *Device) endStopped(sess *session) {
	sess.stop()
	d.clearTransient(sess)
	d.finish(sess, stt.NoneEvent())
}

// begin makes sess the latest session, drops any transient left by an
// older one and returns the session it replaces.
func (d *Device) begin(sess *session) *session {
	d.sessMu.Lock()
	defer d.sessMu.Unlock()
	prev := d.latest
	d.latest = sess
	d.shown = nil
	d.view.ClearTransient()
	return prev
}

// setTransient shows s on behalf of sess unless a newer session started
// or sess was stopped.
func (d *Device) setTransient(sess *session, s stt.State) {
	d.sessMu.Lock()
	defer d.sessMu.Unlock()
	if d.latest != sess || sess.ctx.Err() != nil {
		return
	}
	d.shown = sess
	d.view.SetTransient(s)
}

// clearTransient removes the transient shown by sess, if any.
func (d *Device) clearTransient(sess *session) {
	d.sessMu.Lock()
	defer d.sessMu.Unlock()
	if d.shown != sess {
		return
	}
	d.shown = nil
	d.view.ClearTransient()
}

// Reinit switches the device to another locale. Any download, load or
// session in progress is cancelled and the loaded model is released.
func (d *Device) Reinit(tag string) {
	d.reinitMu.Lock()
	defer d.reinitMu.Unlock()
	if d.destroyed {
		return
	}
	slog.Debug("[device] reinit", "device", d.name, "locale", tag)
	d.deinit()
	d.init(tag)
}

// Destroy releases every resource. ctx bounds how long Destroy waits for
// background work to finish.
func (d *Device) Destroy(ctx context.Context) error {
	d.destroyOnce.Do(func() {
		d.reinitMu.Lock()
		d.destroyed = true
		d.deinit()
		d.reinitMu.Unlock()

		d.cancel()

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		var errs []error
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("device: waiting for background work: %w", ctx.Err()))
		}
		if err := d.cfg.Locale.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device: closing locale source: %w", err))
		}
		d.destroyErr = errors.Join(errs...)
		slog.Debug("[device] destroyed", "device", d.name)
	})
	return d.destroyErr
}

// init resolves tag and settles on Unavailable, NotDownloaded or NotLoaded.
func (d *Device) init(tag string) {
	url, ok := d.cfg.Backend.Locales().Resolve(tag)
	if !ok {
		d.target.Store(nil)
		d.st.Set(state{kind: stt.Unavailable})
		return
	}

	t := &target{tag: tag, lang: locale.BaseLanguage(tag), url: url}
	d.target.Store(t)

	if Installed(d.cfg.Backend, d.cfg.ModelsDir, url) {
		d.st.Set(state{kind: stt.NotLoaded})
	} else {
		d.st.Set(state{kind: stt.NotDownloaded, url: url})
	}
}

// deinit moves to Uninitialized and releases whatever the previous state
// owned. Background tasks are joined before any model is closed.
func (d *Device) deinit() {
	old := d.st.Swap(state{kind: stt.Uninitialized})
	switch old.kind {
	case stt.Downloading, stt.Loading:
		old.task.cancel()
		<-old.task.done
	case stt.Loaded:
		d.closeModel(old.model)
	case stt.Listening:
		old.session.stop()
		<-old.session.done
		d.clearTransient(old.session)
		d.closeModel(old.model)
	}
}

func (d *Device) closeModel(m *handle) {
	if err := m.close(); err != nil {
		slog.Warn("[device] closing model", "device", d.name, "error", err)
	}
}

// followLocale reinitializes on every locale change until the device is
// destroyed.
func (d *Device) followLocale(changes <-chan string) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case tag, ok := <-changes:
			if !ok {
				return
			}
			d.Reinit(tag)
		}
	}
}

// stateChanged runs under the state lock for every transition.
func (d *Device) stateChanged(s state) {
	if s.kind != d.lastKind {
		slog.Debug("[device] state", "device", d.name, "from", d.lastKind, "to", s.kind)
		d.cfg.Metrics.StateChanged(context.Background(), d.name, d.lastKind.String(), s.kind.String())
		d.lastKind = s.kind
	}
	d.view.SetDurable(s.public())
}

package device

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/models"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

const testURL = "https://models.test/fake"

// fakeModel records inference calls and closes.
type fakeModel struct {
	text string
	err  error
	// hold, when set, blocks Transcribe until closed.
	hold   chan struct{}
	calls  atomic.Int32
	closes atomic.Int32
}

func (m *fakeModel) Transcribe(ctx context.Context, samples []int16) (string, error) {
	m.calls.Add(1)
	if m.hold != nil {
		select {
		case <-m.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.text, m.err
}

func (m *fakeModel) Close() error {
	m.closes.Add(1)
	return nil
}

// fakeBackend serves fakeModels for "en" and "de".
type fakeBackend struct {
	text string
	// gate, when set, holds Load until closed.
	gate chan struct{}
	// hold is handed to every model it loads.
	hold chan struct{}
	// ignoreCtx makes a gated Load finish even after cancellation.
	ignoreCtx bool
	// failLoads is the number of loads that fail before one succeeds.
	failLoads atomic.Int32
	loads     atomic.Int32
	langs     []string

	mu     sync.Mutex
	models []*fakeModel
}

func (b *fakeBackend) Name() string   { return "fake" }
func (b *fakeBackend) Prefix() string { return "fake-" }

func (b *fakeBackend) Locales() locale.Table {
	return locale.Uniform(testURL, "en", "de")
}

func (b *fakeBackend) Files(dir, url string) []models.File {
	return []models.File{{URL: url + "/model.bin", Dest: filepath.Join(dir, "fake-model.bin")}}
}

func (b *fakeBackend) Load(ctx context.Context, dir string, opts transcribe.LoadOptions) (transcribe.Model, error) {
	b.loads.Add(1)
	b.mu.Lock()
	b.langs = append(b.langs, opts.Language)
	b.mu.Unlock()

	if b.gate != nil {
		if b.ignoreCtx {
			<-b.gate
		} else {
			select {
			case <-b.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if b.failLoads.Add(-1) >= 0 {
		return nil, errors.New("corrupt model")
	}

	m := &fakeModel{text: b.text, hold: b.hold}
	b.mu.Lock()
	b.models = append(b.models, m)
	b.mu.Unlock()
	return m, nil
}

func (b *fakeBackend) model(i int) *fakeModel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.models) {
		return nil
	}
	return b.models[i]
}

// fakeDownloader writes placeholder files.
type fakeDownloader struct {
	gate     chan struct{}
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *fakeDownloader) Download(ctx context.Context, files []models.File, progress models.ProgressFunc) error {
	f.calls.Add(1)
	progress(stt.UnknownProgress)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.failures.Add(-1) >= 0 {
		return errors.New("network down")
	}
	for _, file := range files {
		if err := os.WriteFile(file.Dest, []byte("model"), 0644); err != nil {
			return err
		}
	}
	progress(stt.Fraction(1))
	return nil
}

// steppedDownloader reports each of steps, then waits on gate.
type steppedDownloader struct {
	steps    []stt.Progress
	reported chan struct{}
	gate     chan struct{}
}

func (f *steppedDownloader) Download(ctx context.Context, files []models.File, progress models.ProgressFunc) error {
	for _, p := range f.steps {
		progress(p)
	}
	close(f.reported)
	select {
	case <-f.gate:
		return errors.New("cancelled by test")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// blockingSource never produces audio.
type blockingSource struct{}

func (blockingSource) Read(ctx context.Context, buf []int16) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingSource) Close() error { return nil }

// pcmSource plays constant-amplitude segments, then io.EOF.
type pcmSource struct {
	segments [][2]int // samples, amplitude
}

func (s *pcmSource) Read(ctx context.Context, buf []int16) (int, error) {
	for len(s.segments) > 0 && s.segments[0][0] == 0 {
		s.segments = s.segments[1:]
	}
	if len(s.segments) == 0 {
		return 0, io.EOF
	}
	n := min(len(buf), s.segments[0][0])
	amp := int16(s.segments[0][1])
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			buf[i] = amp
		} else {
			buf[i] = -amp
		}
	}
	s.segments[0][0] -= n
	return n, nil
}

func (s *pcmSource) Close() error { return nil }

// sharedMic hands out blocking sources and records how many were open at
// the same time. Closing a source takes a while, like a real device.
type sharedMic struct {
	open   atomic.Int32
	peak   atomic.Int32
	opened atomic.Int32
}

func (m *sharedMic) Open() (audio.Source, error) {
	n := m.open.Add(1)
	m.opened.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return &micSource{mic: m}, nil
}

type micSource struct {
	blockingSource
	mic *sharedMic
}

func (s *micSource) Close() error {
	time.Sleep(20 * time.Millisecond)
	s.mic.open.Add(-1)
	return nil
}

func opener(newSrc func() audio.Source) audio.Opener {
	return func() (audio.Source, error) { return newSrc(), nil }
}

// speechThenSilence is one second of speech followed by trailing silence.
func speechThenSilence() audio.Source {
	return &pcmSource{segments: [][2]int{{16000, 2000}, {48000, 0}}}
}

func silenceOnly() audio.Source {
	return &pcmSource{segments: [][2]int{{16000, 0}}}
}

type testEnv struct {
	dev    *Device
	dir    string
	locale *locale.Static
	dl     *fakeDownloader
}

func newTestDevice(t *testing.T, b *fakeBackend, installed bool, mutate func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if installed {
		for _, f := range b.Files(dir, testURL) {
			if err := os.WriteFile(f.Dest, []byte("model"), 0644); err != nil {
				t.Fatal(err)
			}
		}
		if err := WriteSentinel(b, dir, testURL); err != nil {
			t.Fatal(err)
		}
	}

	src := locale.NewStatic("en-US")
	dl := &fakeDownloader{}
	cfg := Config{
		Backend:       b,
		ModelsDir:     dir,
		Locale:        src,
		Downloader:    dl,
		OpenAudio:     opener(func() audio.Source { return blockingSource{} }),
		Endpoint:      audio.EndpointConfig{SilenceSeconds: 1},
		FeedbackDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { d.Destroy(context.Background()) })
	return &testEnv{dev: d, dir: dir, locale: src, dl: dl}
}

func waitFor(t *testing.T, d *Device, want func(stt.State) bool, desc string) stt.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := d.UIState()
		if want(s) {
			return s
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %s", s, desc)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitKind(t *testing.T, d *Device, k stt.Kind) stt.State {
	t.Helper()
	return waitFor(t, d, func(s stt.State) bool { return s.Kind == k }, k.String())
}

// collector buffers the events delivered to a listener.
type collector struct {
	ch chan stt.Event
}

func newCollector() *collector { return &collector{ch: make(chan stt.Event, 16)} }

func (c *collector) listen(e stt.Event) { c.ch <- e }

func (c *collector) next(t *testing.T) stt.Event {
	t.Helper()
	select {
	case e := <-c.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return stt.Event{}
	}
}

func (c *collector) quiet(t *testing.T) {
	t.Helper()
	select {
	case e := <-c.ch:
		t.Fatalf("unexpected event %v", e.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsupportedLocaleIsUnavailable(t *testing.T) {
	env := newTestDevice(t, &fakeBackend{}, true, func(c *Config) {
		c.Locale = locale.NewStatic("ja-JP")
	})
	if got := env.dev.UIState().Kind; got != stt.Unavailable {
		t.Fatalf("state = %v, want unavailable", got)
	}
	c := newCollector()
	env.dev.OnClick(c.listen)
	if env.dev.TryLoad(c.listen) {
		t.Error("TryLoad() = true while unavailable")
	}
	if got := env.dev.UIState().Kind; got != stt.Unavailable {
		t.Errorf("state after click = %v, want unavailable", got)
	}
	c.quiet(t)
}

func TestInitialState(t *testing.T) {
	b := &fakeBackend{}
	if got := newTestDevice(t, b, false, nil).dev.UIState().Kind; got != stt.NotDownloaded {
		t.Errorf("missing model: state = %v, want not-downloaded", got)
	}
	if got := newTestDevice(t, b, true, nil).dev.UIState().Kind; got != stt.NotLoaded {
		t.Errorf("installed model: state = %v, want not-loaded", got)
	}

	env := newTestDevice(t, b, true, nil)
	if err := os.WriteFile(SentinelPath(b, env.dir), []byte("https://models.test/old"), 0644); err != nil {
		t.Fatal(err)
	}
	env.dev.Reinit("en")
	if got := env.dev.UIState().Kind; got != stt.NotDownloaded {
		t.Errorf("stale sentinel: state = %v, want not-downloaded", got)
	}
}

func TestDownloadSuccess(t *testing.T) {
	b := &fakeBackend{}
	gate := make(chan struct{})
	env := newTestDevice(t, b, false, func(c *Config) {
		c.Downloader = &fakeDownloader{gate: gate}
	})

	env.dev.OnClick(nil)
	s := waitKind(t, env.dev, stt.Downloading)
	if s.Progress.Known {
		t.Errorf("initial progress = %v, want unknown", s.Progress)
	}

	close(gate)
	waitKind(t, env.dev, stt.NotLoaded)
	if !Installed(b, env.dir, testURL) {
		t.Error("model should be installed after download")
	}
}

func TestDownloadProgressNeverRegresses(t *testing.T) {
	dl := &steppedDownloader{
		steps: []stt.Progress{
			stt.Fraction(0), stt.Fraction(0.5), stt.UnknownProgress, stt.Fraction(0.3),
		},
		reported: make(chan struct{}),
		gate:     make(chan struct{}),
	}
	env := newTestDevice(t, &fakeBackend{}, false, func(c *Config) { c.Downloader = dl })

	env.dev.OnClick(nil)
	<-dl.reported
	s := env.dev.UIState()
	if s.Kind != stt.Downloading || s.Progress != stt.Fraction(0.5) {
		t.Errorf("state = %+v, want downloading at 50%%", s)
	}
	close(dl.gate)
	waitKind(t, env.dev, stt.DownloadError)
}

func TestAdvances(t *testing.T) {
	tests := []struct {
		cur, next stt.Progress
		want      bool
	}{
		{stt.UnknownProgress, stt.UnknownProgress, false},
		{stt.UnknownProgress, stt.Fraction(0), true},
		{stt.Fraction(0.2), stt.Fraction(0.4), true},
		{stt.Fraction(0.4), stt.Fraction(0.4), false},
		{stt.Fraction(0.4), stt.Fraction(0.2), false},
		{stt.Fraction(0.4), stt.UnknownProgress, false},
	}
	for _, tt := range tests {
		if got := advances(tt.cur, tt.next); got != tt.want {
			t.Errorf("advances(%v, %v) = %v, want %v", tt.cur, tt.next, got, tt.want)
		}
	}
}

func TestDownloadFailureThenRetry(t *testing.T) {
	dl := &fakeDownloader{}
	dl.failures.Store(1)
	env := newTestDevice(t, &fakeBackend{}, false, func(c *Config) { c.Downloader = dl })

	env.dev.OnClick(nil)
	s := waitKind(t, env.dev, stt.DownloadError)
	if stt.KindOf(s.Err) != stt.DownloadFailure {
		t.Errorf("error kind = %v, want download failure", stt.KindOf(s.Err))
	}

	env.dev.OnClick(nil)
	waitKind(t, env.dev, stt.NotLoaded)
	if dl.calls.Load() != 2 {
		t.Errorf("download calls = %d, want 2", dl.calls.Load())
	}
}

func TestToggleDuringLoadingIsReadAtCompletion(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	env := newTestDevice(t, b, true, nil)
	c := newCollector()

	env.dev.OnClick(c.listen)
	if s := env.dev.UIState(); s.Kind != stt.Loading || !s.PendingListen {
		t.Fatalf("state = %v, want loading with pending listen", s)
	}
	env.dev.OnClick(c.listen)
	if s := env.dev.UIState(); !(s.Kind == stt.Loading && !s.PendingListen) {
		t.Fatalf("state = %v, want loading without pending listen", s)
	}
	env.dev.OnClick(c.listen)

	close(b.gate)
	waitKind(t, env.dev, stt.Listening)

	env.dev.StopListening()
	if got := env.dev.UIState().Kind; got != stt.Loaded {
		t.Errorf("state after stop = %v, want loaded", got)
	}
	if e := c.next(t); e.Kind != stt.None {
		t.Errorf("event = %v, want none", e.Kind)
	}
	c.quiet(t)
}

func TestToggledOffDuringLoadingStaysLoaded(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{})}
	env := newTestDevice(t, b, true, nil)
	c := newCollector()

	env.dev.OnClick(c.listen)
	env.dev.OnClick(c.listen)
	close(b.gate)

	waitKind(t, env.dev, stt.Loaded)
	c.quiet(t)
}

func TestLoadFailureThenTryLoad(t *testing.T) {
	b := &fakeBackend{}
	b.failLoads.Store(1)
	env := newTestDevice(t, b, true, nil)

	if !env.dev.TryLoad(nil) {
		t.Fatal("TryLoad() = false from not-loaded")
	}
	s := waitKind(t, env.dev, stt.LoadError)
	if stt.KindOf(s.Err) != stt.LoadFailure {
		t.Errorf("error kind = %v, want load failure", stt.KindOf(s.Err))
	}

	if !env.dev.TryLoad(nil) {
		t.Fatal("TryLoad() = false from load-error")
	}
	waitKind(t, env.dev, stt.Loaded)
	if env.dev.TryLoad(nil) {
		t.Error("TryLoad(nil) = true while loaded")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if got := b.langs[0]; got != "en" {
		t.Errorf("load language = %q, want en", got)
	}
}

func TestListenTranscribes(t *testing.T) {
	b := &fakeBackend{text: "hello world"}
	env := newTestDevice(t, b, true, func(c *Config) { c.OpenAudio = opener(speechThenSilence) })
	c := newCollector()

	if !env.dev.TryLoad(c.listen) {
		t.Fatal("TryLoad() = false")
	}
	e := c.next(t)
	if e.Kind != stt.Final || e.Text != "hello world" || e.Confidence != 1 {
		t.Errorf("event = %+v, want final %q", e, "hello world")
	}
	waitKind(t, env.dev, stt.Loaded)
	c.quiet(t)
}

func TestListenWithoutSpeechSkipsInference(t *testing.T) {
	b := &fakeBackend{text: "ghost"}
	env := newTestDevice(t, b, true, func(c *Config) { c.OpenAudio = opener(silenceOnly) })
	c := newCollector()

	env.dev.TryLoad(c.listen)
	if e := c.next(t); e.Kind != stt.None {
		t.Errorf("event = %v, want none", e.Kind)
	}
	if calls := b.model(0).calls.Load(); calls != 0 {
		t.Errorf("inference ran %d times, want 0", calls)
	}
	waitKind(t, env.dev, stt.Loaded)
}

func TestListenBlankTextIsNone(t *testing.T) {
	b := &fakeBackend{text: "   "}
	env := newTestDevice(t, b, true, func(c *Config) { c.OpenAudio = opener(speechThenSilence) })
	c := newCollector()

	env.dev.TryLoad(c.listen)
	if e := c.next(t); e.Kind != stt.None {
		t.Errorf("event = %v, want none", e.Kind)
	}
}

func TestCaptureFailure(t *testing.T) {
	env := newTestDevice(t, &fakeBackend{}, true, func(c *Config) {
		c.OpenAudio = func() (audio.Source, error) { return nil, errors.New("no microphone") }
	})
	c := newCollector()

	env.dev.TryLoad(c.listen)
	e := c.next(t)
	if e.Kind != stt.Error || stt.KindOf(e.Err) != stt.CaptureFailure {
		t.Errorf("event = %+v, want capture failure", e)
	}
	waitKind(t, env.dev, stt.Loaded)
}

func TestClickWhileListeningStops(t *testing.T) {
	b := &fakeBackend{}
	env := newTestDevice(t, b, true, nil)
	c := newCollector()

	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)
	env.dev.OnClick(c.listen)
	waitKind(t, env.dev, stt.Listening)

	env.dev.OnClick(c.listen)
	if e := c.next(t); e.Kind != stt.None {
		t.Errorf("event = %v, want none", e.Kind)
	}
	if got := env.dev.UIState().Kind; got != stt.Loaded {
		t.Errorf("state = %v, want loaded", got)
	}
	c.quiet(t)
	if calls := b.model(0).calls.Load(); calls != 0 {
		t.Errorf("inference ran %d times after stop, want 0", calls)
	}
}

func TestRestartWaitsForPreviousSource(t *testing.T) {
	mic := &sharedMic{}
	env := newTestDevice(t, &fakeBackend{}, true, func(c *Config) { c.OpenAudio = mic.Open })
	c := newCollector()

	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)
	env.dev.OnClick(c.listen)
	waitKind(t, env.dev, stt.Listening)
	for mic.opened.Load() < 1 {
		time.Sleep(time.Millisecond)
	}

	env.dev.OnClick(c.listen)
	if e := c.next(t); e.Kind != stt.None {
		t.Errorf("event = %v, want none", e.Kind)
	}
	env.dev.OnClick(c.listen)
	waitKind(t, env.dev, stt.Listening)

	deadline := time.Now().Add(2 * time.Second)
	for mic.opened.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second session never opened audio")
		}
		time.Sleep(time.Millisecond)
	}
	if peak := mic.peak.Load(); peak != 1 {
		t.Errorf("%d audio sources open at once, want 1", peak)
	}
}

func TestStaleSessionKeepsOffNewTransient(t *testing.T) {
	hold := make(chan struct{})
	b := &fakeBackend{text: "first", hold: hold}
	env := newTestDevice(t, b, true, func(c *Config) {
		c.OpenAudio = opener(speechThenSilence)
		c.FeedbackDelay = 500 * time.Millisecond
	})
	first, second := newCollector(), newCollector()

	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)
	env.dev.OnClick(first.listen)
	waitKind(t, env.dev, stt.Thinking)

	// The first session is stuck in inference; start another one.
	env.dev.OnClick(second.listen)
	waitKind(t, env.dev, stt.SilenceDetected)

	close(hold)
	if e := first.next(t); e.Kind != stt.Final || e.Text != "first" {
		t.Fatalf("first event = %+v, want final", e)
	}
	if got := env.dev.UIState().Kind; got != stt.SilenceDetected {
		t.Errorf("state after stale inference = %v, want silence-detected", got)
	}
	if e := second.next(t); e.Kind != stt.Final {
		t.Errorf("second event = %v, want final", e.Kind)
	}
}

func TestModelClosedExactlyOnce(t *testing.T) {
	b := &fakeBackend{}
	env := newTestDevice(t, b, true, nil)

	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)

	env.dev.Reinit("de")
	if got := env.dev.UIState().Kind; got != stt.NotLoaded {
		t.Fatalf("state after reinit = %v, want not-loaded", got)
	}
	if got := b.model(0).closes.Load(); got != 1 {
		t.Errorf("first model closed %d times, want 1", got)
	}

	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)

	for i := 0; i < 2; i++ {
		if err := env.dev.Destroy(context.Background()); err != nil {
			t.Fatalf("Destroy() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if got := b.model(i).closes.Load(); got != 1 {
			t.Errorf("model %d closed %d times, want 1", i, got)
		}
	}
	if got := env.dev.UIState().Kind; got != stt.Uninitialized {
		t.Errorf("state after destroy = %v, want uninitialized", got)
	}
}

func TestReinitDuringLoadClosesLateModel(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), ignoreCtx: true}
	env := newTestDevice(t, b, true, nil)
	c := newCollector()

	env.dev.OnClick(c.listen)
	waitKind(t, env.dev, stt.Loading)

	done := make(chan struct{})
	go func() {
		env.dev.Reinit("de")
		close(done)
	}()
	waitKind(t, env.dev, stt.Uninitialized)
	close(b.gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Reinit() did not return")
	}
	if got := b.model(0).closes.Load(); got != 1 {
		t.Errorf("late model closed %d times, want 1", got)
	}
	if got := env.dev.UIState().Kind; got != stt.NotLoaded {
		t.Errorf("state = %v, want not-loaded", got)
	}
	c.quiet(t)
}

func TestDestroyWhileListeningEmitsNothing(t *testing.T) {
	b := &fakeBackend{}
	env := newTestDevice(t, b, true, nil)
	c := newCollector()

	env.dev.TryLoad(c.listen)
	waitKind(t, env.dev, stt.Listening)

	if err := env.dev.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	c.quiet(t)
	if got := b.model(0).closes.Load(); got != 1 {
		t.Errorf("model closed %d times, want 1", got)
	}
	env.dev.OnClick(c.listen)
	if env.dev.TryLoad(c.listen) {
		t.Error("TryLoad() = true after destroy")
	}
}

func TestDestroyCancelsDownload(t *testing.T) {
	env := newTestDevice(t, &fakeBackend{}, false, func(c *Config) {
		c.Downloader = &fakeDownloader{gate: make(chan struct{})}
	})
	env.dev.OnClick(nil)
	waitKind(t, env.dev, stt.Downloading)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.dev.Destroy(ctx); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
}

func TestLocaleChangeReinitializes(t *testing.T) {
	env := newTestDevice(t, &fakeBackend{}, true, nil)
	env.dev.TryLoad(nil)
	waitKind(t, env.dev, stt.Loaded)

	env.locale.Set("ja")
	waitKind(t, env.dev, stt.Unavailable)

	env.locale.Set("de-CH")
	waitKind(t, env.dev, stt.NotLoaded)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	env := newTestDevice(t, &fakeBackend{}, true, nil)
	ch, cancel := env.dev.Subscribe()
	defer cancel()

	if s := <-ch; s.Kind != stt.NotLoaded {
		t.Fatalf("first state = %v, want not-loaded", s)
	}
	env.dev.TryLoad(nil)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Kind == stt.Loaded {
				return
			}
		case <-deadline:
			t.Fatal("never observed loaded")
		}
	}
}

func TestCaptureDump(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dumps")
	env := newTestDevice(t, &fakeBackend{text: "hi"}, true, func(c *Config) {
		c.OpenAudio = opener(speechThenSilence)
		c.DumpDir = dump
	})
	c := newCollector()
	env.dev.TryLoad(c.listen)
	c.next(t)

	entries, err := os.ReadDir(dump)
	if err != nil || len(entries) != 1 {
		t.Fatalf("dump dir = %v, %v, want one file", entries, err)
	}
	samples, err := audio.ReadWAV(filepath.Join(dump, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadWAV() error = %v", err)
	}
	if len(samples) == 0 {
		t.Error("dumped capture is empty")
	}
}

// Package stream implements a cloud speech-to-text device that streams
// microphone audio to the ElevenLabs Scribe realtime API.
package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/locale"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/telemetry"
)

const (
	// RealtimeURL is the Scribe realtime websocket endpoint.
	RealtimeURL = "wss://api.elevenlabs.io/v1/speech-to-text/realtime"

	modelID         = "scribe_v2_realtime"
	audioFormat     = "pcm_16000"
	commitStrategy  = "vad"
	defaultLanguage = "en"

	minVADSilence = 0.3
	maxVADSilence = 3.0

	closeTimeout = time.Second
)

// errorTypes are the server message types that end a session with an error.
var errorTypes = map[string]bool{
	"error":                       true,
	"auth_error":                  true,
	"quota_exceeded":              true,
	"transcriber_error":           true,
	"input_error":                 true,
	"commit_throttled":            true,
	"unaccepted_terms":            true,
	"rate_limited":                true,
	"queue_overflow":              true,
	"resource_exhausted":          true,
	"session_time_limit_exceeded": true,
	"chunk_size_exceeded":         true,
	"insufficient_audio_activity": true,
}

// Config wires a Scribe device.
type Config struct {
	APIKey string
	// URL overrides RealtimeURL.
	URL    string
	Locale locale.Source
	// SilenceSeconds is the server-side VAD silence before a commit.
	SilenceSeconds int
	// OpenAudio defaults to the malgo capture backend.
	OpenAudio audio.Opener
	Dialer    *websocket.Dialer
	Metrics   *telemetry.Metrics
}

// Scribe is a stt.Device backed by a realtime websocket session. It has no
// model to download or load, so its only states are Unavailable, Loaded
// and Listening.
type Scribe struct {
	cfg  Config
	view *stt.View
	lang atomic.Value // string

	mu     sync.Mutex
	apiKey string
	active *session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	destroyOnce sync.Once
	destroyErr  error
}

var _ stt.Device = (*Scribe)(nil)

// New creates a Scribe device. A blank API key makes it Unavailable.
func New(cfg Config) (*Scribe, error) {
	if cfg.Locale == nil {
		return nil, errors.New("stream: locale source is required")
	}
	if cfg.URL == "" {
		cfg.URL = RealtimeURL
	}
	if cfg.OpenAudio == nil {
		open, err := audio.OpenerFor("")
		if err != nil {
			return nil, err
		}
		cfg.OpenAudio = open
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	s := &Scribe{cfg: cfg, apiKey: strings.TrimSpace(cfg.APIKey)}
	s.view = stt.NewView(s.readyState())
	s.lang.Store(languageCode(cfg.Locale.Current()))
	s.ctx, s.cancel = context.WithCancel(context.Background())

	changes := cfg.Locale.Changes()
	s.wg.Add(1)
	go s.followLocale(changes)

	return s, nil
}

func (s *Scribe) UIState() stt.State { return s.view.Current() }

func (s *Scribe) Subscribe() (<-chan stt.State, func()) { return s.view.Subscribe() }

// SetAPIKey replaces the key. The state follows it unless listening.
func (s *Scribe) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
	if s.active == nil {
		s.view.SetDurable(s.readyState())
	}
}

// TryLoad marks the device ready, and starts listening when l is set.
func (s *Scribe) TryLoad(l stt.Listener) bool {
	s.mu.Lock()
	if s.apiKey == "" {
		s.view.SetDurable(stt.State{Kind: stt.Unavailable})
		s.mu.Unlock()
		return false
	}
	if l == nil {
		if s.active == nil {
			s.view.SetDurable(stt.State{Kind: stt.Loaded})
		}
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	s.startListening(l)
	return true
}

// OnClick stops an active session with None, or starts a new one.
func (s *Scribe) OnClick(l stt.Listener) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		s.end(active, eventPtr(stt.NoneEvent()))
		return
	}
	s.startListening(l)
}

// StopListening ends the active session and emits None.
func (s *Scribe) StopListening() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		s.end(active, eventPtr(stt.NoneEvent()))
	}
}

// Destroy ends any session without an event and waits for background work.
func (s *Scribe) Destroy(ctx context.Context) error {
	s.destroyOnce.Do(func() {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if active != nil {
			s.end(active, nil)
		}
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		var errs []error
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stream: waiting for sessions: %w", ctx.Err()))
		}
		if err := s.cfg.Locale.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream: closing locale source: %w", err))
		}
		s.destroyErr = errors.Join(errs...)
	})
	return s.destroyErr
}

func (s *Scribe) readyState() stt.State {
	if s.apiKey == "" {
		return stt.State{Kind: stt.Unavailable}
	}
	return stt.State{Kind: stt.Loaded}
}

func (s *Scribe) startListening(l stt.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil || s.ctx.Err() != nil {
		return
	}
	if s.apiKey == "" {
		s.view.SetDurable(stt.State{Kind: stt.Unavailable})
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sess := &session{
		id:       uuid.NewString(),
		listener: l,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.active = sess
	s.view.SetDurable(stt.State{Kind: stt.Listening})
	s.cfg.Metrics.StateChanged(ctx, "scribe", stt.Loaded.String(), stt.Listening.String())

	key := s.apiKey
	s.wg.Add(1)
	go s.run(sess, key)
}

// end finishes sess if it is still active and delivers ev, if any. It
// reports whether sess was active.
func (s *Scribe) end(sess *session, ev *stt.Event) bool {
	s.mu.Lock()
	if s.active != sess {
		s.mu.Unlock()
		return false
	}
	s.active = nil
	s.view.SetDurable(s.readyState())
	s.mu.Unlock()

	sess.shutdown()
	s.cfg.Metrics.StateChanged(s.ctx, "scribe", stt.Listening.String(), stt.Loaded.String())
	if ev != nil {
		s.cfg.Metrics.SessionFinished(s.ctx, "scribe", ev.Kind.String())
		if sess.listener != nil {
			sess.listener(*ev)
		}
	}
	return true
}

func (s *Scribe) isActive(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == sess
}

func (s *Scribe) fail(sess *session, kind stt.ErrorKind, err error) {
	if s.end(sess, eventPtr(stt.ErrorEvent(stt.Wrap(kind, "scribe", err)))) {
		slog.Warn("[stream] session failed", "session", sess.id, "error", err)
	}
}

// run dials the realtime endpoint and pumps messages until the session
// ends.
func (s *Scribe) run(sess *session, key string) {
	defer s.wg.Done()
	log := slog.With("session", sess.id)

	header := http.Header{}
	header.Set("xi-api-key", key)
	conn, _, err := s.cfg.Dialer.DialContext(sess.ctx, s.realtimeURL(), header)
	if err != nil {
		s.fail(sess, stt.ProtocolFailure, fmt.Errorf("connecting: %w", err))
		return
	}
	if !sess.attach(conn) {
		conn.Close()
		return
	}
	log.Debug("[stream] connected")

	g, ctx := errgroup.WithContext(sess.ctx)
	started := make(chan struct{})
	g.Go(func() error { return s.readLoop(sess, conn, started) })
	g.Go(func() error { return s.writeLoop(ctx, sess, conn, started) })
	err = g.Wait()
	log.Debug("[stream] session closed", "error", err)
}

// serverMessage covers the fields used from every server message.
type serverMessage struct {
	MessageType string `json:"message_type"`
	Type        string `json:"type"`
	Text        string `json:"text"`
	Error       string `json:"error"`
	Message     string `json:"message"`
}

func (s *Scribe) readLoop(sess *session, conn *websocket.Conn, started chan struct{}) error {
	var startOnce sync.Once
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
				s.end(sess, eventPtr(stt.NoneEvent()))
				return nil
			}
			s.fail(sess, stt.ProtocolFailure, fmt.Errorf("connection closed: %w", err))
			return err
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.fail(sess, stt.ProtocolFailure, fmt.Errorf("invalid message: %w", err))
			return err
		}
		typ := msg.MessageType
		if typ == "" {
			typ = msg.Type
		}

		switch {
		case typ == "session_started":
			startOnce.Do(func() { close(started) })
		case typ == "partial_transcript":
			if strings.TrimSpace(msg.Text) != "" && sess.listener != nil && s.isActive(sess) {
				sess.listener(stt.PartialEvent(msg.Text))
			}
		case typ == "committed_transcript" || typ == "committed_transcript_with_timestamps":
			if strings.TrimSpace(msg.Text) != "" {
				s.end(sess, eventPtr(stt.FinalEvent(msg.Text, 1)))
				return nil
			}
		case errorTypes[typ]:
			detail := msg.Error
			if detail == "" {
				detail = msg.Message
			}
			if detail == "" {
				detail = typ
			}
			err := fmt.Errorf("scribe realtime error (%s): %s", typ, detail)
			s.fail(sess, stt.ProtocolFailure, err)
			return err
		}
	}
}

// audioChunk is the client message carrying PCM audio.
type audioChunk struct {
	MessageType string `json:"message_type"`
	Audio       string `json:"audio_base_64"`
	SampleRate  int    `json:"sample_rate"`
}

func (s *Scribe) writeLoop(ctx context.Context, sess *session, conn *websocket.Conn, started <-chan struct{}) error {
	select {
	case <-started:
	case <-ctx.Done():
		return nil
	}

	src, err := s.cfg.OpenAudio()
	if err != nil {
		s.fail(sess, stt.CaptureFailure, fmt.Errorf("opening audio source: %w", err))
		return err
	}
	defer src.Close()

	buf := make([]int16, audio.DefaultChunkSamples)
	for {
		n, err := src.Read(ctx, buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.fail(sess, stt.CaptureFailure, fmt.Errorf("reading audio: %w", err))
			return err
		}
		if n == 0 {
			continue
		}
		chunk := audioChunk{
			MessageType: "input_audio_chunk",
			Audio:       base64.StdEncoding.EncodeToString(audio.PCMBytes(buf[:n])),
			SampleRate:  audio.SampleRate,
		}
		if err := conn.WriteJSON(chunk); err != nil {
			// The read side reports how the server closed.
			if ctx.Err() != nil || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			s.fail(sess, stt.ProtocolFailure, fmt.Errorf("sending audio: %w", err))
			return err
		}
	}
}

func (s *Scribe) followLocale(changes <-chan string) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case tag, ok := <-changes:
			if !ok {
				return
			}
			s.lang.Store(languageCode(tag))
		}
	}
}

// realtimeURL builds the endpoint URL for the current settings.
func (s *Scribe) realtimeURL() string {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return s.cfg.URL
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("audio_format", audioFormat)
	q.Set("commit_strategy", commitStrategy)
	q.Set("vad_silence_threshold_secs", strconv.FormatFloat(vadSilence(s.cfg.SilenceSeconds), 'f', 1, 64))
	q.Set("language_code", s.lang.Load().(string))
	u.RawQuery = q.Encode()
	return u.String()
}

func vadSilence(seconds int) float64 {
	return min(max(float64(seconds), minVADSilence), maxVADSilence)
}

// languageCode returns the base language of tag, or "en".
func languageCode(tag string) string {
	if base := locale.BaseLanguage(tag); base != "" {
		return base
	}
	return defaultLanguage
}

func eventPtr(e stt.Event) *stt.Event { return &e }

// session is one websocket connection.
type session struct {
	id       string
	listener stt.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// attach records conn unless the session already ended.
func (s *session) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

// shutdown cancels the session and closes its connection normally.
func (s *session) shutdown() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "normal")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	conn.Close()
}

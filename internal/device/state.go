package device

import (
	"context"
	"errors"
	"sync"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/stt"
	"github.com/chaz8081/gostt-listener/internal/transcribe"
)

// state is the internal lifecycle state. Which fields are set depends on
// kind:
//
//	NotDownloaded    url
//	Downloading      url, progress, task
//	DownloadError    url, err
//	Loading          task, pending
//	LoadError        err
//	Loaded           model
//	Listening        model, session
type state struct {
	kind     stt.Kind
	url      string
	progress stt.Progress
	err      error
	task     *task
	pending  stt.Listener
	model    *handle
	session  *session
}

// public projects the state for callers, without handles or callbacks.
func (s state) public() stt.State {
	return stt.State{
		Kind:          s.kind,
		Progress:      s.progress,
		Err:           s.err,
		PendingListen: s.kind == stt.Loading && s.pending != nil,
	}
}

func isKind(k stt.Kind) func(state) bool {
	return func(s state) bool { return s.kind == k }
}

// task is a cancellable background download or load.
type task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *Device) newTask() *task {
	ctx, cancel := context.WithCancel(d.ctx)
	return &task{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

var errModelClosed = errors.New("model closed")

// handle owns a loaded model. Closing cancels running inference and waits
// for it before the model is released.
type handle struct {
	model  transcribe.Model
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	err    error
}

func newHandle(parent context.Context, m transcribe.Model) *handle {
	ctx, cancel := context.WithCancel(parent)
	return &handle{model: m, ctx: ctx, cancel: cancel}
}

func (h *handle) transcribe(samples []int16) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return "", errModelClosed
	}
	return h.model.Transcribe(h.ctx, samples)
}

func (h *handle) close() error {
	h.once.Do(func() {
		h.cancel()
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed = true
		h.err = h.model.Close()
	})
	return h.err
}

// session is one listening run.
type session struct {
	id       string
	model    *handle
	listener stt.Listener
	recorder *audio.Recorder
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	// released closes once the session's audio source is closed.
	released chan struct{}
	// prev is the session started before this one. Its source must be
	// released before this session opens audio.
	prev *session
}

// stop discards the capture and cancels the session.
func (s *session) stop() {
	s.recorder.Discard()
	s.cancel()
}

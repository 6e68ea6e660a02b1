package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/gostt-listener/internal/audio"
	"github.com/chaz8081/gostt-listener/internal/stt"
)

// startListening moves s to Listening on model and starts capturing for
// l. It must run inside a state update.
func (d *Device) startListening(s *state, model *handle, l stt.Listener) {
	ctx, cancel := context.WithCancel(d.ctx)
	sess := &session{
		id:       uuid.NewString(),
		model:    model,
		listener: l,
		recorder: audio.NewRecorder(d.cfg.Endpoint),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		released: make(chan struct{}),
	}
	*s = state{kind: stt.Listening, model: model, session: sess}
	sess.prev = d.begin(sess)

	d.wg.Add(1)
	go d.listen(sess)
}

// leaveListening moves Listening back to Loaded if sess is still the
// active session.
func (d *Device) leaveListening(sess *session) bool {
	return d.st.CompareAndSwap(
		func(s state) bool { return s.kind == stt.Listening && s.session == sess },
		state{kind: stt.Loaded, model: sess.model},
	)
}

func (d *Device) listen(sess *session) {
	defer d.wg.Done()
	defer close(sess.done)
	defer sess.cancel()

	log := slog.With("device", d.name, "session", sess.id)
	log.Debug("[device] listening")

	capture, err := d.record(sess)
	if capture.Discarded {
		log.Debug("[device] capture discarded")
		return
	}
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		log.Warn("[device] capture failed", "error", err)
		if d.leaveListening(sess) {
			d.finish(sess, stt.ErrorEvent(stt.Wrap(stt.CaptureFailure, "capture", err)))
		}
		return
	}

	d.dump(log, capture)

	if !capture.HeardSpeech || len(capture.Samples) == 0 {
		log.Debug("[device] no speech heard", "samples", len(capture.Samples))
		if d.leaveListening(sess) {
			d.finish(sess, stt.NoneEvent())
		}
		return
	}

	if capture.SilenceDetected {
		d.setTransient(sess, stt.State{Kind: stt.SilenceDetected})
		select {
		case <-time.After(d.cfg.FeedbackDelay):
		case <-sess.ctx.Done():
			d.clearTransient(sess)
			return
		}
	}

	if !d.leaveListening(sess) {
		d.clearTransient(sess)
		return
	}

	d.setTransient(sess, stt.State{Kind: stt.Thinking})
	start := time.Now()
	text, err := sess.model.transcribe(capture.Samples)
	d.clearTransient(sess)

	switch {
	case errors.Is(err, errModelClosed) || errors.Is(err, context.Canceled):
		log.Debug("[device] inference cancelled")
		d.finish(sess, stt.NoneEvent())
	case err != nil:
		log.Warn("[device] inference failed", "error", err)
		d.finish(sess, stt.ErrorEvent(stt.Wrap(stt.InferenceFailure, "transcribe", err)))
	case strings.TrimSpace(text) == "":
		d.finish(sess, stt.NoneEvent())
	default:
		log.Debug("[device] transcribed",
			"audio", capture.Duration(),
			"elapsed", time.Since(start),
			"chars", len(text),
		)
		d.finish(sess, stt.FinalEvent(text, 1.0))
	}
}

// record opens the audio source and captures one utterance. It waits for
// the previous session to release the source first.
func (d *Device) record(sess *session) (audio.Capture, error) {
	defer close(sess.released)
	if prev := sess.prev; prev != nil {
		sess.prev = nil
		select {
		case <-prev.released:
		case <-sess.ctx.Done():
			return audio.Capture{}, sess.ctx.Err()
		}
	}

	src, err := d.cfg.OpenAudio()
	if err != nil {
		return audio.Capture{}, fmt.Errorf("opening audio source: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Debug("[device] closing audio source", "error", err)
		}
	}()
	return sess.recorder.Record(sess.ctx, src)
}

// finish delivers the terminal event of a session.
func (d *Device) finish(sess *session, ev stt.Event) {
	d.cfg.Metrics.SessionFinished(d.ctx, d.name, ev.Kind.String())
	if sess.listener != nil {
		sess.listener(ev)
	}
}

// dump writes a capture to the dump directory, if configured.
func (d *Device) dump(log *slog.Logger, c audio.Capture) {
	if d.cfg.DumpDir == "" || len(c.Samples) == 0 {
		return
	}
	if err := os.MkdirAll(d.cfg.DumpDir, 0755); err != nil {
		log.Warn("[device] creating dump dir", "error", err)
		return
	}
	name := fmt.Sprintf("capture-%s.wav", time.Now().Format("20060102-150405.000"))
	path := filepath.Join(d.cfg.DumpDir, name)
	if err := audio.WriteWAV(path, c.Samples); err != nil {
		log.Warn("[device] dumping capture", "error", err)
		return
	}
	log.Debug("[device] capture dumped", "path", path)
}

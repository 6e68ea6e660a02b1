package device

import (
	"log/slog"
	"time"

	"github.com/chaz8081/gostt-listener/internal/stt"
)

// startDownload moves s to Downloading and fetches the model for s.url.
// It must run inside a state update.
func (d *Device) startDownload(s *state) {
	t := d.newTask()
	url := s.url
	*s = state{kind: stt.Downloading, url: url, progress: stt.UnknownProgress, task: t}

	d.wg.Add(1)
	go d.download(t, url)
}

func (d *Device) download(t *task, url string) {
	defer d.wg.Done()
	defer close(t.done)

	start := time.Now()
	files := d.cfg.Backend.Files(d.cfg.ModelsDir, url)
	slog.Info("[device] downloading model", "device", d.name, "url", url, "files", len(files))

	err := d.cfg.Downloader.Download(t.ctx, files, func(p stt.Progress) {
		d.st.Update(func(s *state) bool {
			if s.kind != stt.Downloading || s.task != t || !advances(s.progress, p) {
				return false
			}
			s.progress = p
			return true
		})
	})
	if err == nil {
		err = WriteSentinel(d.cfg.Backend, d.cfg.ModelsDir, url)
	}
	d.cfg.Metrics.DownloadFinished(d.ctx, d.name, time.Since(start), err)

	next := state{kind: stt.NotLoaded}
	if err != nil {
		slog.Warn("[device] download failed", "device", d.name, "url", url, "error", err)
		next = state{kind: stt.DownloadError, url: url, err: stt.Wrap(stt.DownloadFailure, "download", err)}
	}
	d.st.CompareAndSwap(isKind(stt.Downloading), next)
}

// advances reports whether p moves download progress forward from cur.
// Once a fraction is known, unknown or smaller values are dropped.
func advances(cur, p stt.Progress) bool {
	if !cur.Known {
		return p.Known
	}
	return p.Known && p.Fraction > cur.Fraction
}

// startLoading moves s to Loading with l pending. It must run inside a
// state update.
func (d *Device) startLoading(s *state, l stt.Listener) {
	t := d.newTask()
	*s = state{kind: stt.Loading, task: t, pending: l}

	d.wg.Add(1)
	go d.load(t)
}

func (d *Device) load(t *task) {
	defer d.wg.Done()
	defer close(t.done)

	opts := d.cfg.Load
	if tgt := d.target.Load(); tgt != nil {
		opts.Language = tgt.lang
	}

	start := time.Now()
	m, err := d.cfg.Backend.Load(t.ctx, d.cfg.ModelsDir, opts)
	if err != nil {
		slog.Warn("[device] load failed", "device", d.name, "error", err)
		d.st.CompareAndSwap(isKind(stt.Loading), state{kind: stt.LoadError, err: stt.Wrap(stt.LoadFailure, "load", err)})
		return
	}
	slog.Info("[device] model loaded", "device", d.name, "elapsed", time.Since(start))

	// The pending listener is read here, at completion, so a toggle made
	// while loading is never lost.
	h := newHandle(d.ctx, m)
	ok := d.st.Update(func(s *state) bool {
		if s.kind != stt.Loading {
			return false
		}
		if s.pending == nil {
			*s = state{kind: stt.Loaded, model: h}
		} else {
			d.startListening(s, h, s.pending)
		}
		return true
	})
	if !ok {
		d.closeModel(h)
	}
}

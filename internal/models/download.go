// Package models downloads model files with resume support and retries.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/chaz8081/gostt-listener/internal/stt"
)

// File is a single remote file and its local destination.
type File struct {
	URL  string
	Dest string
}

// ProgressFunc receives aggregate progress over all files of a download.
type ProgressFunc func(stt.Progress)

// Downloader fetches files over HTTP. Partial downloads are kept next to
// the destination as "<dest>.part" and resumed with a Range request.
type Downloader struct {
	Client *http.Client
	// MaxTries bounds the attempts per file, including the first.
	MaxTries uint
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// NewDownloader returns a Downloader with default retry settings.
func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{
		Client:          client,
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
	}
}

// Download fetches files in order. Each file is written atomically: it
// only appears at Dest once complete.
func (d *Downloader) Download(ctx context.Context, files []File, progress ProgressFunc) error {
	if progress == nil {
		progress = func(stt.Progress) {}
	}
	progress(stt.UnknownProgress)

	for i, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.Dest), 0755); err != nil {
			return fmt.Errorf("creating models dir: %w", err)
		}

		report := func(written, total int64) {
			if total <= 0 {
				progress(stt.UnknownProgress)
				return
			}
			frac := float64(written) / float64(total)
			progress(stt.Fraction((float64(i) + frac) / float64(len(files))))
		}

		op := func() (struct{}, error) {
			return struct{}{}, d.fetch(ctx, f, report)
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = d.InitialInterval
		notify := func(err error, wait time.Duration) {
			slog.Warn("[download] retrying", "url", f.URL, "error", err, "wait", wait)
		}

		if _, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(b),
			backoff.WithMaxTries(d.MaxTries),
			backoff.WithNotify(notify),
		); err != nil {
			return fmt.Errorf("downloading %s: %w", f.URL, err)
		}
		slog.Debug("[download] complete", "url", f.URL, "dest", f.Dest)
	}

	progress(stt.Fraction(1))
	return nil
}

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed: HTTP %d", e.Code)
}

func (d *Downloader) fetch(ctx context.Context, f File, report func(written, total int64)) error {
	part := f.Dest + ".part"

	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("building request: %w", err))
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusOK:
		// server ignored the range, start over
		offset = 0
		flags |= os.O_TRUNC
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusRequestedRangeNotSatisfiable:
		// stale partial file, e.g. the remote file changed
		os.Remove(part)
		return &StatusError{Code: resp.StatusCode}
	default:
		err := &StatusError{Code: resp.StatusCode}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	out, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating partial file: %w", err))
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	pw := &progressWriter{
		writer:  out,
		written: offset,
		total:   total,
		report:  report,
	}
	report(offset, total)

	_, copyErr := io.Copy(pw, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("writing model file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing model file: %w", closeErr)
	}
	if total >= 0 && pw.written != total {
		return fmt.Errorf("short download: got %d of %d bytes", pw.written, total)
	}

	if err := os.Rename(part, f.Dest); err != nil {
		return backoff.Permanent(fmt.Errorf("moving model file: %w", err))
	}
	return nil
}

// progressWriter wraps an io.Writer and reports bytes written so far.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	report  func(written, total int64)
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	pw.report(pw.written, pw.total)
	return n, err
}

// IsPermanent reports whether err came from a response that retrying
// cannot fix.
func IsPermanent(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 &&
			se.Code != http.StatusRequestTimeout &&
			se.Code != http.StatusTooManyRequests &&
			se.Code != http.StatusRequestedRangeNotSatisfiable
	}
	return false
}

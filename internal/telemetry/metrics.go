package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics records device activity. A nil *Metrics discards everything.
type Metrics struct {
	transitions metric.Int64Counter
	sessions    metric.Int64Counter
	downloads   metric.Int64Counter
	downloadDur metric.Float64Histogram
	inference   metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.transitions, err = meter.Int64Counter("stt.state.transitions",
		metric.WithDescription("Device state transitions")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64Counter("stt.sessions",
		metric.WithDescription("Finished listening sessions by outcome")); err != nil {
		return nil, err
	}
	if m.downloads, err = meter.Int64Counter("stt.downloads",
		metric.WithDescription("Model downloads by result")); err != nil {
		return nil, err
	}
	if m.downloadDur, err = meter.Float64Histogram("stt.download.duration",
		metric.WithDescription("Model download time"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.inference, err = meter.Float64Histogram("stt.inference.duration",
		metric.WithDescription("Inference time per stage"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// StateChanged counts a transition between two state kinds.
func (m *Metrics) StateChanged(ctx context.Context, device, from, to string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attrs("device", device, "from", from, "to", to)...))
}

// SessionFinished counts a listening session by its terminal event.
func (m *Metrics) SessionFinished(ctx context.Context, device, outcome string) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attrs("device", device, "outcome", outcome)...))
}

// DownloadFinished records one download attempt.
func (m *Metrics) DownloadFinished(ctx context.Context, backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	opt := metric.WithAttributes(attrs("backend", backend, "result", result)...)
	m.downloads.Add(ctx, 1, opt)
	m.downloadDur.Record(ctx, d.Seconds(), opt)
}

// ObserveStage records the duration of one inference stage.
func (m *Metrics) ObserveStage(ctx context.Context, backend, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.inference.Record(ctx, d.Seconds(), metric.WithAttributes(attrs("backend", backend, "stage", stage)...))
}

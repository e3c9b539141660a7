// Package recorder delivers the structured attempt trail to downstream
// telemetry and billing sinks. Sinks are fire-and-forget: a failing sink
// must never affect the routing outcome.
package recorder

import (
	"context"
	"time"

	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/pkg/models"
	"github.com/rs/zerolog/log"
)

// AttemptRecord is one provider attempt plus its owning request context.
type AttemptRecord struct {
	RequestID string                 `json:"request_id"`
	OrgID     string                 `json:"org_id"`
	TaskType  models.TaskType        `json:"task_type"`
	Attempt   models.FallbackAttempt `json:"attempt"`
}

// Sink receives every attempt, successful or not.
type Sink interface {
	Record(ctx context.Context, rec AttemptRecord)
}

// ── Nop Sink ─────────────────────────────────────────────────

// NopSink discards records. Useful as a test default.
type NopSink struct{}

func (NopSink) Record(ctx context.Context, rec AttemptRecord) {}

// ── Log Sink ─────────────────────────────────────────────────

// LogSink writes each attempt as a structured log event.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, rec AttemptRecord) {
	event := log.Info()
	if !rec.Attempt.Success {
		event = log.Warn()
	}
	event.
		Str("request_id", rec.RequestID).
		Str("org_id", rec.OrgID).
		Str("task_type", string(rec.TaskType)).
		Str("provider", rec.Attempt.Provider).
		Bool("success", rec.Attempt.Success).
		Bool("skipped", rec.Attempt.Skipped).
		Int64("latency_ms", rec.Attempt.LatencyMs).
		Str("error_kind", string(rec.Attempt.ErrorKind)).
		Msg("provider attempt")
}

// ── Metrics Sink ─────────────────────────────────────────────

// MetricsSink feeds the Prometheus attempt counters and latency histograms.
type MetricsSink struct{}

func (MetricsSink) Record(ctx context.Context, rec AttemptRecord) {
	outcome := "success"
	if !rec.Attempt.Success {
		outcome = string(rec.Attempt.ErrorKind)
	}
	metrics.AttemptsTotal.WithLabelValues(rec.Attempt.Provider, outcome).Inc()
	if !rec.Attempt.Skipped {
		metrics.AttemptLatency.WithLabelValues(rec.Attempt.Provider).
			Observe(time.Duration(rec.Attempt.LatencyMs * int64(time.Millisecond)).Seconds())
	}
}

// ── Multi Sink ───────────────────────────────────────────────

// MultiSink fans out to several sinks. A panicking sink is isolated so it
// cannot break the routing path.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, rec AttemptRecord) {
	for _, s := range m {
		record(ctx, s, rec)
	}
}

func record(ctx context.Context, s Sink, rec AttemptRecord) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("attempt sink panicked")
		}
	}()
	s.Record(ctx, rec)
}

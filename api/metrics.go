package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	streamRoute     = "/api/entity-stream"
	streamSpanName  = "entity-stream.connect"
	streamEventName = "stream.request.metrics"
	tracerName      = "entity-stream/api"
)

// streamRequestMetrics tracks one stream connection: a span covering the
// setup phase (auth + catch-up replay) and a structured log entry emitted
// when the connection closes. The live phase is unbounded, so it is covered
// by the log entry only.
type streamRequestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	start      time.Time
	authedAt   time.Time
	replayedAt time.Time
	channel    string
	replayed   int
	delivered  int
	errorStage string
}

func newStreamRequestMetrics(ctx context.Context, logger *log.Logger) (*streamRequestMetrics, context.Context) {
	m := &streamRequestMetrics{logger: logger, start: time.Now()}
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, streamSpanName)
	m.span = span
	return m, spanCtx
}

func (m *streamRequestMetrics) ObserveAuth() {
	if m.authedAt.IsZero() {
		m.authedAt = time.Now()
	}
}

func (m *streamRequestMetrics) SetChannel(channel string) {
	m.channel = channel
}

func (m *streamRequestMetrics) SetReplayed(count int) {
	if count < 0 {
		count = 0
	}
	m.replayed = count
	if m.replayedAt.IsZero() {
		m.replayedAt = time.Now()
	}
}

func (m *streamRequestMetrics) AddDelivered(count int) {
	if count > 0 {
		m.delivered += count
	}
}

func (m *streamRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// EndConnect closes the setup span. It is idempotent so error paths can rely
// on a deferred call while the happy path ends the span before tailing.
func (m *streamRequestMetrics) EndConnect(status int) {
	if m == nil || m.span == nil {
		return
	}
	m.span.SetAttributes(
		attribute.String("http.route", streamRoute),
		attribute.Int("http.status_code", status),
		attribute.String("stream.channel", m.channel),
		attribute.Int("stream.replayed", m.replayed),
	)
	if m.errorStage != "" {
		m.span.SetAttributes(attribute.String("stream.error_stage", m.errorStage))
		m.span.SetStatus(codes.Error, m.errorStage)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.End()
	m.span = nil
}

func (m *streamRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":     streamRoute,
		"status":    status,
		"channel":   m.channel,
		"total_ms":  durationToMillis(time.Since(m.start)),
		"replayed":  m.replayed,
		"delivered": m.delivered,
	}
	if !m.authedAt.IsZero() {
		fields["auth_ms"] = durationToMillis(m.authedAt.Sub(m.start))
	}
	if !m.replayedAt.IsZero() && !m.authedAt.IsZero() {
		fields["replay_ms"] = durationToMillis(m.replayedAt.Sub(m.authedAt))
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info(streamEventName)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

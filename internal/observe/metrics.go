// Package observe wires OpenTelemetry metrics and traces for VoxFix and the
// HTTP middleware that applies them to every request.
//
// Instruments live on [Metrics]. Production code obtains them through
// [DefaultMetrics], which binds to the global meter provider installed by
// [InitProvider]; tests build their own with [NewMetrics] over a manual
// reader so that recordings never leak between tests.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voxfix"

// Status values used on the "status" attribute.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds the OpenTelemetry instruments. The zero value is not usable;
// construct with [NewMetrics].
type Metrics struct {
	// CorrectionDuration is the latency of one correction call.
	// Attributes: backend, status.
	CorrectionDuration metric.Float64Histogram

	// Corrections counts correction calls. Attributes: backend, status, and
	// reason for failures ("validation", "service", "no_correction").
	Corrections metric.Int64Counter

	// HistoryDuration is the latency of one history store operation.
	// Attributes: backend, op, status.
	HistoryDuration metric.Float64Histogram

	// SpeechEvents counts capture and playback outcomes.
	// Attributes: kind ("capture" or "playback"), outcome.
	SpeechEvents metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes.
	// Attributes: breaker, to.
	BreakerTransitions metric.Int64Counter

	// ActiveSessions is the number of live editor sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration is the HTTP handler latency.
	// Attributes: method, route, status_code.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, tuned for remote
// grammar and storage round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CorrectionDuration, err = m.Float64Histogram("voxfix.correction.duration",
		metric.WithDescription("Latency of grammar correction calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("voxfix.correction.requests",
		metric.WithDescription("Grammar correction calls by backend and status."),
	); err != nil {
		return nil, err
	}
	if met.HistoryDuration, err = m.Float64Histogram("voxfix.history.duration",
		metric.WithDescription("Latency of history store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechEvents, err = m.Int64Counter("voxfix.speech.events",
		metric.WithDescription("Speech capture and playback outcomes."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxfix.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxfix.active_sessions",
		metric.WithDescription("Number of live editor sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxfix.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] bound to
// [otel.GetMeterProvider]. It panics if instrument creation fails, which
// only happens on programmer error.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// RecordCorrection records one correction call. reason is empty on success.
func (m *Metrics) RecordCorrection(ctx context.Context, backend string, elapsed time.Duration, reason string) {
	st := StatusOK
	if reason != "" {
		st = StatusError
	}
	m.CorrectionDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("status", st),
	))
	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("status", st),
	}
	if reason != "" {
		attrs = append(attrs, attribute.String("reason", reason))
	}
	m.Corrections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHistoryOp records one history store operation.
func (m *Metrics) RecordHistoryOp(ctx context.Context, backend, op string, elapsed time.Duration, err error) {
	m.HistoryDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("status", status(err)),
	))
}

// RecordSpeech counts one capture or playback outcome.
func (m *Metrics) RecordSpeech(ctx context.Context, kind, outcome string) {
	m.SpeechEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

// RecordBreakerTransition counts a breaker moving into state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", breaker),
		attribute.String("to", to),
	))
}

package history

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxfix/internal/observe"
)

// Instrumented decorates a [Store] with a span and a latency metric per
// operation.
type Instrumented struct {
	next    Store
	backend string
	metrics *observe.Metrics
}

var _ Store = (*Instrumented)(nil)

// Instrument wraps s. backend labels spans and metrics.
func Instrument(s Store, backend string, m *observe.Metrics) *Instrumented {
	return &Instrumented{next: s, backend: backend, metrics: m}
}

// Unwrap returns the decorated store.
func (s *Instrumented) Unwrap() Store { return s.next }

func (s *Instrumented) observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := observe.StartSpan(ctx, "history."+op,
		trace.WithAttributes(attribute.String("history.backend", s.backend)))
	start := time.Now()
	return ctx, func(err error) {
		observe.EndSpan(span, err)
		if s.metrics != nil {
			s.metrics.RecordHistoryOp(ctx, s.backend, op, time.Since(start), err)
		}
	}
}

func (s *Instrumented) Append(ctx context.Context, rec Record) (out Record, err error) {
	ctx, done := s.observe(ctx, "append")
	defer func() { done(err) }()
	return s.next.Append(ctx, rec)
}

func (s *Instrumented) ListByUser(ctx context.Context, email string) (out []Record, err error) {
	ctx, done := s.observe(ctx, "list")
	defer func() { done(err) }()
	return s.next.ListByUser(ctx, email)
}

func (s *Instrumented) DeleteOne(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "delete")
	defer func() { done(err) }()
	return s.next.DeleteOne(ctx, id)
}

func (s *Instrumented) DeleteAllForUser(ctx context.Context, email string) (n int, err error) {
	ctx, done := s.observe(ctx, "delete_all")
	defer func() { done(err) }()
	return s.next.DeleteAllForUser(ctx, email)
}

func (s *Instrumented) Ping(ctx context.Context) (err error) {
	ctx, done := s.observe(ctx, "ping")
	defer func() { done(err) }()
	return s.next.Ping(ctx)
}

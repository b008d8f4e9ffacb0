package correction

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxfix/internal/observe"
	"github.com/MrWong99/voxfix/internal/resilience"
)

// Backend is a named [Client] registered with [Guarded].
type Backend struct {
	Name   string
	Client Client
}

// GuardedOption configures [Guarded].
type GuardedOption func(*guardedOptions)

type guardedOptions struct {
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration
}

// WithBreaker sets the circuit breaker tuning shared by every backend.
func WithBreaker(cfg resilience.CircuitBreakerConfig) GuardedOption {
	return func(o *guardedOptions) { o.breaker = cfg }
}

// WithMetrics records latency and outcomes on m.
func WithMetrics(m *observe.Metrics) GuardedOption {
	return func(o *guardedOptions) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) GuardedOption {
	return func(o *guardedOptions) { o.log = l }
}

// WithTimeout bounds each backend attempt. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) GuardedOption {
	return func(o *guardedOptions) { o.timeout = d }
}

// Guarded is the [Client] the application uses. It validates input, sends
// the text to the first backend whose breaker admits it and normalises
// errors. Later backends are only tried after a service failure of the
// earlier ones.
type Guarded struct {
	chain   *resilience.Chain[Client]
	names   []string
	metrics *observe.Metrics
	log     *slog.Logger
	timeout time.Duration
}

var _ Client = (*Guarded)(nil)

// NewGuarded returns a Guarded client over backends, in priority order.
func NewGuarded(backends []Backend, opts ...GuardedOption) (*Guarded, error) {
	if len(backends) == 0 {
		return nil, errors.New("correction: at least one backend is required")
	}
	o := guardedOptions{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.breaker
	cfg.IsFailure = isServiceFailure
	if m := o.metrics; m != nil {
		cfg.OnStateChange = func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), "correction/"+name, to.String())
		}
	}

	g := &Guarded{
		chain:   resilience.NewChain[Client](cfg),
		metrics: o.metrics,
		log:     o.log,
		timeout: o.timeout,
	}
	for _, b := range backends {
		if b.Client == nil {
			return nil, errors.New("correction: backend " + b.Name + " has no client")
		}
		g.chain.Add(b.Name, b.Client)
		g.names = append(g.names, b.Name)
	}
	return g, nil
}

// Backends returns the backend names in priority order.
func (g *Guarded) Backends() []string { return append([]string(nil), g.names...) }

// Breaker exposes the breaker of the named backend for health reporting.
func (g *Guarded) Breaker(name string) *resilience.CircuitBreaker { return g.chain.Breaker(name) }

// Correct implements [Client].
func (g *Guarded) Correct(ctx context.Context, text string) (string, error) {
	if err := Validate(text); err != nil {
		g.record(ctx, "", 0, err)
		return "", err
	}

	ctx, span := observe.StartSpan(ctx, "correction.correct",
		trace.WithAttributes(attribute.Int("text.length", len(text))))

	var used string
	start := time.Now()
	out, err := resilience.Call(g.chain, func(name string, c Client) (string, error) {
		used = name
		res, err := g.attempt(ctx, c, text)
		if err != nil {
			return "", Unavailable(name, err)
		}
		if strings.TrimSpace(res) == "" {
			return "", ErrNoCorrectionReturned
		}
		return res, nil
	})
	elapsed := time.Since(start)

	err = g.normalise(used, err)
	span.SetAttributes(attribute.String("correction.backend", used))
	observe.EndSpan(span, err)
	g.record(ctx, used, elapsed, err)

	if err != nil {
		g.log.Warn("correction failed", "backend", used, "reason", Reason(err), "err", err)
		return "", err
	}
	g.log.Debug("correction completed", "backend", used, "duration", elapsed)
	return out, nil
}

func (g *Guarded) attempt(ctx context.Context, c Client, text string) (string, error) {
	if g.timeout <= 0 {
		return c.Correct(ctx, text)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return c.Correct(ctx, text)
}

// normalise maps breaker and chain errors onto [*ServiceError].
func (g *Guarded) normalise(backend string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		if errors.Is(err, resilience.ErrAllFailed) {
			return &ServiceError{Backend: "all", StatusCode: se.StatusCode, Err: err}
		}
		return se
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		switch {
		case backend != "":
		case len(g.names) == 1:
			backend = g.names[0]
		default:
			backend = "all"
		}
		return &ServiceError{Backend: backend, Err: err}
	}
	return Unavailable(backend, err)
}

func (g *Guarded) record(ctx context.Context, backend string, elapsed time.Duration, err error) {
	if g.metrics == nil {
		return
	}
	if backend == "" {
		backend = "none"
	}
	g.metrics.RecordCorrection(ctx, backend, elapsed, Reason(err))
}

// isServiceFailure reports whether err counts against a backend's breaker.
func isServiceFailure(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	return !errors.As(err, &ve) &&
		!errors.Is(err, ErrNoCorrectionReturned) &&
		!errors.Is(err, context.Canceled)
}

package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every link of a [Chain] has failed
// or been skipped.
var ErrAllFailed = errors.New("resilience: all backends failed")

// link pairs a backend with its breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable backends. Calls go to the
// first backend whose breaker admits them; a failure moves on to the next.
// Errors the breaker config does not classify as failures end the walk
// immediately, since the next backend would reject the same input.
type Chain[T any] struct {
	cfg   CircuitBreakerConfig
	links []link[T]
}

// NewChain returns a Chain whose links each get a breaker built from cfg,
// named after the link.
func NewChain[T any](cfg CircuitBreakerConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends a backend. Not safe to call concurrently with [Call].
func (c *Chain[T]) Add(name string, value T) *Chain[T] {
	cfg := c.cfg
	cfg.Name = name
	c.links = append(c.links, link[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
	return c
}

// Len returns the number of links.
func (c *Chain[T]) Len() int { return len(c.links) }

// Breaker returns the breaker guarding the named link, or nil.
func (c *Chain[T]) Breaker(name string) *CircuitBreaker {
	for i := range c.links {
		if c.links[i].name == name {
			return c.links[i].breaker
		}
	}
	return nil
}

// Call runs fn against the links of c in order and returns the first
// success. With a single link it behaves like that link's breaker, returning
// its error unwrapped. With several links exhaustion yields [ErrAllFailed]
// joined with the last error.
func Call[T, R any](c *Chain[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	if len(c.links) == 0 {
		return zero, ErrAllFailed
	}
	for i := range c.links {
		l := &c.links[i]
		var out R
		err := l.breaker.Execute(func() error {
			var err error
			out, err = fn(l.name, l.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrCircuitOpen) && !l.breaker.cfg.IsFailure(err) {
			return zero, err
		}
		lastErr = err
		if len(c.links) > 1 {
			slog.Warn("backend failed, trying next", "backend", l.name, "err", err)
		}
	}
	if len(c.links) == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

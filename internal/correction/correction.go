// Package correction turns a user's sentence into its grammatically corrected
// form by calling a remote correction service.
//
// A [Client] performs exactly one round trip per call: no retries, no
// caching. Backends live in subpackages (llmcorrect, grammarbot, remote);
// [Guarded] composes them behind circuit breakers, records metrics and maps
// every failure onto the error taxonomy below:
//
//   - [*ValidationError]: the input was rejected before any network call.
//   - [*ServiceError]: the service was unreachable, answered with a non-2xx
//     status, or its breaker is open.
//   - [ErrNoCorrectionReturned]: the service answered but carried no usable
//     corrected text.
package correction

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client corrects one sentence. Implementations must be safe for concurrent
// use and honour ctx cancellation.
type Client interface {
	Correct(ctx context.Context, text string) (string, error)
}

// ErrNoCorrectionReturned is returned when the service responded without a
// corrected string.
var ErrNoCorrectionReturned = errors.New("correction: no correction returned")

// MaxWords is the longest input, in whitespace-separated words, that
// [Validate] accepts.
const MaxWords = 2000

// ErrTooLong is wrapped by the [*ValidationError] for input over [MaxWords].
var ErrTooLong = errors.New("correction: text too long")

// ValidationError reports input rejected before reaching the service.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("correction: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ServiceError reports a failed round trip.
type ServiceError struct {
	// Backend names the service that failed.
	Backend string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	Err error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("correction: %s: status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("correction: %s: %v", e.Backend, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Validate rejects empty or whitespace-only text and text longer than
// [MaxWords].
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if tooManyWords(text) {
		return &ValidationError{Field: "text", Reason: fmt.Sprintf("must not exceed %d words", MaxWords), Err: ErrTooLong}
	}
	return nil
}

// tooManyWords stops counting as soon as the limit is passed.
func tooManyWords(text string) bool {
	n := 0
	for range strings.FieldsSeq(text) {
		if n++; n > MaxWords {
			return true
		}
	}
	return false
}

// Unavailable wraps err as a [*ServiceError] for backend unless it already
// belongs to the taxonomy or is a context error.
func Unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	var (
		se *ServiceError
		ve *ValidationError
	)
	switch {
	case errors.As(err, &se), errors.As(err, &ve),
		errors.Is(err, ErrNoCorrectionReturned),
		errors.Is(err, context.Canceled):
		return err
	}
	return &ServiceError{Backend: backend, Err: err}
}

// Reason classifies err for metrics: "" on success, otherwise one of
// "validation", "no_correction", "canceled" or "service".
func Reason(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "validation"
	case errors.Is(err, ErrNoCorrectionReturned):
		return "no_correction"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "service"
	}
}

// ClientFunc adapts a function to [Client].
type ClientFunc func(ctx context.Context, text string) (string, error)

// Correct implements [Client].
func (f ClientFunc) Correct(ctx context.Context, text string) (string, error) { return f(ctx, text) }

// Package history persists the correction history of signed-in users.
//
// Records are append-only: once written they are only ever listed or
// deleted. Listing is per e-mail address, newest first, and capped at
// [MaxListed]. Every backend (memory, postgres, sqlite, redis) implements
// [Store] and reports backend failures as [*PersistenceError]; the shared
// behaviour is pinned down by the historytest suite.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxListed caps [Store.ListByUser].
const MaxListed = 50

var (
	// ErrNotFound is returned by [Store.DeleteOne] for an unknown id,
	// including an id that was already deleted.
	ErrNotFound = errors.New("history: record not found")

	// ErrInvalidID is returned for ids that are not UUIDs.
	ErrInvalidID = errors.New("history: invalid record id")
)

// Record is one stored correction.
type Record struct {
	ID            string    `json:"_id"`
	UserID        string    `json:"userId"`
	Email         string    `json:"email"`
	SessionID     string    `json:"sessionId"`
	Input         string    `json:"input"`
	Output        string    `json:"output"`
	CorrectedText string    `json:"correctedText"`
	Timestamp     time.Time `json:"timestamp"`
}

// Validate reports every missing required field.
func (r Record) Validate() error {
	var errs []error
	for _, f := range []struct {
		name, value string
	}{
		{"userId", r.UserID},
		{"email", r.Email},
		{"sessionId", r.SessionID},
		{"input", r.Input},
		{"output", r.Output},
		{"correctedText", r.CorrectedText},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("history: %s is required", f.name))
		}
	}
	return errors.Join(errs...)
}

// Store is the persistence boundary for history records. Implementations
// must be safe for concurrent use.
type Store interface {
	// Append validates rec, assigns an id and, when zero, the timestamp, then
	// stores it and returns the stored copy.
	Append(ctx context.Context, rec Record) (Record, error)

	// ListByUser returns at most MaxListed records for email, newest first.
	// An unknown email yields an empty slice.
	ListByUser(ctx context.Context, email string) ([]Record, error)

	// DeleteOne removes the record with id. It returns ErrInvalidID for a
	// malformed id and ErrNotFound when no such record exists.
	DeleteOne(ctx context.Context, id string) error

	// DeleteAllForUser removes every record for email and returns how many
	// were removed.
	DeleteAllForUser(ctx context.Context, email string) (int, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// PersistenceError wraps a backend failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("history: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Fail wraps err for op as a [*PersistenceError]. A nil err yields nil.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Prepare validates rec and fills in the id and timestamp. now supplies the
// timestamp when rec has none; it is truncated to microseconds so that every
// backend round-trips it exactly.
func Prepare(rec Record, now func() time.Time) (Record, error) {
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	rec.ID = uuid.NewString()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Microsecond)
	return rec, nil
}

// CheckID returns [ErrInvalidID] unless id is a UUID.
func CheckID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	return nil
}

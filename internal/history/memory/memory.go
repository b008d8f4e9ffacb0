// Package memory provides an in-process history store. Records are lost on
// restart; it backs tests, the CLI and single-node deployments without a
// database.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxfix/internal/history"
)

// Store is an in-memory [history.Store].
type Store struct {
	mu     sync.RWMutex
	byID   map[string]history.Record
	byUser map[string][]string // email -> ids in append order
	now    func() time.Time
}

var _ history.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:   make(map[string]history.Record),
		byUser: make(map[string][]string),
		now:    time.Now,
	}
}

// Append implements [history.Store].
func (s *Store) Append(_ context.Context, rec history.Record) (history.Record, error) {
	rec, err := history.Prepare(rec, s.now)
	if err != nil {
		return history.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[rec.ID] = rec
	s.byUser[rec.Email] = append(s.byUser[rec.Email], rec.ID)
	return rec, nil
}

// ListByUser implements [history.Store].
func (s *Store) ListByUser(_ context.Context, email string) ([]history.Record, error) {
	s.mu.RLock()
	ids := s.byUser[email]
	out := make([]history.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	s.mu.RUnlock()

	// Stable so that equal timestamps keep newest-appended first after the
	// reverse below.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b history.Record) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(out) > history.MaxListed {
		out = out[:history.MaxListed]
	}
	return out, nil
}

// DeleteOne implements [history.Store].
func (s *Store) DeleteOne(_ context.Context, id string) error {
	if err := history.CheckID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return history.ErrNotFound
	}
	delete(s.byID, id)
	ids := slices.DeleteFunc(s.byUser[rec.Email], func(v string) bool { return v == id })
	if len(ids) == 0 {
		delete(s.byUser, rec.Email)
	} else {
		s.byUser[rec.Email] = ids
	}
	return nil
}

// DeleteAllForUser implements [history.Store].
func (s *Store) DeleteAllForUser(_ context.Context, email string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byUser[email]
	for _, id := range ids {
		delete(s.byID, id)
	}
	delete(s.byUser, email)
	return len(ids), nil
}

// Ping implements [history.Store]. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the total number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

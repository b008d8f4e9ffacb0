// Package historytest is a conformance suite for history.Store
// implementations. Backend packages call [Run] from their tests.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxfix/internal/history"
)

// Factory returns a fresh, empty store. It is called once per subtest.
type Factory func(t *testing.T) history.Store

// Record returns a valid record for email, stamped at ts.
func Record(email string, ts time.Time) history.Record {
	return history.Record{
		UserID:        "user-" + email,
		Email:         email,
		SessionID:     "session-1",
		Input:         "He go to school yesterday",
		Output:        "He went to school yesterday",
		CorrectedText: "He went to school yesterday",
		Timestamp:     ts,
	}
}

// Run exercises the full [history.Store] contract against stores from
// newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("AppendAssignsIDAndTimestamp", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec := Record("ann@example.com", time.Time{})
		got, err := s.Append(ctx, rec)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if _, err := uuid.Parse(got.ID); err != nil {
			t.Errorf("id %q is not a UUID", got.ID)
		}
		if got.Timestamp.IsZero() {
			t.Error("timestamp not assigned")
		}
		if got.CorrectedText != rec.CorrectedText || got.Email != rec.Email {
			t.Errorf("stored record = %+v", got)
		}

		list, err := s.ListByUser(ctx, "ann@example.com")
		if err != nil {
			t.Fatalf("ListByUser: %v", err)
		}
		if len(list) != 1 || list[0].ID != got.ID {
			t.Fatalf("ListByUser = %+v", list)
		}
		if !list[0].Timestamp.Equal(got.Timestamp) {
			t.Errorf("listed timestamp %v != appended %v", list[0].Timestamp, got.Timestamp)
		}
		if withUTC(list[0]) != withUTC(got) {
			t.Errorf("listed %+v, appended %+v", list[0], got)
		}
	})

	t.Run("AppendRejectsIncomplete", func(t *testing.T) {
		s := newStore(t)
		rec := Record("ann@example.com", base)
		rec.CorrectedText = ""
		if _, err := s.Append(context.Background(), rec); err == nil {
			t.Fatal("Append of incomplete record: expected error")
		}
	})

	t.Run("ListNewestFirstCapped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const total = history.MaxListed + 7
		for i := range total {
			// Append out of timestamp order to prove sorting.
			ts := base.Add(time.Duration((i*37)%total) * time.Minute)
			rec := Record("bob@example.com", ts)
			rec.Input = fmt.Sprintf("sentence %d", i)
			if _, err := s.Append(ctx, rec); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}
		if _, err := s.Append(ctx, Record("other@example.com", base)); err != nil {
			t.Fatalf("Append other: %v", err)
		}

		list, err := s.ListByUser(ctx, "bob@example.com")
		if err != nil {
			t.Fatalf("ListByUser: %v", err)
		}
		if len(list) != history.MaxListed {
			t.Fatalf("len = %d, want %d", len(list), history.MaxListed)
		}
		for i := 1; i < len(list); i++ {
			if list[i].Timestamp.After(list[i-1].Timestamp) {
				t.Fatalf("not descending at %d: %v after %v", i, list[i].Timestamp, list[i-1].Timestamp)
			}
		}
		if want := base.Add((total - 1) * time.Minute); !list[0].Timestamp.Equal(want) {
			t.Errorf("newest = %v, want %v", list[0].Timestamp, want)
		}
		for _, r := range list {
			if r.Email != "bob@example.com" {
				t.Fatalf("foreign record listed: %+v", r)
			}
		}
	})

	t.Run("ListUnknownUser", func(t *testing.T) {
		s := newStore(t)
		list, err := s.ListByUser(context.Background(), "nobody@example.com")
		if err != nil {
			t.Fatalf("ListByUser: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("ListByUser = %+v, want empty", list)
		}
	})

	t.Run("DeleteOne", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		keep, _ := s.Append(ctx, Record("cat@example.com", base))
		drop, _ := s.Append(ctx, Record("cat@example.com", base.Add(time.Minute)))

		if err := s.DeleteOne(ctx, drop.ID); err != nil {
			t.Fatalf("DeleteOne: %v", err)
		}
		if err := s.DeleteOne(ctx, drop.ID); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("second DeleteOne = %v, want ErrNotFound", err)
		}
		if err := s.DeleteOne(ctx, uuid.NewString()); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("DeleteOne(unknown) = %v, want ErrNotFound", err)
		}
		if err := s.DeleteOne(ctx, "not-a-uuid"); !errors.Is(err, history.ErrInvalidID) {
			t.Errorf("DeleteOne(malformed) = %v, want ErrInvalidID", err)
		}

		list, _ := s.ListByUser(ctx, "cat@example.com")
		if len(list) != 1 || list[0].ID != keep.ID {
			t.Errorf("remaining = %+v", list)
		}
	})

	t.Run("DeleteAllForUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := range 3 {
			if _, err := s.Append(ctx, Record("dan@example.com", base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		other, _ := s.Append(ctx, Record("eve@example.com", base))

		n, err := s.DeleteAllForUser(ctx, "dan@example.com")
		if err != nil || n != 3 {
			t.Fatalf("DeleteAllForUser = %d, %v; want 3", n, err)
		}
		n, err = s.DeleteAllForUser(ctx, "dan@example.com")
		if err != nil || n != 0 {
			t.Errorf("second DeleteAllForUser = %d, %v; want 0, nil", n, err)
		}

		list, _ := s.ListByUser(ctx, "eve@example.com")
		if len(list) != 1 || list[0].ID != other.ID {
			t.Errorf("other user's records touched: %+v", list)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func withUTC(r history.Record) history.Record {
	r.Timestamp = r.Timestamp.UTC()
	return r
}

package redis_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/history/historytest"
	historyredis "github.com/MrWong99/voxfix/internal/history/redis"
)

func redisURL(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("VOXFIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VOXFIX_TEST_REDIS_ADDR not set, skipping Redis integration tests")
	}
	return "redis://" + addr + "/15"
}

// newStore opens a store under a unique prefix so parallel tests never share
// keys.
func newStore(t *testing.T) *historyredis.Store {
	t.Helper()
	prefix := "voxfix-test:" + uuid.NewString() + ":"
	s, err := historyredis.Open(context.Background(), redisURL(t), historyredis.WithPrefix(prefix))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Contract(t *testing.T) {
	redisURL(t)
	historytest.Run(t, func(t *testing.T) history.Store { return newStore(t) })
}

func TestStore_DeleteOneKeepsOtherUsers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ann, err := s.Append(ctx, historytest.Record("ann@example.com", time.Now()))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append(ctx, historytest.Record("bob@example.com", time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.DeleteOne(ctx, ann.ID); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}

	list, _ := s.ListByUser(ctx, "ann@example.com")
	if len(list) != 0 {
		t.Errorf("ann list = %d records, want 0", len(list))
	}
	list, _ = s.ListByUser(ctx, "bob@example.com")
	if len(list) != 1 {
		t.Errorf("bob list = %d records, want 1", len(list))
	}
}

func TestOpen_BadURL(t *testing.T) {
	t.Parallel()

	_, err := historyredis.Open(context.Background(), "postgres://nope")
	if err == nil {
		t.Fatal("Open with a non-redis URL: expected error")
	}
	var pe *history.PersistenceError
	if errors.As(err, &pe) {
		t.Errorf("Open error should not be a PersistenceError: %v", err)
	}
}

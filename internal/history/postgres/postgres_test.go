package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxfix/internal/history"
	"github.com/MrWong99/voxfix/internal/history/historytest"
)

// ── mock DB ──────────────────────────────────────────────────────────────────

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ── unit tests ───────────────────────────────────────────────────────────────

func TestMigrate(t *testing.T) {
	t.Parallel()

	var got string
	s := New(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		got = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(got, "CREATE TABLE IF NOT EXISTS chat_histories") {
		t.Errorf("Migrate SQL = %q", got)
	}

	s = New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}})
	if err := s.Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "history postgres: migrate:") {
		t.Errorf("Migrate error = %v", err)
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 2, 3, 4, 5, 6, 7891, time.UTC)
	var args []any
	s := New(&mockDB{execFunc: func(_ context.Context, sql string, a ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "INSERT INTO chat_histories") {
			t.Errorf("sql = %q", sql)
		}
		args = a
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}})
	s.now = func() time.Time { return fixed }

	rec, err := s.Append(context.Background(), historytest.Record("ann@example.com", time.Time{}))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("id = %q", rec.ID)
	}
	if want := fixed.Truncate(time.Microsecond); !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, want)
	}
	if len(args) != 8 || args[0] != rec.ID || args[2] != "ann@example.com" {
		t.Errorf("args = %v", args)
	}
}

func TestAppend_PersistenceError(t *testing.T) {
	t.Parallel()

	s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("connection refused")
	}})
	_, err := s.Append(context.Background(), historytest.Record("ann@example.com", time.Now()))
	var pe *history.PersistenceError
	if !errors.As(err, &pe) || pe.Op != "append" {
		t.Errorf("err = %v, want PersistenceError(append)", err)
	}
}

func TestListByUser(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	var gotArgs []any
	s := New(&mockDB{queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
		if !strings.Contains(sql, "ORDER  BY timestamp DESC") {
			t.Errorf("sql = %q", sql)
		}
		gotArgs = args
		return &mockRows{data: [][]any{
			{"id-1", "u1", "ann@example.com", "s1", "in", "out", "fixed", ts},
		}}, nil
	}})

	list, err := s.ListByUser(context.Background(), "ann@example.com")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(gotArgs) != 2 || gotArgs[1] != history.MaxListed {
		t.Errorf("args = %v, want limit %d", gotArgs, history.MaxListed)
	}
	if len(list) != 1 || list[0].CorrectedText != "fixed" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not normalised to UTC: %v", list[0].Timestamp)
	}
}

func TestListByUser_Empty(t *testing.T) {
	t.Parallel()

	list, err := New(&mockDB{}).ListByUser(context.Background(), "x@example.com")
	if err != nil || list == nil || len(list) != 0 {
		t.Errorf("ListByUser = %#v, %v; want empty non-nil slice", list, err)
	}
}

func TestDeleteOne(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	tests := []struct {
		name    string
		id      string
		tag     string
		execErr error
		want    error
	}{
		{"deleted", id, "DELETE 1", nil, nil},
		{"missing", id, "DELETE 0", nil, history.ErrNotFound},
		{"malformed", "abc", "", nil, history.ErrInvalidID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
				return pgconn.NewCommandTag(tc.tag), tc.execErr
			}})
			if err := s.DeleteOne(context.Background(), tc.id); !errors.Is(err, tc.want) {
				t.Errorf("DeleteOne = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDeleteAllForUser(t *testing.T) {
	t.Parallel()

	s := New(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("DELETE 4"), nil
	}})
	n, err := s.DeleteAllForUser(context.Background(), "ann@example.com")
	if err != nil || n != 4 {
		t.Errorf("DeleteAllForUser = %d, %v; want 4", n, err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	ok := New(&mockDB{queryRowFunc: func(context.Context, string, ...any) pgx.Row {
		return &mockRow{scanFunc: func(dest ...any) error { *(dest[0].(*int)) = 1; return nil }}
	}})
	if err := ok.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	var pe *history.PersistenceError
	if err := New(&mockDB{}).Ping(context.Background()); !errors.As(err, &pe) {
		t.Errorf("Ping err = %v, want PersistenceError", err)
	}
}

// ── integration ──────────────────────────────────────────────────────────────

func TestStore_Contract(t *testing.T) {
	dsn := os.Getenv("VOXFIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXFIX_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}

	historytest.Run(t, func(t *testing.T) history.Store {
		ctx := context.Background()
		s, closeFn, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(closeFn)
		if _, err := s.db.Exec(ctx, `TRUNCATE chat_histories`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

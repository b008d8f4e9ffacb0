package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxfix/internal/account"
	accountsqlite "github.com/MrWong99/voxfix/internal/account/sqlite"
	historysqlite "github.com/MrWong99/voxfix/internal/history/sqlite"
)

func newStore(t *testing.T) *accountsqlite.Store {
	t.Helper()
	ctx := context.Background()
	db, err := historysqlite.OpenDB(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := accountsqlite.New(ctx, db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCreateAndLookup(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	u := account.User{
		ID:           "5b1c7c1e-3a84-4b8e-9c57-4c3f9a0f2d11",
		Name:         "Ann",
		Email:        "ann@example.com",
		PasswordHash: []byte("$2a$04$hash"),
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC),
	}
	if err := s.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.ByEmail(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if got.ID != u.ID || got.Name != u.Name || string(got.PasswordHash) != string(u.PasswordHash) || !got.CreatedAt.Equal(u.CreatedAt) {
		t.Errorf("ByEmail = %+v, want %+v", got, u)
	}

	u.ID = "another-id"
	if err := s.Create(ctx, u); !errors.Is(err, account.ErrUserExists) {
		t.Errorf("duplicate Create = %v, want ErrUserExists", err)
	}
	if _, err := s.ByEmail(ctx, "bob@example.com"); !errors.Is(err, account.ErrNotFound) {
		t.Errorf("unknown ByEmail = %v, want ErrNotFound", err)
	}
}

func TestServiceOverSQLite(t *testing.T) {
	t.Parallel()

	svc := account.NewService(newStore(t), account.WithCost(4))
	ctx := context.Background()
	req := account.SignupRequest{Name: "Bob", Email: "bob@example.com", Password: "pw", ConfirmPassword: "pw"}
	created, err := svc.Signup(ctx, req)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	got, err := svc.Login(ctx, "bob@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Login id = %q, want %q", got.ID, created.ID)
	}
}

// Package postgres implements [account.Store] on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/voxfix/internal/account"
)

// Schema is the DDL for the users table.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID        PRIMARY KEY,
    name          TEXT        NOT NULL,
    email         TEXT        NOT NULL UNIQUE,
    password_hash BYTEA       NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// DB is the subset of pgx used by [Store].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL [account.Store].
type Store struct {
	db DB
}

var _ account.Store = (*Store)(nil)

// New returns a Store over db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("account postgres: migrate: %w", err)
	}
	return nil
}

// Create implements [account.Store].
func (s *Store) Create(ctx context.Context, u account.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt,
	)
	if isDuplicateKeyError(err) {
		return account.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("account postgres: create: %w", err)
	}
	return nil
}

// ByEmail implements [account.Store].
func (s *Store) ByEmail(ctx context.Context, email string) (account.User, error) {
	var u account.User
	err := s.db.QueryRow(ctx, `
		SELECT id::text, name, email, password_hash, created_at
		FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return account.User{}, account.ErrNotFound
	}
	if err != nil {
		return account.User{}, fmt.Errorf("account postgres: by email: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// isDuplicateKeyError reports a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

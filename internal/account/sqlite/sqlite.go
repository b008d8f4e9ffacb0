// Package sqlite implements [account.Store] on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrWong99/voxfix/internal/account"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT    PRIMARY KEY,
    name          TEXT    NOT NULL,
    email         TEXT    NOT NULL UNIQUE,
    password_hash BLOB    NOT NULL,
    created_at    INTEGER NOT NULL
);
`

// Store is a SQLite [account.Store]. It shares its *sql.DB with the history
// store when both use the same file.
type Store struct {
	db *sql.DB
}

var _ account.Store = (*Store)(nil)

// New applies the schema to db and returns a Store over it.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("account sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Create implements [account.Store].
func (s *Store) Create(ctx context.Context, u account.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.CreatedAt.UnixMicro(),
	)
	if isUniqueViolation(err) {
		return account.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("account sqlite: create: %w", err)
	}
	return nil
}

// ByEmail implements [account.Store].
func (s *Store) ByEmail(ctx context.Context, email string) (account.User, error) {
	var (
		u  account.User
		us int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, created_at
		FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &us)
	if errors.Is(err, sql.ErrNoRows) {
		return account.User{}, account.ErrNotFound
	}
	if err != nil {
		return account.User{}, fmt.Errorf("account sqlite: by email: %w", err)
	}
	u.CreatedAt = time.UnixMicro(us).UTC()
	return u, nil
}

func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// Package sqlite stores correction history in a local SQLite file using the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxfix/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_histories (
    id             TEXT    PRIMARY KEY,
    user_id        TEXT    NOT NULL,
    email          TEXT    NOT NULL,
    session_id     TEXT    NOT NULL,
    input          TEXT    NOT NULL,
    output         TEXT    NOT NULL,
    corrected_text TEXT    NOT NULL,
    timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_histories_email_timestamp
    ON chat_histories (email, timestamp DESC);
`

// Store is a SQLite [history.Store]. Timestamps are stored as unix
// microseconds.
type Store struct {
	db  *sql.DB
	own bool
	now func() time.Time
}

var _ history.Store = (*Store)(nil)

// OpenDB opens the SQLite database at path (":memory:" for a private
// in-memory database). The pool is limited to one connection so that an
// in-memory database is shared by every query.
func OpenDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	return db, nil
}

// Open opens path, applies the schema and returns a Store that owns the
// connection. Release it with [Store.Close].
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := OpenDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: %w", err)
	}
	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.own = true
	return s, nil
}

// New wraps an existing database handle and applies the schema. The caller
// keeps ownership of db.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("history sqlite: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database if the Store opened it.
func (s *Store) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	rec, err := history.Prepare(rec, s.now)
	if err != nil {
		return history.Record{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_histories
		    (id, user_id, email, session_id, input, output, corrected_text, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Email, rec.SessionID,
		rec.Input, rec.Output, rec.CorrectedText, rec.Timestamp.UnixMicro(),
	)
	if err != nil {
		return history.Record{}, history.Fail("append", err)
	}
	return rec, nil
}

// ListByUser implements [history.Store]. Records sharing a timestamp are
// returned most recently inserted first.
func (s *Store) ListByUser(ctx context.Context, email string) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, email, session_id, input, output, corrected_text, timestamp
		FROM chat_histories
		WHERE email = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`, email, history.MaxListed)
	if err != nil {
		return nil, history.Fail("list", err)
	}
	defer rows.Close()

	records := []history.Record{}
	for rows.Next() {
		var (
			r  history.Record
			us int64
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Email, &r.SessionID,
			&r.Input, &r.Output, &r.CorrectedText, &us); err != nil {
			return nil, history.Fail("list", fmt.Errorf("scan record: %w", err))
		}
		r.Timestamp = time.UnixMicro(us).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, history.Fail("list", err)
	}
	return records, nil
}

// DeleteOne implements [history.Store].
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if err := history.CheckID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_histories WHERE id = ?`, id)
	if err != nil {
		return history.Fail("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return history.Fail("delete", err)
	}
	if n == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DeleteAllForUser implements [history.Store].
func (s *Store) DeleteAllForUser(ctx context.Context, email string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_histories WHERE email = ?`, email)
	if err != nil {
		return 0, history.Fail("delete all", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, history.Fail("delete all", err)
	}
	return int(n), nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return history.Fail("ping", err)
	}
	return nil
}

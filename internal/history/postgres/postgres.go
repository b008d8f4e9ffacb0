// Package postgres stores correction history in PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxfix/internal/history"
)

// Schema is the DDL for the chat_histories table. [Store.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS chat_histories (
    id             UUID        PRIMARY KEY,
    user_id        TEXT        NOT NULL,
    email          TEXT        NOT NULL,
    session_id     TEXT        NOT NULL,
    input          TEXT        NOT NULL,
    output         TEXT        NOT NULL,
    corrected_text TEXT        NOT NULL,
    timestamp      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_histories_email_timestamp
    ON chat_histories (email, timestamp DESC);
`

// DB is the subset of pgx used by [Store]. *pgxpool.Pool, *pgx.Conn and
// pgx.Tx all satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a PostgreSQL [history.Store].
type Store struct {
	db  DB
	now func() time.Time
}

var _ history.Store = (*Store)(nil)

// New returns a Store over db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open connects a pool to dsn, pings it and applies the schema. The returned
// close function releases the pool.
func Open(ctx context.Context, dsn string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	return nil
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	rec, err := history.Prepare(rec, s.now)
	if err != nil {
		return history.Record{}, err
	}
	const q = `
		INSERT INTO chat_histories
		    (id, user_id, email, session_id, input, output, corrected_text, timestamp)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.Exec(ctx, q,
		rec.ID, rec.UserID, rec.Email, rec.SessionID,
		rec.Input, rec.Output, rec.CorrectedText, rec.Timestamp,
	)
	if err != nil {
		return history.Record{}, history.Fail("append", err)
	}
	return rec, nil
}

// ListByUser implements [history.Store].
func (s *Store) ListByUser(ctx context.Context, email string) ([]history.Record, error) {
	const q = `
		SELECT id::text, user_id, email, session_id, input, output, corrected_text, timestamp
		FROM   chat_histories
		WHERE  email = $1
		ORDER  BY timestamp DESC
		LIMIT  $2`

	rows, err := s.db.Query(ctx, q, email, history.MaxListed)
	if err != nil {
		return nil, history.Fail("list", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var r history.Record
		err := row.Scan(&r.ID, &r.UserID, &r.Email, &r.SessionID,
			&r.Input, &r.Output, &r.CorrectedText, &r.Timestamp)
		r.Timestamp = r.Timestamp.UTC()
		return r, err
	})
	if err != nil {
		return nil, history.Fail("list", err)
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}

// DeleteOne implements [history.Store].
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if err := history.CheckID(id); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_histories WHERE id = $1::uuid`, id)
	if err != nil {
		return history.Fail("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrNotFound
	}
	return nil
}

// DeleteAllForUser implements [history.Store].
func (s *Store) DeleteAllForUser(ctx context.Context, email string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_histories WHERE email = $1`, email)
	if err != nil {
		return 0, history.Fail("delete all", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return history.Fail("ping", err)
	}
	return nil
}

// Package redis stores correction history in Redis.
//
// Each record is a JSON string under "<prefix>record:<id>". A sorted set
// "<prefix>user:<email>" indexes a user's record ids by timestamp in unix
// microseconds.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/voxfix/internal/history"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "voxfix:history:"

// Store is a Redis [history.Store].
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	own    bool
	now    func() time.Time
}

var _ history.Store = (*Store)(nil)

// Option configures a [Store].
type Option func(*Store)

// WithPrefix sets the key prefix. Distinct prefixes isolate stores sharing
// one Redis database.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// New returns a Store over rdb. The caller keeps ownership of rdb.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open parses a redis:// URL, connects and pings. The returned Store owns the
// client; release it with [Store.Close].
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("history redis: parse url: %w", err)
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("history redis: ping: %w", err)
	}
	s := New(rdb, opts...)
	s.own = true
	return s, nil
}

// Close closes the client if the Store opened it.
func (s *Store) Close() error {
	if !s.own {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) recordKey(id string) string   { return s.prefix + "record:" + id }
func (s *Store) userKey(email string) string { return s.prefix + "user:" + email }

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, rec history.Record) (history.Record, error) {
	rec, err := history.Prepare(rec, s.now)
	if err != nil {
		return history.Record{}, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return history.Record{}, history.Fail("append", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.recordKey(rec.ID), data, 0)
		p.ZAdd(ctx, s.userKey(rec.Email), redis.Z{
			Score:  float64(rec.Timestamp.UnixMicro()),
			Member: rec.ID,
		})
		return nil
	})
	if err != nil {
		return history.Record{}, history.Fail("append", err)
	}
	return rec, nil
}

// ListByUser implements [history.Store].
func (s *Store) ListByUser(ctx context.Context, email string) ([]history.Record, error) {
	ids, err := s.rdb.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   s.userKey(email),
		Start: 0,
		Stop:  history.MaxListed - 1,
		Rev:   true,
	}).Result()
	if err != nil {
		return nil, history.Fail("list", err)
	}
	records := []history.Record{}
	if len(ids) == 0 {
		return records, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, history.Fail("list", err)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record; a concurrent delete won the race.
			continue
		}
		var r history.Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, history.Fail("list", fmt.Errorf("decode record %s: %w", ids[i], err))
		}
		r.Timestamp = r.Timestamp.UTC()
		records = append(records, r)
	}
	return records, nil
}

// DeleteOne implements [history.Store].
func (s *Store) DeleteOne(ctx context.Context, id string) error {
	if err := history.CheckID(id); err != nil {
		return err
	}
	raw, err := s.rdb.GetDel(ctx, s.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return history.ErrNotFound
	}
	if err != nil {
		return history.Fail("delete", err)
	}
	var r history.Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return history.Fail("delete", fmt.Errorf("decode record %s: %w", id, err))
	}
	if err := s.rdb.ZRem(ctx, s.userKey(r.Email), id).Err(); err != nil {
		return history.Fail("delete", err)
	}
	return nil
}

// DeleteAllForUser implements [history.Store].
func (s *Store) DeleteAllForUser(ctx context.Context, email string) (int, error) {
	ids, err := s.rdb.ZRange(ctx, s.userKey(email), 0, -1).Result()
	if err != nil {
		return 0, history.Fail("delete all", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}
	var removed *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.Del(ctx, keys...)
		p.Del(ctx, s.userKey(email))
		return nil
	})
	if err != nil {
		return 0, history.Fail("delete all", err)
	}
	return int(removed.Val()), nil
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return history.Fail("ping", err)
	}
	return nil
}

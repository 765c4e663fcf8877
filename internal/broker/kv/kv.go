// Package kv wraps the shared ephemeral key-value store (Redis) with
// the operations the trigger pipeline needs: atomic set-if-absent
// with TTL (idempotency reservations), unconditional set with TTL,
// increment with expiry-on-first-write (rate-limit counters), get,
// and delete.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// NewWithClient wraps an already-constructed client; used by tests to
// plug in a miniredis-backed client.
func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Reserve attempts to atomically claim key, storing value, for ttl. It
// returns true if this call won the reservation (key was previously
// absent), false if another caller already holds it.
func (s *Store) Reserve(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Set unconditionally writes key, overwriting any existing reservation
// value (used by the trigger pipeline to stamp the real alarm id over
// its own placeholder reservation once the alarm row is committed).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

// Incr increments key and, only on the first increment (value == 1),
// sets its expiry to ttl. Subsequent increments within the window
// leave the original expiry untouched, which is what gives the
// counter its fixed-window semantics.
func (s *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	v, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if v == 1 {
		if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return v, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/silentline/sentinel/internal/broker/kv"
)

func newTestStore(t *testing.T) *kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kv.NewWithClient(client)
}

func TestReserve_FirstCallWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Reserve(ctx, "idem:a", "candidate-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Reserve(ctx, "idem:a", "candidate-2", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "second reservation on the same key must lose")

	v, err := s.Get(ctx, "idem:a")
	require.NoError(t, err)
	require.Equal(t, "candidate-1", v)
}

func TestSet_OverwritesReservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "idem:b", "placeholder", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "idem:b", "committed-id", time.Minute))

	v, err := s.Get(ctx, "idem:b")
	require.NoError(t, err)
	require.Equal(t, "committed-id", v)
}

func TestGet_MissingKeyReturnsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

func TestIncr_FixedWindowExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Incr(ctx, "rl:token", 70*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)

	v, err = s.Incr(ctx, "rl:token", 70*time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(2), v, "the ttl passed on the second call must not reset the counter")
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, s.Delete(ctx, "k"))

	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "", v)
}

// Package ratelimit implements the trigger pipeline's per-token fixed
// window limiter: one counter per (token, 60s window), incremented
// atomically in the shared KV store and expired after 70 seconds so a
// slow clock skew between broker and store never drops a live window
// early.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/silentline/sentinel/internal/broker/model"
)

const counterTTL = 70 * time.Second

type kvIncrementer interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type Limiter struct {
	kv          kvIncrementer
	perMinute   int
}

// New builds a Limiter. perMinute is clamped to [1, 1000] by the
// config layer before reaching here.
func New(kv kvIncrementer, perMinute int) *Limiter {
	return &Limiter{kv: kv, perMinute: perMinute}
}

// Allow increments the token's counter for the current 60-second wall
// clock bucket and returns a *model.Error (KindRateLimit) once the
// configured per-minute limit is exceeded within that bucket.
func (l *Limiter) Allow(ctx context.Context, token string, now time.Time) error {
	bucket := now.Unix() / 60
	key := fmt.Sprintf("ratelimit:%s:%d", token, bucket)
	count, err := l.kv.Incr(ctx, key, counterTTL)
	if err != nil {
		return err
	}
	if count > int64(l.perMinute) {
		return model.NewRateLimit(l.perMinute, 60)
	}
	return nil
}

package rediscache

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter: фиксированное окно на INCR + EXPIRE.
type RateLimiter struct {
	c   *redis.Client
	now func() time.Time
}

func NewRateLimiter(addr string) *RateLimiter {
	return NewRateLimiterWithClient(NewClient(addr))
}

func NewRateLimiterWithClient(c *redis.Client) *RateLimiter {
	return &RateLimiter{c: c, now: time.Now}
}

// Allow returns (allowed, hits in the window).
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "redis ratelimit %s", key)
	}
	n := incr.Val()
	return n <= limit, n, nil
}

// AllowPerMinute counts hits of one subject in the current wall-clock minute.
func (rl *RateLimiter) AllowPerMinute(ctx context.Context, scope, subject string, limit int64) (bool, int64, error) {
	key := fmt.Sprintf("rl:%s:%s:%s", scope, subject, rl.now().UTC().Format("200601021504"))
	return rl.Allow(ctx, key, limit, 70*time.Second)
}

func (rl *RateLimiter) Close() error {
	return rl.c.Close()
}

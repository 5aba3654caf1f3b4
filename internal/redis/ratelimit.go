package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed window request counter shared by every instance.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(r *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: r, prefix: prefix, limit: limit, window: window}
}

func (r *RateLimiter) key(k string) string { return fmt.Sprintf("%s:ratelimit:%s", r.prefix, k) }

// Allow counts one request for k and reports whether it is within the limit.
func (r *RateLimiter) Allow(ctx context.Context, k string) (bool, error) {
	key := r.key(k)
	pipe := r.client.TxPipeline()
	// SET NX EX opens the window with its expiry; INCR keeps the TTL.
	pipe.SetNX(ctx, key, 0, r.window)
	incr := pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(r.limit), nil
}

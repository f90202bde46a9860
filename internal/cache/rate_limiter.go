package cache

import (
	"context"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request counter per user.
type RateLimiter struct {
	client *redisv9.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *redisv9.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow counts one request for userID and reports whether it fits in the current window.
// A non-positive limit disables limiting.
func (l *RateLimiter) Allow(ctx context.Context, userID uint) (bool, error) {
	if l.limit <= 0 {
		return true, nil
	}

	bucket := l.now().UnixNano() / int64(l.window)
	key := fmt.Sprintf("tyana:ratelimit:%d:%d", userID, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis rate limit failed: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

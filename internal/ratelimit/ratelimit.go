// Package ratelimit gates requests per identity using a Redis fixed
// window. Group-sync requests are a trusted bulk operation class and
// bypass the per-identity limit.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const window = time.Minute

// Limiter is a per-key fixed-window counter backed by Redis.
type Limiter struct {
	client    *redis.Client
	perWindow int
}

// NewLimiter creates a Limiter allowing perWindow requests per key per
// minute. A non-positive perWindow disables limiting.
func NewLimiter(client *redis.Client, perWindow int) *Limiter {
	return &Limiter{client: client, perWindow: perWindow}
}

// IsPermitted reports whether the key may proceed. bulkSync marks the
// trusted group-sync operation class, which is exempt from per-identity
// limits. Redis unavailability fails open: throttling is a protection, not
// a correctness requirement.
func (l *Limiter) IsPermitted(ctx context.Context, key string, bulkSync bool) bool {
	if l.perWindow <= 0 || bulkSync {
		return true
	}

	slot := time.Now().Unix() / int64(window.Seconds())
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	n, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true
	}
	if n == 1 {
		l.client.Expire(ctx, redisKey, window)
	}
	return n <= int64(l.perWindow)
}

package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter throttles the commands that reach the carrier. Fail-open:
// a broken limiter must never take the bot down with it.
type RateLimiter interface {
	Allow(ctx context.Context, chatID int64, command string) bool
}

// RedisRateLimiter counts command invocations per chat in fixed
// one-minute windows.
type RedisRateLimiter struct {
	cache     *redis.Client
	maxPerMin int64
}

// NewRedisRateLimiter builds the production limiter.
func NewRedisRateLimiter(cache *redis.Client, maxPerMin int) *RedisRateLimiter {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return &RedisRateLimiter{cache: cache, maxPerMin: int64(maxPerMin)}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, chatID int64, command string) bool {
	if l.cache == nil {
		return true
	}
	key := fmt.Sprintf("rl:%s:%d", command, chatID)
	cnt, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if cnt == 1 {
		l.cache.Expire(ctx, key, time.Minute)
	}
	return cnt <= l.maxPerMin
}

// NoRateLimit disables throttling, for tests and dev setups.
type NoRateLimit struct{}

func (NoRateLimit) Allow(_ context.Context, _ int64, _ string) bool { return true }

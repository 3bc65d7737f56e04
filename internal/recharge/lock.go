package recharge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker mutually excludes concurrent recharge runs for one user so a
// voucher cannot be double-spent across two rotations.
type Locker interface {
	Acquire(ctx context.Context, userID int64) (bool, error)
	Release(ctx context.Context, userID int64) error
}

const (
	lockPrefix = "recharge:lock:"
	// Long enough for a full rotation; expiry covers a crashed holder.
	lockTTL = 2 * time.Minute
)

// RedisLocker implements Locker with a SetNX marker.
type RedisLocker struct {
	cache *redis.Client
}

// NewRedisLocker builds a locker on the shared Redis client.
func NewRedisLocker(cache *redis.Client) *RedisLocker {
	return &RedisLocker{cache: cache}
}

func lockKey(userID int64) string {
	return fmt.Sprintf("%s%d", lockPrefix, userID)
}

// Acquire attempts to take the user's lock; false means another
// recharge is already running.
func (l *RedisLocker) Acquire(ctx context.Context, userID int64) (bool, error) {
	return l.cache.SetNX(ctx, lockKey(userID), "1", lockTTL).Result()
}

// Release drops the lock. Best effort; expiry backstops a failed release.
func (l *RedisLocker) Release(ctx context.Context, userID int64) error {
	return l.cache.Del(ctx, lockKey(userID)).Err()
}

// MemoryLocker is an in-process Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]bool
}

// NewMemoryLocker constructs an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]bool)}
}

func (l *MemoryLocker) Acquire(_ context.Context, userID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[userID] {
		return false, nil
	}
	l.held[userID] = true
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, userID)
	return nil
}

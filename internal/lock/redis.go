package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-cms/internal/repository"
)

// RedisLocker shares identity and collector locks between server processes
// through a Redis-backed repository.DistributedLock. Backend failures carry
// the lock key so a stuck signup, reset or collection run can be told apart.
type RedisLocker struct {
	dl repository.DistributedLock
}

// NewRedisLocker returns a Locker over dl.
func NewRedisLocker(dl repository.DistributedLock) *RedisLocker {
	return &RedisLocker{dl: dl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.dl.Acquire(ctx, key, ttl)
	return ok, wrapKey("acquire", key, err)
}

func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	ok, err := l.dl.AcquireWithRetry(ctx, key, ttl, maxRetries, retryDelay)
	return ok, wrapKey("acquire", key, err)
}

func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	ok, err := l.dl.Release(ctx, key)
	return ok, wrapKey("release", key, err)
}

func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.dl.Extend(ctx, key, ttl)
	return ok, wrapKey("extend", key, err)
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	ok, err := l.dl.IsHeld(ctx, key)
	return ok, wrapKey("check", key, err)
}

func wrapKey(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis lock %s %s: %w", op, key, err)
}

var _ Locker = (*RedisLocker)(nil)

package lock

import (
	"context"
	"time"
)

// NoOpLocker grants every lock. The admin CLI uses it for one-shot
// commands, where the database unique constraints remain the only guard.
type NoOpLocker struct{}

// NewNoOpLocker creates a new no-op locker.
func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (NoOpLocker) Acquire(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

func (n NoOpLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, _ int, _ time.Duration) (bool, error) {
	return n.Acquire(ctx, key, ttl)
}

func (NoOpLocker) Release(ctx context.Context, _ string) (bool, error) {
	return true, nil
}

func (NoOpLocker) Extend(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return ctx.Err() == nil, ctx.Err()
}

// IsHeld is always false: nothing is ever recorded.
func (NoOpLocker) IsHeld(context.Context, string) (bool, error) {
	return false, nil
}

var _ Locker = NoOpLocker{}
var _ Locker = (*NoOpLocker)(nil)

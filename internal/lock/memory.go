package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker with a process-local table. It serializes
// signups and resets within one server; run Redis when several servers
// share a database.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry

	stopOnce sync.Once
	stopCh   chan struct{}
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

func (e lockEntry) live(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// NewMemoryLocker creates a locker and starts its expiry sweeper. Call
// Close to stop the sweeper.
func NewMemoryLocker() *MemoryLocker {
	ml := &MemoryLocker{
		locks:  make(map[string]lockEntry),
		stopCh: make(chan struct{}),
	}
	go ml.sweep(30 * time.Second)
	return ml
}

func (m *MemoryLocker) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, e := range m.locks {
				if !e.live(now) {
					delete(m.locks, key)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}

// Close stops the sweeper. Held locks stay valid until they expire.
func (m *MemoryLocker) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Acquire takes key for ttl unless a live holder exists.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.locks[key]; ok && e.live(now) {
		return false, nil
	}
	m.locks[key] = lockEntry{expiresAt: now.Add(ttl), token: uuid.NewString()}
	return true, nil
}

// AcquireWithRetry polls Acquire up to maxRetries extra times.
func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for attempt := 0; ; attempt++ {
		acquired, err := m.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt >= maxRetries {
			return false, nil
		}

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

// Release drops key.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	delete(m.locks, key)
	return ok && e.live(time.Now()), nil
}

// Extend pushes the expiry of a live lock to now+ttl.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.locks[key]
	if !ok || !e.live(now) {
		delete(m.locks, key)
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	m.locks[key] = e
	return true, nil
}

// IsHeld reports whether key has a live holder.
func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	return ok && e.live(time.Now()), nil
}

var _ Locker = (*MemoryLocker)(nil)

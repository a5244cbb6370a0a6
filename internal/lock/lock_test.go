package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	ml := NewMemoryLocker()
	defer ml.Close()

	ok, err := ml.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ml.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := ml.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)

	extended, err := ml.Extend(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	released, err := ml.Release(ctx, "k")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = ml.Release(ctx, "k")
	require.NoError(t, err)
	assert.False(t, released)

	extended, err = ml.Extend(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ctx := context.Background()
	ml := NewMemoryLocker()
	defer ml.Close()

	ok, err := ml.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	held, err := ml.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = ml.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLocker_AcquireWithRetry(t *testing.T) {
	ctx := context.Background()
	ml := NewMemoryLocker()
	defer ml.Close()

	_, err := ml.Acquire(ctx, "k", 30*time.Millisecond)
	require.NoError(t, err)

	ok, err := ml.AcquireWithRetry(ctx, "k", time.Minute, 1, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ml.AcquireWithRetry(ctx, "k", time.Minute, 20, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ml.AcquireWithRetry(cancelled, "other", time.Minute, 3, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_Serializes(t *testing.T) {
	ctx := context.Background()
	ml := NewMemoryLocker()
	defer ml.Close()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Do(ctx, ml, Keys.Signup("Alice"), time.Second, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInside)
	held, err := ml.IsHeld(ctx, Keys.Signup("alice"))
	require.NoError(t, err)
	assert.False(t, held)
}

func TestDo_NotAcquired(t *testing.T) {
	ctx := context.Background()
	ml := NewMemoryLocker()
	defer ml.Close()

	_, err := ml.Acquire(ctx, Keys.BlobGC(), time.Minute)
	require.NoError(t, err)

	called := false
	err = Do(ctx, ml, Keys.BlobGC(), time.Second, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}

func TestDo_ReturnsFnError(t *testing.T) {
	boom := errors.New("boom")
	err := Do(context.Background(), NewNoOpLocker(), Keys.PasswordReset(7), time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "lock:agent:signup:alice", Keys.Signup("ALICE"))
	assert.Equal(t, "lock:agent:reset:42", Keys.PasswordReset(42))
	assert.Equal(t, "lock:gc:blob", Keys.BlobGC())
}

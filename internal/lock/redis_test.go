package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDistributedLock is a mock implementation of repository.DistributedLock.
type MockDistributedLock struct {
	mock.Mock
}

func (m *MockDistributedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDistributedLock) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl, maxRetries, retryDelay)
	return args.Bool(0), args.Error(1)
}

func (m *MockDistributedLock) Release(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDistributedLock) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDistributedLock) IsHeld(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func TestRedisLocker_Do(t *testing.T) {
	ctx := context.Background()
	dl := new(MockDistributedLock)
	key := Keys.Signup("Alice")

	dl.On("AcquireWithRetry", mock.Anything, key, time.Second, DefaultRetries, DefaultRetryDelay).Return(true, nil).Once()
	dl.On("Release", mock.Anything, key).Return(true, nil).Once()

	ran := false
	err := Do(ctx, NewRedisLocker(dl), key, time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	dl.AssertExpectations(t)
}

func TestRedisLocker_ErrorsNameTheKey(t *testing.T) {
	ctx := context.Background()
	dl := new(MockDistributedLock)
	down := errors.New("connection refused")
	key := Keys.BlobGC()

	dl.On("Acquire", mock.Anything, key, time.Minute).Return(false, down)
	dl.On("Extend", mock.Anything, key, time.Minute).Return(false, nil)
	dl.On("IsHeld", mock.Anything, key).Return(true, nil)

	locker := NewRedisLocker(dl)

	ok, err := locker.Acquire(ctx, key, time.Minute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "lock:gc:blob")

	ok, err = locker.Extend(ctx, key, time.Minute)
	assert.NoError(t, err)
	assert.False(t, ok)

	held, err := locker.IsHeld(ctx, key)
	require.NoError(t, err)
	assert.True(t, held)
}

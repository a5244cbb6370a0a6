package service

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

func TestGarbageCollector_RunOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	photos := env.contentType(t, "photo")

	// A rolled back post leaves an unreferenced payload.
	_, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContentType: photos,
		Content:     domain.ContentAttributes{Filename: "dot.png", ContentType: "image/png", Data: pngBytes},
		Post:        domain.PostAttributes{Title: "dot", CategoryIDs: []int64{0}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	other := append(bytes.Clone(pngBytes), 0x00)
	kept, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContentType: photos,
		Content:     domain.ContentAttributes{Filename: "dot2.png", ContentType: "image/png", Data: other},
		Post:        domain.PostAttributes{Title: "kept", PublicRead: true},
	})
	require.NoError(t, err)
	keptHash := kept.Content.(*domain.Photo).ContentHash

	orphans, err := env.repos.Blob.ListOrphans(ctx, -1, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	orphanHash := orphans[0].ContentHash

	result := env.gc.RunOnce(ctx)
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.EqualValues(t, len(pngBytes), result.BytesFreed)
	assert.Zero(t, result.Errors)

	_, err = env.repos.Blob.GetByHash(ctx, orphanHash)
	assert.ErrorIs(t, err, domain.ErrBlobNotFound)
	exists, err := env.storage.Exists(ctx, orphanHash)
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = env.storage.Exists(ctx, keptHash)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.GCBlobsDeleted))

	stats, err := env.gc.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.OrphanBlobCount)

	again := env.gc.RunOnce(ctx)
	assert.Zero(t, again.BlobsDeleted)
}

func TestGarbageCollector_DryRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	hash, err := env.storage.Store(ctx, bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	require.NoError(t, env.repos.Blob.Register(ctx, hash, int64(len(pngBytes))))

	env.gc.config.DryRun = true
	result := env.gc.RunOnce(ctx)
	assert.Equal(t, 1, result.BlobsDeleted)

	_, err = env.repos.Blob.GetByHash(ctx, hash)
	assert.NoError(t, err)
}

// hookedBackend runs onDelete before each payload delete.
type hookedBackend struct {
	storage.Backend
	onDelete func()
}

func (b *hookedBackend) Delete(ctx context.Context, contentHash string) error {
	b.onDelete()
	return b.Backend.Delete(ctx, contentHash)
}

func TestGarbageCollector_UploadDuringCollectionKeepsPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	photos := env.contentType(t, "photo")

	hash, err := env.storage.Store(ctx, bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	require.NoError(t, env.repos.Blob.Register(ctx, hash, int64(len(pngBytes))))

	var (
		once      sync.Once
		upload    sync.WaitGroup
		post      *domain.Post
		uploadErr error
	)
	backend := &hookedBackend{Backend: env.storage, onDelete: func() {
		once.Do(func() {
			upload.Add(1)
			go func() {
				defer upload.Done()
				post, uploadErr = env.posts.Create(ctx, alice, CreatePostInput{
					ContentType: photos,
					Content:     domain.ContentAttributes{Filename: "same.png", ContentType: "image/png", Data: pngBytes},
					Post:        domain.PostAttributes{Title: "same bytes", PublicRead: true},
				})
			}()
			// Let the upload write its bytes and wait on the payload lock.
			time.Sleep(50 * time.Millisecond)
		})
	}}

	config := DefaultGCConfig()
	config.GracePeriod = -time.Second
	gc := NewGarbageCollector(env.repos.Blob, backend, env.locker, nil, zerolog.Nop(), config)

	result := gc.RunOnce(ctx)
	upload.Wait()
	require.NoError(t, uploadErr)
	assert.Equal(t, 1, result.BlobsDeleted)
	assert.Equal(t, hash, post.Content.(*domain.Photo).ContentHash)

	blob, err := env.repos.Blob.GetByHash(ctx, hash)
	require.NoError(t, err)
	assert.EqualValues(t, 1, blob.RefCount)

	rc, err := env.storage.Retrieve(ctx, hash)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestGarbageCollector_SkipsBusyPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	hash, err := env.storage.Store(ctx, bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	require.NoError(t, env.repos.Blob.Register(ctx, hash, int64(len(pngBytes))))

	held, err := env.locker.Acquire(ctx, lock.Keys.Blob(hash), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	result := env.gc.RunOnce(ctx)
	assert.Zero(t, result.BlobsDeleted)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Errors)

	exists, err := env.storage.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = env.locker.Release(ctx, lock.Keys.Blob(hash))
	require.NoError(t, err)

	result = env.gc.RunOnce(ctx)
	assert.Equal(t, 1, result.BlobsDeleted)
}

func TestGarbageCollector_KeepsPayloadRegisteredAgain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	hash, err := env.storage.Store(ctx, bytes.NewReader(pngBytes), int64(len(pngBytes)))
	require.NoError(t, err)
	require.NoError(t, env.repos.Blob.Register(ctx, hash, int64(len(pngBytes))))

	// Registering again restarts the grace period the collector re-checks.
	env.gc.config.GracePeriod = time.Hour
	require.NoError(t, env.repos.Blob.Register(ctx, hash, int64(len(pngBytes))))

	assert.Equal(t, reclaimed, env.gc.collect(ctx, hash))

	_, err = env.repos.Blob.GetByHash(ctx, hash)
	assert.NoError(t, err)
	exists, err := env.storage.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

package s3

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/pkg/crypto"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

// fakeS3 keeps objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.puts++
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func TestBackend_StoreRetrieveDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := New(fake, Config{Bucket: "cms", Prefix: "payloads"}, zerolog.Nop())
	data := []byte("attachment payload")

	hash, err := b.Store(ctx, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, crypto.ComputeSHA256(data), hash)
	assert.Contains(t, fake.objects, "cms/payloads/"+hash[:2]+"/"+hash[2:4]+"/"+hash)

	rc, err := b.Retrieve(ctx, hash)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	size, err := b.GetSize(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	require.NoError(t, b.Delete(ctx, hash))
	_, err = b.Retrieve(ctx, hash)
	assert.True(t, storage.IsNotFound(err))
	assert.True(t, storage.IsNotFound(b.Delete(ctx, hash)))
}

func TestBackend_StoreSkipsExisting(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	b := New(fake, Config{Bucket: "cms"}, zerolog.Nop())

	_, err := b.Store(ctx, bytes.NewReader([]byte("dup")), -1)
	require.NoError(t, err)
	_, err = b.Store(ctx, bytes.NewReader([]byte("dup")), -1)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.puts)
}

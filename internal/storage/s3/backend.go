// Package s3 implements storage.Backend on an S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/pkg/crypto"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

// Config holds S3 backend settings.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// API is the subset of the S3 client the backend uses.
type API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Backend stores payloads as objects keyed by their sharded SHA-256 hash.
type Backend struct {
	client API
	bucket string
	paths  storage.PathConfig
	logger zerolog.Logger
}

// NewClient builds an S3 client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain applies.
func NewClient(ctx context.Context, cfg Config) (*awss3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New creates a backend over client.
func New(client API, cfg Config, logger zerolog.Logger) *Backend {
	return &Backend{
		client: client,
		bucket: cfg.Bucket,
		paths:  storage.DefaultPathConfig(cfg.Prefix),
		logger: logger.With().Str("storage", "s3").Str("bucket", cfg.Bucket).Logger(),
	}
}

// Store buffers the payload to learn its hash, then uploads it unless an
// object with that hash already exists.
func (b *Backend) Store(ctx context.Context, reader io.Reader, size int64) (string, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}

	hr := crypto.NewHashReader(reader)
	written, err := io.Copy(&buf, hr)
	if err != nil {
		return "", fmt.Errorf("failed to read payload: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("payload size mismatch: expected %d, got %d", size, written)
	}

	hash := hr.SHA256()
	exists, err := b.Exists(ctx, hash)
	if err != nil {
		return "", err
	}
	if exists {
		return hash, nil
	}

	_, err = b.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.GetPath(hash)),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentLength: aws.Int64(written),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload payload: %w", err)
	}

	b.logger.Debug().Str("content_hash", hash).Int64("size", written).Msg("payload stored")
	return hash, nil
}

// Retrieve streams the payload object.
func (b *Backend) Retrieve(ctx context.Context, contentHash string) (io.ReadCloser, error) {
	if !crypto.ValidateSHA256(contentHash) {
		return nil, storage.ErrNotFound
	}
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.GetPath(contentHash)),
	})
	if err != nil {
		if isMissing(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payload: %w", err)
	}
	return out.Body, nil
}

// Delete removes the payload object.
func (b *Backend) Delete(ctx context.Context, contentHash string) error {
	exists, err := b.Exists(ctx, contentHash)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}

	_, err = b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.GetPath(contentHash)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// Exists reports whether the payload object exists.
func (b *Backend) Exists(ctx context.Context, contentHash string) (bool, error) {
	_, err := b.GetSize(ctx, contentHash)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetSize returns the payload object size.
func (b *Backend) GetSize(ctx context.Context, contentHash string) (int64, error) {
	if !crypto.ValidateSHA256(contentHash) {
		return 0, storage.ErrNotFound
	}
	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.GetPath(contentHash)),
	})
	if err != nil {
		if isMissing(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("failed to head payload: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// GetPath returns the object key of a hash.
func (b *Backend) GetPath(contentHash string) string {
	return storage.ComputeKey(b.paths, contentHash)
}

func isMissing(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

var _ storage.Backend = (*Backend)(nil)

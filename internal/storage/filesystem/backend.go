// Package filesystem implements storage.Backend on a local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/pkg/crypto"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

// Config holds filesystem backend settings.
type Config struct {
	// DataDir is the root of the sharded payload tree.
	DataDir string

	// TempDir receives in-flight uploads. It must be on the same
	// filesystem as DataDir so the final rename is atomic.
	TempDir string
}

// Backend stores payloads as files named by their SHA-256 hash.
type Backend struct {
	paths   storage.PathConfig
	tempDir string
	logger  zerolog.Logger
}

// New creates the directories and returns a filesystem backend.
func New(cfg Config, logger zerolog.Logger) (*Backend, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("filesystem backend requires a data directory")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.DataDir, ".tmp")
	}
	for _, dir := range []string{cfg.DataDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Backend{
		paths:   storage.DefaultPathConfig(cfg.DataDir),
		tempDir: cfg.TempDir,
		logger:  logger.With().Str("storage", "filesystem").Logger(),
	}, nil
}

// Store writes the reader to a temp file while hashing it, then renames it
// into its sharded location.
func (b *Backend) Store(ctx context.Context, reader io.Reader, size int64) (string, error) {
	tmp, err := os.CreateTemp(b.tempDir, "upload-"+uuid.NewString()+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hr := crypto.NewHashReader(reader)
	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: hr})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("payload size mismatch: expected %d, got %d", size, written)
	}

	hash := hr.SHA256()
	dest := b.GetPath(hash)

	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(storage.GetShardPath(b.paths, hash), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", fmt.Errorf("failed to move payload into place: %w", err)
	}

	b.logger.Debug().Str("content_hash", hash).Int64("size", written).Msg("payload stored")
	return hash, nil
}

// Retrieve opens the payload file.
func (b *Backend) Retrieve(ctx context.Context, contentHash string) (io.ReadCloser, error) {
	if !crypto.ValidateSHA256(contentHash) {
		return nil, storage.ErrNotFound
	}
	f, err := os.Open(b.GetPath(contentHash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open payload: %w", err)
	}
	return f, nil
}

// Delete removes the payload file.
func (b *Backend) Delete(ctx context.Context, contentHash string) error {
	if !crypto.ValidateSHA256(contentHash) {
		return storage.ErrNotFound
	}
	if err := os.Remove(b.GetPath(contentHash)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to delete payload: %w", err)
	}
	return nil
}

// Exists reports whether the payload file exists.
func (b *Backend) Exists(ctx context.Context, contentHash string) (bool, error) {
	if !crypto.ValidateSHA256(contentHash) {
		return false, nil
	}
	_, err := os.Stat(b.GetPath(contentHash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat payload: %w", err)
}

// GetSize returns the payload file size.
func (b *Backend) GetSize(ctx context.Context, contentHash string) (int64, error) {
	if !crypto.ValidateSHA256(contentHash) {
		return 0, storage.ErrNotFound
	}
	info, err := os.Stat(b.GetPath(contentHash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("failed to stat payload: %w", err)
	}
	return info.Size(), nil
}

// GetPath returns the sharded file path of a hash.
func (b *Backend) GetPath(contentHash string) string {
	return storage.ComputePath(b.paths, contentHash)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ storage.Backend = (*Backend)(nil)

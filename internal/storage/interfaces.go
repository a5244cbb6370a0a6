// Package storage defines interfaces for attachment payload backends.
// Payloads are content addressed: they are stored and looked up by the
// SHA-256 of their bytes, so identical uploads share storage.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no payload is stored under a hash.
var ErrNotFound = errors.New("payload not found")

// Backend defines the interface for storage backends.
// Implementations include the local filesystem and S3-compatible services.
type Backend interface {
	// Store stores content from a reader and returns its SHA-256 hash.
	// If the content already exists (same hash), nothing new is written.
	// size is the expected length, or -1 when unknown.
	Store(ctx context.Context, reader io.Reader, size int64) (contentHash string, err error)

	// Retrieve returns a stream of the content (caller must close).
	// Returns ErrNotFound if the content doesn't exist.
	Retrieve(ctx context.Context, contentHash string) (io.ReadCloser, error)

	// Delete removes content by its hash. Deleting a missing hash returns ErrNotFound.
	// This should only be called when the blob reference count is zero.
	Delete(ctx context.Context, contentHash string) error

	// Exists checks if content with the given hash exists.
	Exists(ctx context.Context, contentHash string) (bool, error)

	// GetSize returns the size of stored content.
	GetSize(ctx context.Context, contentHash string) (int64, error)

	// GetPath returns the location of a hash in the backend, for logs and debugging.
	GetPath(contentHash string) string
}

// IsNotFound reports whether err means the payload is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

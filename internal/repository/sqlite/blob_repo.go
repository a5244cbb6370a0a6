package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// blobRepository implements repository.BlobRepository for SQLite.
type blobRepository struct {
	db *DB
}

// NewBlobRepository creates a new SQLite blob repository.
func NewBlobRepository(db *DB) repository.BlobRepository {
	return &blobRepository{db: db}
}

// Register records a blob with zero references. Re-registering an
// unreferenced blob restarts its grace period.
func (r *blobRepository) Register(ctx context.Context, contentHash string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blobs (content_hash, size, ref_count, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (content_hash) DO UPDATE SET created_at = excluded.created_at
		WHERE blobs.ref_count <= 0
	`, contentHash, size, formatTime(domain.Now()))
	if err != nil {
		return fmt.Errorf("failed to register blob: %w", err)
	}
	return nil
}

// GetByHash retrieves a blob by its content hash.
func (r *blobRepository) GetByHash(ctx context.Context, contentHash string) (*domain.Blob, error) {
	blob := &domain.Blob{}
	var createdAt string

	err := r.db.QueryRowContext(ctx, `
		SELECT content_hash, size, ref_count, created_at
		FROM blobs
		WHERE content_hash = ?
	`, contentHash).Scan(
		&blob.ContentHash,
		&blob.Size,
		&blob.RefCount,
		&createdAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob by hash: %w", err)
	}

	blob.CreatedAt = parseTime(createdAt)
	return blob, nil
}

// IncrementRef atomically increments the reference count.
func (r *blobRepository) IncrementRef(ctx context.Context, contentHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE blobs SET ref_count = ref_count + 1 WHERE content_hash = ?`,
		contentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to increment ref count: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}

	return nil
}

// DecrementRef atomically decrements the reference count.
// Returns the new reference count.
func (r *blobRepository) DecrementRef(ctx context.Context, contentHash string) (int32, error) {
	var newRefCount int32
	err := r.db.QueryRowContext(ctx, `
		UPDATE blobs
		SET ref_count = MAX(ref_count - 1, 0)
		WHERE content_hash = ?
		RETURNING ref_count
	`, contentHash).Scan(&newRefCount)
	if err != nil {
		if isNoRows(err) {
			return 0, domain.ErrBlobNotFound
		}
		return 0, fmt.Errorf("failed to decrement ref count: %w", err)
	}

	return newRefCount, nil
}

// Delete deletes a blob by its content hash. Referenced blobs are kept.
func (r *blobRepository) Delete(ctx context.Context, contentHash string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE content_hash = ? AND ref_count <= 0`,
		contentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrBlobNotFound
	}

	return nil
}

// ListOrphans returns blobs with ref_count = 0 that are older than the grace period.
func (r *blobRepository) ListOrphans(ctx context.Context, gracePeriod time.Duration, limit int) ([]*domain.Blob, error) {
	cutoff := formatTime(time.Now().Add(-gracePeriod))

	rows, err := r.db.QueryContext(ctx, `
		SELECT content_hash, size, ref_count, created_at
		FROM blobs
		WHERE ref_count <= 0 AND created_at < ?
		ORDER BY created_at ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan blobs: %w", err)
	}
	defer rows.Close()

	var blobs []*domain.Blob
	for rows.Next() {
		blob := &domain.Blob{}
		var createdAt string

		if err := rows.Scan(&blob.ContentHash, &blob.Size, &blob.RefCount, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		blob.CreatedAt = parseTime(createdAt)

		blobs = append(blobs, blob)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blobs: %w", err)
	}

	return blobs, nil
}

// Ensure blobRepository implements repository.BlobRepository.
var _ repository.BlobRepository = (*blobRepository)(nil)

package domain

import (
	"time"
)

// Blob represents a content-addressed attachment payload.
// Payloads are stored by their SHA-256 hash, so identical uploads share bytes.
type Blob struct {
	// ContentHash is the SHA-256 hash of the payload (64 hex characters).
	ContentHash string `json:"content_hash"`

	// Size is the size of the payload in bytes.
	Size int64 `json:"size"`

	// RefCount is the number of attachments referencing this blob.
	// A blob is registered with zero references before its attachment is
	// committed, so a rolled back post leaves a collectable blob behind.
	RefCount int32 `json:"ref_count"`

	// CreatedAt is the timestamp when the blob was first stored.
	CreatedAt time.Time `json:"created_at"`
}

// NewBlob creates an unreferenced Blob for the given hash and size.
func NewBlob(contentHash string, size int64) *Blob {
	return &Blob{
		ContentHash: contentHash,
		Size:        size,
		RefCount:    0,
		CreatedAt:   Now(),
	}
}

// IsOrphan returns true if no attachments reference this blob.
func (b *Blob) IsOrphan() bool {
	return b.RefCount <= 0
}

// CanGarbageCollect returns true if the blob is orphaned and old enough.
func (b *Blob) CanGarbageCollect(gracePeriod time.Duration) bool {
	if !b.IsOrphan() {
		return false
	}

	// Don't delete blobs that were just created (might be an in-flight post)
	return time.Since(b.CreatedAt) > gracePeriod
}

package postgres

import (
	"context"
	"fmt"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// contentRepository implements repository.ContentRepository.
type contentRepository struct {
	db *DB
}

// NewContentRepository creates a new PostgreSQL content repository.
func NewContentRepository(db *DB) repository.ContentRepository {
	return &contentRepository{db: db}
}

func tableFor(ct *domain.ContentType) (string, error) {
	switch ct.New().(type) {
	case domain.SingleTableContent:
		return "contents", nil
	case domain.AttachmentContent:
		return "attachments", nil
	}
	return "", fmt.Errorf("unsupported content type %s", ct.Name)
}

// Create inserts content and sets its ID and timestamps.
func (r *contentRepository) Create(ctx context.Context, content domain.Content) error {
	base := content.Base()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = domain.Now()
	}
	base.UpdatedAt = base.CreatedAt

	var err error
	switch c := content.(type) {
	case domain.SingleTableContent:
		rec := c.Record()
		err = r.db.q(ctx).QueryRow(ctx, `
			INSERT INTO contents (type, title, body, url, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, base.Type, rec.Title, rec.Body, rec.URL, rec.Description, base.CreatedAt, base.UpdatedAt).Scan(&base.ID)

	case domain.AttachmentContent:
		a := c.Payload()
		if a.ContentHash == "" {
			return fmt.Errorf("attachment %q has no stored payload", a.Name)
		}
		err = r.db.q(ctx).QueryRow(ctx, `
			INSERT INTO attachments (type, filename, content_type, size, content_hash, title, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, base.Type, a.Name, a.ContentType, a.Size, a.ContentHash, a.Title, a.Description,
			base.CreatedAt, base.UpdatedAt).Scan(&base.ID)

	default:
		return fmt.Errorf("unsupported content variant %T", content)
	}

	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrBlobNotFound
		}
		return fmt.Errorf("failed to create content: %w", err)
	}
	return nil
}

// GetByID loads content of type ct.
func (r *contentRepository) GetByID(ctx context.Context, ct *domain.ContentType, id int64) (domain.Content, error) {
	content := ct.New()
	base := content.Base()

	var err error
	switch c := content.(type) {
	case domain.SingleTableContent:
		var rec domain.TextRecord
		err = r.db.q(ctx).QueryRow(ctx, `
			SELECT id, type, title, body, url, description, created_at, updated_at
			FROM contents
			WHERE id = $1 AND type = $2
		`, id, ct.Name).Scan(
			&base.ID, &base.Type, &rec.Title, &rec.Body, &rec.URL, &rec.Description, &base.CreatedAt, &base.UpdatedAt,
		)
		if err == nil {
			c.Load(rec)
		}

	case domain.AttachmentContent:
		a := c.Payload()
		err = r.db.q(ctx).QueryRow(ctx, `
			SELECT id, type, filename, content_type, size, content_hash, title, description, created_at, updated_at
			FROM attachments
			WHERE id = $1 AND type = $2
		`, id, ct.Name).Scan(
			&base.ID, &base.Type, &a.Name, &a.ContentType, &a.Size, &a.ContentHash, &a.Title, &a.Description,
			&base.CreatedAt, &base.UpdatedAt,
		)

	default:
		return nil, fmt.Errorf("unsupported content variant %T", content)
	}

	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return content, nil
}

// Delete removes content of type ct.
func (r *contentRepository) Delete(ctx context.Context, ct *domain.ContentType, id int64) error {
	table, err := tableFor(ct)
	if err != nil {
		return err
	}

	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE id = $1 AND type = $2`, id, ct.Name)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrContentNotFound
	}
	return nil
}

// Exists reports whether the row exists.
func (r *contentRepository) Exists(ctx context.Context, ct *domain.ContentType, id int64) (bool, error) {
	table, err := tableFor(ct)
	if err != nil {
		return false, err
	}

	var exists bool
	err = r.db.q(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1 AND type = $2)`, id, ct.Name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}
	return exists, nil
}

// Count returns the number of rows of type ct.
func (r *contentRepository) Count(ctx context.Context, ct *domain.ContentType) (int64, error) {
	table, err := tableFor(ct)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := r.db.q(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE type = $1`, ct.Name).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return count, nil
}

// Ensure contentRepository implements repository.ContentRepository.
var _ repository.ContentRepository = (*contentRepository)(nil)

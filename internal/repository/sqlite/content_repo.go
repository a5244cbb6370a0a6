package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// contentRepository implements repository.ContentRepository for SQLite.
// Single-table variants share "contents"; attachment variants live in
// "attachments". Both tables carry a type column.
type contentRepository struct {
	db *DB
}

// NewContentRepository creates a new SQLite content repository.
func NewContentRepository(db *DB) repository.ContentRepository {
	return &contentRepository{db: db}
}

// Create inserts content and sets its ID and timestamps.
func (r *contentRepository) Create(ctx context.Context, content domain.Content) error {
	base := content.Base()
	now := domain.Now()
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = base.CreatedAt

	var (
		query string
		args  []any
	)

	switch c := content.(type) {
	case domain.SingleTableContent:
		rec := c.Record()
		query = `
			INSERT INTO contents (type, title, body, url, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		args = []any{base.Type, rec.Title, rec.Body, rec.URL, rec.Description,
			formatTime(base.CreatedAt), formatTime(base.UpdatedAt)}

	case domain.AttachmentContent:
		a := c.Payload()
		if a.ContentHash == "" {
			return fmt.Errorf("attachment %q has no stored payload", a.Name)
		}
		query = `
			INSERT INTO attachments (type, filename, content_type, size, content_hash, title, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		args = []any{base.Type, a.Name, a.ContentType, a.Size, a.ContentHash, a.Title, a.Description,
			formatTime(base.CreatedAt), formatTime(base.UpdatedAt)}

	default:
		return fmt.Errorf("unsupported content variant %T", content)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrBlobNotFound
		}
		return fmt.Errorf("failed to create content: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	base.ID = id

	return nil
}

// GetByID loads content of type ct.
func (r *contentRepository) GetByID(ctx context.Context, ct *domain.ContentType, id int64) (domain.Content, error) {
	content := ct.New()
	base := content.Base()
	var createdAt, updatedAt string

	switch c := content.(type) {
	case domain.SingleTableContent:
		var rec domain.TextRecord
		err := r.db.QueryRowContext(ctx, `
			SELECT id, type, title, body, url, description, created_at, updated_at
			FROM contents
			WHERE id = ? AND type = ?
		`, id, ct.Name).Scan(
			&base.ID, &base.Type, &rec.Title, &rec.Body, &rec.URL, &rec.Description, &createdAt, &updatedAt,
		)
		if err != nil {
			if isNoRows(err) {
				return nil, domain.ErrContentNotFound
			}
			return nil, fmt.Errorf("failed to get content: %w", err)
		}
		c.Load(rec)

	case domain.AttachmentContent:
		a := c.Payload()
		err := r.db.QueryRowContext(ctx, `
			SELECT id, type, filename, content_type, size, content_hash, title, description, created_at, updated_at
			FROM attachments
			WHERE id = ? AND type = ?
		`, id, ct.Name).Scan(
			&base.ID, &base.Type, &a.Name, &a.ContentType, &a.Size, &a.ContentHash, &a.Title, &a.Description,
			&createdAt, &updatedAt,
		)
		if err != nil {
			if isNoRows(err) {
				return nil, domain.ErrContentNotFound
			}
			return nil, fmt.Errorf("failed to get attachment: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported content variant %T", content)
	}

	base.CreatedAt = parseTime(createdAt)
	base.UpdatedAt = parseTime(updatedAt)
	return content, nil
}

// tableFor returns the table holding variants of ct.
func tableFor(ct *domain.ContentType) (string, error) {
	switch ct.New().(type) {
	case domain.SingleTableContent:
		return "contents", nil
	case domain.AttachmentContent:
		return "attachments", nil
	}
	return "", fmt.Errorf("unsupported content type %s", ct.Name)
}

// Delete removes content of type ct.
func (r *contentRepository) Delete(ctx context.Context, ct *domain.ContentType, id int64) error {
	table, err := tableFor(ct)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ? AND type = ?`, id, ct.Name)
	if err != nil {
		return fmt.Errorf("failed to delete content: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
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

	var count int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ? AND type = ?`, id, ct.Name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}
	return count > 0, nil
}

// Count returns the number of rows of type ct.
func (r *contentRepository) Count(ctx context.Context, ct *domain.ContentType) (int64, error) {
	table, err := tableFor(ct)
	if err != nil {
		return 0, err
	}

	var count int64
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE type = ?`, ct.Name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return count, nil
}

// Ensure contentRepository implements repository.ContentRepository.
var _ repository.ContentRepository = (*contentRepository)(nil)

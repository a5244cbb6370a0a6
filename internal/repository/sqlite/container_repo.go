package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// containerRepository implements repository.ContainerRepository for SQLite.
type containerRepository struct {
	db *DB
}

// NewContainerRepository creates a new SQLite container repository.
func NewContainerRepository(db *DB) repository.ContainerRepository {
	return &containerRepository{db: db}
}

const containerColumns = `id, owner_id, type, name, accepted_content_types, public_read, created_at, updated_at`

func joinTypes(types []string) string {
	return strings.Join(types, ",")
}

func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func scanContainer(row rowScanner) (*domain.Container, error) {
	c := &domain.Container{}
	var accepted, createdAt, updatedAt string
	var publicRead int

	if err := row.Scan(&c.ID, &c.OwnerID, &c.Type, &c.Name, &accepted, &publicRead, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.AcceptedContentTypes = splitTypes(accepted)
	c.PublicRead = publicRead != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// Create creates a new container.
func (r *containerRepository) Create(ctx context.Context, c *domain.Container) error {
	query := `
		INSERT INTO containers (owner_id, type, name, accepted_content_types, public_read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		c.OwnerID,
		c.Type,
		c.Name,
		joinTypes(c.AcceptedContentTypes),
		boolToInt(c.PublicRead),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrContainerAlreadyExists, c.Type, c.Name)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrAgentNotFound
		}
		return fmt.Errorf("failed to create container: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	c.ID = id

	return nil
}

// GetByID retrieves a container by ID.
func (r *containerRepository) GetByID(ctx context.Context, id int64) (*domain.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers WHERE id = ?`

	c, err := scanContainer(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrContainerNotFound
		}
		return nil, fmt.Errorf("failed to get container by ID: %w", err)
	}
	return c, nil
}

// List returns containers owned by ownerID, or all containers when ownerID is 0.
func (r *containerRepository) List(ctx context.Context, ownerID int64) ([]*domain.Container, error) {
	query := `SELECT ` + containerColumns + ` FROM containers`
	var args []any
	if ownerID > 0 {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY type, name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	defer rows.Close()

	var containers []*domain.Container
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan container: %w", err)
		}
		containers = append(containers, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating containers: %w", err)
	}

	return containers, nil
}

// Update updates an existing container.
func (r *containerRepository) Update(ctx context.Context, c *domain.Container) error {
	c.UpdatedAt = domain.Now()

	result, err := r.db.ExecContext(ctx, `
		UPDATE containers
		SET type = ?, name = ?, accepted_content_types = ?, public_read = ?, updated_at = ?
		WHERE id = ?
	`,
		c.Type,
		c.Name,
		joinTypes(c.AcceptedContentTypes),
		boolToInt(c.PublicRead),
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrContainerAlreadyExists, c.Type, c.Name)
		}
		return fmt.Errorf("failed to update container: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Touch moves updated_at forward to at.
func (r *containerRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	stamp := formatTime(at)

	result, err := r.db.ExecContext(ctx,
		`UPDATE containers SET updated_at = MAX(updated_at, ?) WHERE id = ?`,
		stamp, id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch container: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Delete deletes a container by ID. Posts inside it are removed by cascade.
func (r *containerRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Ensure containerRepository implements repository.ContainerRepository.
var _ repository.ContainerRepository = (*containerRepository)(nil)

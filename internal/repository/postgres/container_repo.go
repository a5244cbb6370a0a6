package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// containerRepository implements repository.ContainerRepository.
type containerRepository struct {
	db *DB
}

// NewContainerRepository creates a new PostgreSQL container repository.
func NewContainerRepository(db *DB) repository.ContainerRepository {
	return &containerRepository{db: db}
}

const containerColumns = `id, owner_id, type, name, accepted_content_types, public_read, created_at, updated_at`

func scanContainer(row pgx.Row) (*domain.Container, error) {
	c := &domain.Container{}
	err := row.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Type,
		&c.Name,
		&c.AcceptedContentTypes,
		&c.PublicRead,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(c.AcceptedContentTypes) == 0 {
		c.AcceptedContentTypes = nil
	}
	return c, nil
}

func typesOrEmpty(types []string) []string {
	if types == nil {
		return []string{}
	}
	return types
}

// Create creates a new container.
func (r *containerRepository) Create(ctx context.Context, c *domain.Container) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO containers (owner_id, type, name, accepted_content_types, public_read, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`,
		c.OwnerID,
		c.Type,
		c.Name,
		typesOrEmpty(c.AcceptedContentTypes),
		c.PublicRead,
		c.CreatedAt,
		c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrContainerAlreadyExists, c.Type, c.Name)
		}
		if isForeignKeyViolation(err) {
			return domain.ErrAgentNotFound
		}
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}

// GetByID retrieves a container by ID.
func (r *containerRepository) GetByID(ctx context.Context, id int64) (*domain.Container, error) {
	c, err := scanContainer(r.db.q(ctx).QueryRow(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = $1`, id))
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
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+containerColumns+` FROM containers
		WHERE $1::bigint = 0 OR owner_id = $1
		ORDER BY type, name
	`, ownerID)
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

	result, err := r.db.q(ctx).Exec(ctx, `
		UPDATE containers
		SET type = $1, name = $2, accepted_content_types = $3, public_read = $4, updated_at = $5
		WHERE id = $6
	`,
		c.Type,
		c.Name,
		typesOrEmpty(c.AcceptedContentTypes),
		c.PublicRead,
		c.UpdatedAt,
		c.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrContainerAlreadyExists, c.Type, c.Name)
		}
		return fmt.Errorf("failed to update container: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Touch moves updated_at forward to at.
func (r *containerRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.q(ctx).Exec(ctx,
		`UPDATE containers SET updated_at = GREATEST(updated_at, $1) WHERE id = $2`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to touch container: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Delete deletes a container by ID.
func (r *containerRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM containers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrContainerNotFound
	}
	return nil
}

// Ensure containerRepository implements repository.ContainerRepository.
var _ repository.ContainerRepository = (*containerRepository)(nil)

package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// postRepository implements repository.PostRepository. Category links are
// kept in an ordered BIGINT[] column.
type postRepository struct {
	db *DB
}

// NewPostRepository creates a new PostgreSQL post repository.
func NewPostRepository(db *DB) repository.PostRepository {
	return &postRepository{db: db}
}

const postColumns = `p.id, p.agent_id, p.container_id, p.content_type, p.content_id,
	p.title, p.description, p.public_read, p.category_ids, p.created_at, p.updated_at`

func scanPost(row pgx.Row) (*domain.Post, error) {
	p := &domain.Post{}
	err := row.Scan(
		&p.ID,
		&p.AgentID,
		&p.ContainerID,
		&p.ContentType,
		&p.ContentID,
		&p.Title,
		&p.Description,
		&p.PublicRead,
		&p.CategoryIDs,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(p.CategoryIDs) == 0 {
		p.CategoryIDs = nil
	}
	return p, nil
}

func categoriesOrEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// Create creates a new post.
func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	err := r.db.q(ctx).QueryRow(ctx, `
		INSERT INTO posts (agent_id, container_id, content_type, content_id, title, description,
			public_read, category_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		post.AgentID,
		post.ContainerID,
		post.ContentType,
		post.ContentID,
		post.Title,
		post.Description,
		post.PublicRead,
		categoriesOrEmpty(post.CategoryIDs),
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: agent or container missing", domain.ErrNotFound)
		}
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetByID retrieves a post by ID.
func (r *postRepository) GetByID(ctx context.Context, id int64) (*domain.Post, error) {
	post, err := scanPost(r.db.q(ctx).QueryRow(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post by ID: %w", err)
	}
	return post, nil
}

// Update updates the mutable post attributes; updated_at never moves backwards.
func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	result, err := r.db.q(ctx).Exec(ctx, `
		UPDATE posts
		SET title = $1, description = $2, public_read = $3, category_ids = $4,
			updated_at = GREATEST(updated_at, $5)
		WHERE id = $6
	`,
		post.Title,
		post.Description,
		post.PublicRead,
		categoriesOrEmpty(post.CategoryIDs),
		post.UpdatedAt,
		post.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// Delete deletes a post by ID.
func (r *postRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.q(ctx).Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// listOrder keeps paging deterministic when timestamps tie.
const listOrder = ` ORDER BY p.updated_at DESC, p.id DESC`

// listClause builds the FROM and WHERE clauses of a listing with their
// positional arguments. Marker mode restricts on posts.content_type and
// joins on id and type; discriminator mode joins on id alone, restricts on
// the content row's type and only requires the marker to name a type
// stored in the same table.
func listClause(q repository.PostQuery) (from, cond string, args []any, err error) {
	if q.ContentType == nil {
		return "", "", nil, fmt.Errorf("post listing requires a content type")
	}

	table, err := tableFor(q.ContentType)
	if err != nil {
		return "", "", nil, err
	}

	args = []any{q.ContentType.Name}
	var where []string

	switch q.ResolvedFilter() {
	case repository.FilterDiscriminator:
		from = ` FROM posts p LEFT JOIN ` + table + ` c ON c.id = p.content_id`
		args = append(args, q.JoinTypes())
		where = append(where, `c.type = $1`, `p.content_type = ANY($2)`)
	default:
		from = ` FROM posts p LEFT JOIN ` + table + ` c ON c.id = p.content_id AND c.type = p.content_type`
		where = append(where, `p.content_type = $1`)
	}

	if q.Scope.ContainerID != nil {
		args = append(args, *q.Scope.ContainerID)
		where = append(where, `p.container_id = $`+strconv.Itoa(len(args)))
	} else {
		where = append(where, `p.container_id IS NULL`, `p.public_read`)
	}

	return from, ` WHERE ` + strings.Join(where, ` AND `), args, nil
}

// List returns one page of posts of a single content type.
func (r *postRepository) List(ctx context.Context, q repository.PostQuery) (*repository.PostListResult, error) {
	from, cond, args, err := listClause(q)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := r.db.q(ctx).QueryRow(ctx, `SELECT COUNT(*)`+from+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	result := &repository.PostListResult{Total: total}
	if total == 0 || q.Limit <= 0 || int64(q.Offset) >= total {
		return result, nil
	}

	n := len(args)
	query := `SELECT ` + postColumns + from + cond + listOrder +
		` LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2)

	rows, err := r.db.q(ctx).Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		result.Posts = append(result.Posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	return result, nil
}

// ListAll returns every post created by filter.AgentID and/or bound to
// filter.ContainerID.
func (r *postRepository) ListAll(ctx context.Context, filter repository.PostFilter) ([]*domain.Post, error) {
	rows, err := r.db.q(ctx).Query(ctx, `
		SELECT `+postColumns+` FROM posts p
		WHERE ($1::bigint = 0 OR p.agent_id = $1) AND ($2::bigint = 0 OR p.container_id = $2)
		ORDER BY p.id
	`, filter.AgentID, filter.ContainerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}
	return posts, nil
}

// Ensure postRepository implements repository.PostRepository.
var _ repository.PostRepository = (*postRepository)(nil)

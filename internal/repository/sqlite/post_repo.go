package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

// postRepository implements repository.PostRepository for SQLite.
type postRepository struct {
	db *DB
}

// NewPostRepository creates a new SQLite post repository.
func NewPostRepository(db *DB) repository.PostRepository {
	return &postRepository{db: db}
}

const postColumns = `p.id, p.agent_id, p.container_id, p.content_type, p.content_id,
	p.title, p.description, p.public_read, p.created_at, p.updated_at`

func scanPost(row rowScanner) (*domain.Post, error) {
	p := &domain.Post{}
	var containerID sql.NullInt64
	var publicRead int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID,
		&p.AgentID,
		&containerID,
		&p.ContentType,
		&p.ContentID,
		&p.Title,
		&p.Description,
		&publicRead,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if containerID.Valid {
		id := containerID.Int64
		p.ContainerID = &id
	}
	p.PublicRead = publicRead != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func nullID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// Create creates a new post together with its category links.
func (r *postRepository) Create(ctx context.Context, post *domain.Post) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, `
			INSERT INTO posts (agent_id, container_id, content_type, content_id, title, description, public_read, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			post.AgentID,
			nullID(post.ContainerID),
			post.ContentType,
			post.ContentID,
			post.Title,
			post.Description,
			boolToInt(post.PublicRead),
			formatTime(post.CreatedAt),
			formatTime(post.UpdatedAt),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: agent or container missing", domain.ErrNotFound)
			}
			return fmt.Errorf("failed to create post: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}
		post.ID = id

		return r.replaceCategories(ctx, post.ID, post.CategoryIDs)
	})
}

func (r *postRepository) replaceCategories(ctx context.Context, postID int64, ids []int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM post_categories WHERE post_id = ?`, postID); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}
	for i, categoryID := range ids {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO post_categories (post_id, category_id, position) VALUES (?, ?, ?)`,
			postID, categoryID, i,
		)
		if err != nil {
			return fmt.Errorf("failed to link category %d: %w", categoryID, err)
		}
	}
	return nil
}

// loadCategories fills CategoryIDs for every post in one query.
func (r *postRepository) loadCategories(ctx context.Context, posts []*domain.Post) error {
	if len(posts) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.Post, len(posts))
	placeholders := make([]string, 0, len(posts))
	args := make([]any, 0, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
		placeholders = append(placeholders, "?")
		args = append(args, p.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT post_id, category_id FROM post_categories
		WHERE post_id IN (`+strings.Join(placeholders, ",")+`)
		ORDER BY post_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID, categoryID int64
		if err := rows.Scan(&postID, &categoryID); err != nil {
			return fmt.Errorf("failed to scan category: %w", err)
		}
		if p, ok := byID[postID]; ok {
			p.CategoryIDs = append(p.CategoryIDs, categoryID)
		}
	}
	return rows.Err()
}

// GetByID retrieves a post by ID.
func (r *postRepository) GetByID(ctx context.Context, id int64) (*domain.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrPostNotFound
		}
		return nil, fmt.Errorf("failed to get post by ID: %w", err)
	}

	if err := r.loadCategories(ctx, []*domain.Post{post}); err != nil {
		return nil, err
	}
	return post, nil
}

// Update updates the mutable post attributes. The content reference is
// never written and updated_at never moves backwards.
func (r *postRepository) Update(ctx context.Context, post *domain.Post) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		result, err := r.db.ExecContext(ctx, `
			UPDATE posts
			SET title = ?, description = ?, public_read = ?, updated_at = MAX(updated_at, ?)
			WHERE id = ?
		`,
			post.Title,
			post.Description,
			boolToInt(post.PublicRead),
			formatTime(post.UpdatedAt),
			post.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update post: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return domain.ErrPostNotFound
		}

		return r.replaceCategories(ctx, post.ID, post.CategoryIDs)
	})
}

// Delete deletes a post by ID.
func (r *postRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// List returns one page of posts of a single content type. In marker mode
// posts are restricted on posts.content_type and joined to their content on
// id and type. In discriminator mode the join is on id alone and the
// restriction is the content row's own type column; the marker only has to
// name some type stored in the same table.
func (r *postRepository) List(ctx context.Context, q repository.PostQuery) (*repository.PostListResult, error) {
	if q.ContentType == nil {
		return nil, fmt.Errorf("post listing requires a content type")
	}

	table, err := tableFor(q.ContentType)
	if err != nil {
		return nil, err
	}

	var (
		from  string
		where []string
		args  []any
	)

	switch q.ResolvedFilter() {
	case repository.FilterDiscriminator:
		from = ` FROM posts p LEFT JOIN ` + table + ` c ON c.id = p.content_id`
		markers := q.JoinTypes()
		where = append(where,
			`c.type = ?`,
			`p.content_type IN (`+strings.TrimSuffix(strings.Repeat("?,", len(markers)), ",")+`)`,
		)
		args = append(args, q.ContentType.Name)
		for _, m := range markers {
			args = append(args, m)
		}
	default:
		from = ` FROM posts p LEFT JOIN ` + table + ` c ON c.id = p.content_id AND c.type = p.content_type`
		where = append(where, `p.content_type = ?`)
		args = append(args, q.ContentType.Name)
	}

	if q.Scope.ContainerID != nil {
		where = append(where, `p.container_id = ?`)
		args = append(args, *q.Scope.ContainerID)
	} else {
		where = append(where, `p.container_id IS NULL`, `p.public_read = 1`)
	}

	cond := ` WHERE ` + strings.Join(where, ` AND `)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*)`+from+cond, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	result := &repository.PostListResult{Total: total}
	if total == 0 || q.Limit <= 0 || int64(q.Offset) >= total {
		return result, nil
	}

	query := `SELECT ` + postColumns + from + cond + ` ORDER BY p.updated_at DESC, p.id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
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

	if err := r.loadCategories(ctx, result.Posts); err != nil {
		return nil, err
	}
	return result, nil
}

// ListAll returns every post created by filter.AgentID and/or bound to
// filter.ContainerID.
func (r *postRepository) ListAll(ctx context.Context, filter repository.PostFilter) ([]*domain.Post, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts p
		WHERE (? = 0 OR p.agent_id = ?) AND (? = 0 OR p.container_id = ?)
		ORDER BY p.id
	`, filter.AgentID, filter.AgentID, filter.ContainerID, filter.ContainerID)
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

// Package repository defines data access interfaces for Alexander CMS.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite for embedded deployments and tests) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// =============================================================================
// Agent Repository
// =============================================================================

// AgentRepository defines the interface for agent data access.
type AgentRepository interface {
	// Create creates a new agent.
	Create(ctx context.Context, agent *domain.Agent) error

	// GetByID retrieves an agent by ID.
	GetByID(ctx context.Context, id int64) (*domain.Agent, error)

	// GetByLogin retrieves an agent by login.
	GetByLogin(ctx context.Context, login string) (*domain.Agent, error)

	// GetByEmail retrieves an agent by email.
	GetByEmail(ctx context.Context, email string) (*domain.Agent, error)

	// GetByActivationCode retrieves the agent holding an activation code.
	GetByActivationCode(ctx context.Context, code string) (*domain.Agent, error)

	// GetByResetPasswordCode retrieves the agent holding a reset code.
	GetByResetPasswordCode(ctx context.Context, code string) (*domain.Agent, error)

	// Activate atomically moves the pending agent holding code to active and
	// clears the code. Returns domain.ErrAgentNotFound when no pending agent
	// holds the code, which includes a code that was already consumed.
	Activate(ctx context.Context, code string, at time.Time) (*domain.Agent, error)

	// SetResetPasswordCode stores a fresh reset code for the agent.
	SetResetPasswordCode(ctx context.Context, id int64, code string) error

	// ResetPassword atomically replaces the password hash and clears the reset
	// code, provided the agent still holds code. Returns domain.ErrAgentNotFound
	// when the code was consumed concurrently.
	ResetPassword(ctx context.Context, id int64, code, passwordHash string) error

	// Update updates an existing agent.
	Update(ctx context.Context, agent *domain.Agent) error

	// Delete deletes an agent by ID.
	Delete(ctx context.Context, id int64) error

	// List returns agents with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.Agent], error)

	// ExistsByLogin checks if an agent with the given login exists.
	ExistsByLogin(ctx context.Context, login string) (bool, error)

	// ExistsByEmail checks if an agent with the given email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// =============================================================================
// Container Repository
// =============================================================================

// ContainerRepository defines the interface for container data access.
type ContainerRepository interface {
	// Create creates a new container.
	Create(ctx context.Context, container *domain.Container) error

	// GetByID retrieves a container by ID.
	GetByID(ctx context.Context, id int64) (*domain.Container, error)

	// List returns containers owned by ownerID (or all if ownerID is 0).
	List(ctx context.Context, ownerID int64) ([]*domain.Container, error)

	// Update updates an existing container.
	Update(ctx context.Context, container *domain.Container) error

	// Touch moves updated_at forward to at (never backwards).
	Touch(ctx context.Context, id int64, at time.Time) error

	// Delete deletes a container by ID.
	Delete(ctx context.Context, id int64) error
}

// =============================================================================
// Content Repository
// =============================================================================

// ContentRepository stores every registered content variant. It picks the
// table from the variant: single-table variants go to the shared table with
// a type column, attachment variants to their own table.
type ContentRepository interface {
	// Create inserts content and sets its ID and timestamps.
	Create(ctx context.Context, content domain.Content) error

	// GetByID loads content of type ct.
	GetByID(ctx context.Context, ct *domain.ContentType, id int64) (domain.Content, error)

	// Delete removes content of type ct.
	Delete(ctx context.Context, ct *domain.ContentType, id int64) error

	// Exists reports whether the row exists.
	Exists(ctx context.Context, ct *domain.ContentType, id int64) (bool, error)

	// Count returns the number of rows of type ct.
	Count(ctx context.Context, ct *domain.ContentType) (int64, error)
}

// =============================================================================
// Post Repository
// =============================================================================

// PostRepository defines the interface for post data access.
type PostRepository interface {
	// Create creates a new post together with its category links.
	Create(ctx context.Context, post *domain.Post) error

	// GetByID retrieves a post by ID (without its content).
	GetByID(ctx context.Context, id int64) (*domain.Post, error)

	// Update updates the mutable post attributes and category links.
	Update(ctx context.Context, post *domain.Post) error

	// Delete deletes a post by ID.
	Delete(ctx context.Context, id int64) error

	// List returns one page of posts of a single content type.
	List(ctx context.Context, query PostQuery) (*PostListResult, error)

	// ListAll returns every post matching filter, of any content type.
	// Used to tear down an agent's or a container's posts.
	ListAll(ctx context.Context, filter PostFilter) ([]*domain.Post, error)
}

// PostFilter selects posts by creator or container. Zero fields match all.
type PostFilter struct {
	AgentID     int64
	ContainerID int64
}

// TypeFilter selects how a listing restricts rows to one content type.
type TypeFilter int

const (
	// FilterAuto uses the content type's registered storage mode.
	FilterAuto TypeFilter = iota

	// FilterDiscriminator compares the content table's type column.
	FilterDiscriminator

	// FilterMarker compares the posts.content_type marker.
	FilterMarker
)

// PostScope restricts a listing to a container or to the public feed.
type PostScope struct {
	// ContainerID restricts to posts bound to the container. When nil only
	// public-read posts without a container match.
	ContainerID *int64
}

// PostQuery is "posts of type T in scope S, ordered, paged".
type PostQuery struct {
	ContentType *domain.ContentType
	Scope       PostScope

	// Filter overrides the storage-derived strategy; FilterAuto in normal use.
	Filter TypeFilter

	// TableTypes names every type sharing ContentType's table. A
	// discriminator listing only joins posts whose marker is one of them,
	// so content ids from another table never match. Empty means
	// ContentType alone.
	TableTypes []string

	Offset int
	Limit  int
}

// ResolvedFilter returns the strategy the query will use.
func (q PostQuery) ResolvedFilter() TypeFilter {
	if q.Filter != FilterAuto {
		return q.Filter
	}
	if q.ContentType.Storage == domain.StorageSingleTable {
		return FilterDiscriminator
	}
	return FilterMarker
}

// JoinTypes returns the markers a discriminator listing joins against.
func (q PostQuery) JoinTypes() []string {
	if len(q.TableTypes) > 0 {
		return q.TableTypes
	}
	return []string{q.ContentType.Name}
}

// PostListResult contains one page of posts ordered by updated_at DESC, id DESC.
type PostListResult struct {
	Posts []*domain.Post
	Total int64
}

// =============================================================================
// Blob Repository (attachment payload metadata)
// =============================================================================

// BlobRepository tracks attachment payloads and their reference counts.
type BlobRepository interface {
	// Register records a blob with zero references. Re-registering an
	// unreferenced blob restarts its grace period.
	Register(ctx context.Context, contentHash string, size int64) error

	// GetByHash retrieves a blob by its content hash.
	GetByHash(ctx context.Context, contentHash string) (*domain.Blob, error)

	// IncrementRef atomically increments the reference count.
	IncrementRef(ctx context.Context, contentHash string) error

	// DecrementRef atomically decrements the reference count.
	// Returns the new reference count (0 means blob can be garbage collected).
	DecrementRef(ctx context.Context, contentHash string) (newRefCount int32, err error)

	// Delete deletes a blob by its content hash.
	// Should only be called when ref_count is 0.
	Delete(ctx context.Context, contentHash string) error

	// ListOrphans returns blobs with ref_count = 0 that are older than the grace period.
	ListOrphans(ctx context.Context, gracePeriod time.Duration, limit int) ([]*domain.Blob, error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// =============================================================================
// Transaction Support
// =============================================================================

// TxManager defines the interface for transaction management.
// Repositories created from the same database join the transaction carried
// by the context passed to fn.
type TxManager interface {
	// WithTx executes the given function within a transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories holds all repository instances for one database.
type Repositories struct {
	Agent     AgentRepository
	Container ContainerRepository
	Content   ContentRepository
	Post      PostRepository
	Blob      BlobRepository
	Tx        TxManager
}

package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/repository"
	"github.com/prn-tf/alexander-cms/internal/storage"
)

// payloadLockTTL bounds how long one payload is held by an upload or the
// collector.
const payloadLockTTL = 30 * time.Second

// PostService aggregates posts into containers and the public feed. It
// owns the atomic creation of a content and the post carrying it.
type PostService struct {
	registry    *domain.Registry
	agentRepo   repository.AgentRepository
	contentRepo repository.ContentRepository
	postRepo    repository.PostRepository
	blobRepo    repository.BlobRepository
	tx          repository.TxManager
	containers  *containerStore
	storage     storage.Backend
	locker      lock.Locker
	gate        *auth.Gate
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewPostService creates a new PostService.
func NewPostService(
	repos *repository.Repositories,
	cache repository.Cache,
	registry *domain.Registry,
	storage storage.Backend,
	locker lock.Locker,
	gate *auth.Gate,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *PostService {
	logger = logger.With().Str("service", "post").Logger()
	return &PostService{
		registry:    registry,
		agentRepo:   repos.Agent,
		contentRepo: repos.Content,
		postRepo:    repos.Post,
		blobRepo:    repos.Blob,
		tx:          repos.Tx,
		containers:  &containerStore{repo: repos.Container, cache: cache, logger: logger},
		storage:     storage,
		locker:      locker,
		gate:        gate,
		metrics:     m,
		logger:      logger,
	}
}

func (s *PostService) check(actor domain.Actor, ct *domain.ContentType, action auth.Action, inst auth.Instance) error {
	resource := auth.CollectionResource(ct)
	if err := s.gate.Check(actor, resource, action, inst); err != nil {
		s.metrics.Denied(string(resource), string(action))
		return err
	}
	return nil
}

// ResolveType finds a content type by collection ("articles") or type name.
func (s *PostService) ResolveType(name string) (*domain.ContentType, error) {
	if ct, ok := s.registry.LookupCollection(name); ok {
		return ct, nil
	}
	return s.registry.Resolve(name)
}

// loadContainer returns nil for a nil id.
func (s *PostService) loadContainer(ctx context.Context, id *int64) (*domain.Container, error) {
	if id == nil {
		return nil, nil
	}
	container, err := s.containers.get(ctx, *id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, s.internal(err, "failed to load container")
	}
	return container, nil
}

func (s *PostService) accepts(container *domain.Container, ct *domain.ContentType) error {
	if s.registry.Accepts(container, ct.Name) {
		return nil
	}
	resource := "public feed"
	if container != nil {
		resource = container.Type + " " + container.Name
	}
	return domain.NewDomainError(domain.ErrUnsupportedType, ct.Collection+" cannot be posted here", resource)
}

func (s *PostService) internal(err error, msg string) error {
	s.logger.Error().Err(err).Msg(msg)
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

// =============================================================================
// List
// =============================================================================

// ListPostsInput selects one page of one content type.
type ListPostsInput struct {
	// ContainerID is nil for the public feed.
	ContainerID *int64

	ContentType *domain.ContentType

	// Page is 1-indexed; values below 1 mean the first page.
	Page int
}

// List returns one page of posts of a content type, newest first. A page
// past the end is empty, not an error.
func (s *PostService) List(ctx context.Context, actor domain.Actor, input ListPostsInput) (*domain.Page, error) {
	ct := input.ContentType
	container, err := s.loadContainer(ctx, input.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := s.accepts(container, ct); err != nil {
		return nil, err
	}

	// The public feed only ever shows public posts.
	if container != nil {
		if err := s.check(actor, ct, auth.ActionIndex, container); err != nil {
			return nil, err
		}
	}

	perPage := ct.PerPage
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	number := input.Page
	if number < 1 {
		number = 1
	}

	page := &domain.Page{
		ContentType: ct,
		Container:   container,
		Number:      number,
		PerPage:     perPage,
	}

	query := repository.PostQuery{
		ContentType: ct,
		Scope:       repository.PostScope{ContainerID: input.ContainerID},
		TableTypes:  s.registry.StoredIn(ct.Table),
		Limit:       perPage,
	}
	if number-1 > math.MaxInt32/perPage {
		// Far past any real listing; count only.
		query.Limit = 0
	} else {
		query.Offset = (number - 1) * perPage
	}

	result, err := s.postRepo.List(ctx, query)
	if err != nil {
		return nil, s.internal(err, "failed to list posts")
	}
	page.Posts = result.Posts
	page.Total = result.Total

	if err := s.hydrate(ctx, ct, page.Posts); err != nil {
		return nil, err
	}

	switch {
	case len(page.Posts) > 0:
		page.Updated = page.Posts[0].UpdatedAt
	case container != nil:
		page.Updated = container.UpdatedAt
	default:
		page.Updated = domain.Now()
	}

	return page, nil
}

// hydrate loads the content and creator of every post.
func (s *PostService) hydrate(ctx context.Context, ct *domain.ContentType, posts []*domain.Post) error {
	agents := make(map[int64]*domain.Agent)
	for _, post := range posts {
		content, err := s.contentRepo.GetByID(ctx, ct, post.ContentID)
		if err != nil {
			if errors.Is(err, domain.ErrContentNotFound) {
				s.logger.Warn().Int64("post_id", post.ID).Msg("post content missing")
				continue
			}
			return s.internal(err, "failed to load content")
		}
		post.Content = content

		agent, ok := agents[post.AgentID]
		if !ok {
			agent, err = s.agentRepo.GetByID(ctx, post.AgentID)
			if err != nil && !errors.Is(err, domain.ErrAgentNotFound) {
				return s.internal(err, "failed to load post author")
			}
			agents[post.AgentID] = agent
		}
		post.Agent = agent
	}
	return nil
}

// =============================================================================
// Create
// =============================================================================

// CreatePostInput contains the content and post attributes of a new post.
type CreatePostInput struct {
	// ContainerID is nil for a post that only lives in the public feed.
	ContainerID *int64

	ContentType *domain.ContentType
	Content     domain.ContentAttributes
	Post        domain.PostAttributes
}

// Create builds and stores a content and the post carrying it. Either both
// persist or neither does: a post that fails validation rolls back its
// content. Validation errors target either the content or the post.
func (s *PostService) Create(ctx context.Context, actor domain.Actor, input CreatePostInput) (*domain.Post, error) {
	ct := input.ContentType
	container, err := s.loadContainer(ctx, input.ContainerID)
	if err != nil {
		return nil, err
	}
	if err := s.accepts(container, ct); err != nil {
		return nil, err
	}

	// A nil *Container must not reach the gate as a non-nil interface.
	var target auth.Instance
	if container != nil {
		target = container
	}
	if err := s.check(actor, ct, auth.ActionCreate, target); err != nil {
		return nil, err
	}

	content, err := s.registry.Build(ct, input.Content)
	if err != nil {
		s.metrics.PostRolledBack(ct.Name, "content")
		return nil, err
	}

	// Payload bytes live outside the transaction. The blob row starts
	// unreferenced, so a rollback below leaves it to the collector.
	var payloadHash string
	if att, ok := content.(domain.AttachmentContent); ok {
		if payloadHash, err = s.storePayload(ctx, att.Payload()); err != nil {
			s.metrics.PostRolledBack(ct.Name, "store")
			return nil, err
		}
	}

	var post *domain.Post
	stage := "content"
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.contentRepo.Create(ctx, content); err != nil {
			return err
		}

		stage = "post"
		post = domain.NewPost(actor.AgentID(), input.ContainerID, content, input.Post)
		if err := post.Validate(); err != nil {
			return err
		}
		if err := s.postRepo.Create(ctx, post); err != nil {
			return err
		}

		if payloadHash != "" {
			if err := s.blobRepo.IncrementRef(ctx, payloadHash); err != nil {
				return err
			}
		}
		if container != nil {
			return s.containers.repo.Touch(ctx, container.ID, post.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		s.metrics.PostRolledBack(ct.Name, stage)
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, s.internal(err, "failed to create post")
	}
	if container != nil {
		s.containers.invalidate(ctx, container.ID)
	}

	post.Agent = actor.Agent
	s.metrics.PostCreated(ct.Name)
	s.logger.Info().
		Int64("post_id", post.ID).
		Int64("agent_id", post.AgentID).
		Str("content_type", ct.Name).
		Int64("content_id", post.ContentID).
		Msg("post created")

	return post, nil
}

func (s *PostService) storePayload(ctx context.Context, a *domain.Attachment) (string, error) {
	size := int64(len(a.Data))
	hash, err := s.storage.Store(ctx, bytes.NewReader(a.Data), size)
	if err != nil {
		return "", s.internal(err, "failed to store payload")
	}

	// The collector deletes under the same key. Registering restarts the
	// grace period; a file it removed before we got here is written again.
	err = lock.Do(ctx, s.locker, lock.Keys.Blob(hash), payloadLockTTL, func(ctx context.Context) error {
		if err := s.blobRepo.Register(ctx, hash, size); err != nil {
			return err
		}
		exists, err := s.storage.Exists(ctx, hash)
		if err != nil || exists {
			return err
		}
		s.logger.Warn().Str("content_hash", hash).Msg("payload collected during upload, storing again")
		_, err = s.storage.Store(ctx, bytes.NewReader(a.Data), size)
		return err
	})
	if err != nil {
		return "", s.internal(err, "failed to register payload")
	}

	a.ContentHash = hash
	a.Size = size
	a.Data = nil
	return hash, nil
}

// =============================================================================
// Show, update, delete
// =============================================================================

// Get returns a post of content type ct with its content loaded.
func (s *PostService) Get(ctx context.Context, actor domain.Actor, ct *domain.ContentType, id int64) (*domain.Post, error) {
	post, err := s.find(ctx, ct, id)
	if err != nil {
		return nil, err
	}
	if err := s.check(actor, ct, auth.ActionShow, post); err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, ct, []*domain.Post{post}); err != nil {
		return nil, err
	}
	if post.Content == nil {
		return nil, domain.ErrContentNotFound
	}
	return post, nil
}

func (s *PostService) find(ctx context.Context, ct *domain.ContentType, id int64) (*domain.Post, error) {
	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			return nil, err
		}
		return nil, s.internal(err, "failed to get post")
	}
	if post.ContentType != ct.Name {
		return nil, domain.ErrPostNotFound
	}
	return post, nil
}

// UpdatePostInput holds post attributes to change. Nil fields are kept.
type UpdatePostInput struct {
	Title       *string
	Description *string
	PublicRead  *bool
	CategoryIDs []int64
}

// Update changes post attributes. The content reference never changes and
// the update timestamp only moves forward.
func (s *PostService) Update(ctx context.Context, actor domain.Actor, ct *domain.ContentType, id int64, input UpdatePostInput) (*domain.Post, error) {
	post, err := s.find(ctx, ct, id)
	if err != nil {
		return nil, err
	}
	if err := s.check(actor, ct, auth.ActionUpdate, post); err != nil {
		return nil, err
	}

	if input.Title != nil {
		post.Title = *input.Title
	}
	if input.Description != nil {
		post.Description = *input.Description
	}
	if input.PublicRead != nil {
		post.PublicRead = *input.PublicRead
	}
	if input.CategoryIDs != nil {
		post.CategoryIDs = input.CategoryIDs
	}
	post.Touch(domain.Now())

	if err := post.Validate(); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.postRepo.Update(ctx, post); err != nil {
			return err
		}
		if post.ContainerID != nil {
			return s.containers.repo.Touch(ctx, *post.ContainerID, post.UpdatedAt)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, s.internal(err, "failed to update post")
	}
	if post.ContainerID != nil {
		s.containers.invalidate(ctx, *post.ContainerID)
	}

	if err := s.hydrate(ctx, ct, []*domain.Post{post}); err != nil {
		return nil, err
	}
	s.logger.Info().Int64("post_id", post.ID).Msg("post updated")
	return post, nil
}

// Delete removes a post and its content, releasing the payload reference.
func (s *PostService) Delete(ctx context.Context, actor domain.Actor, ct *domain.ContentType, id int64) error {
	post, err := s.find(ctx, ct, id)
	if err != nil {
		return err
	}
	if err := s.check(actor, ct, auth.ActionDestroy, post); err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.deletePost(ctx, post); err != nil {
			return err
		}
		if post.ContainerID != nil {
			return s.containers.repo.Touch(ctx, *post.ContainerID, domain.Now())
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return s.internal(err, "failed to delete post")
	}
	if post.ContainerID != nil {
		s.containers.invalidate(ctx, *post.ContainerID)
	}

	s.logger.Info().Int64("post_id", post.ID).Str("content_type", ct.Name).Msg("post deleted")
	return nil
}

// deletePost must run inside a transaction.
func (s *PostService) deletePost(ctx context.Context, post *domain.Post) error {
	if err := s.postRepo.Delete(ctx, post.ID); err != nil {
		return err
	}

	ct, ok := s.registry.Lookup(post.ContentType)
	if !ok {
		s.logger.Warn().Int64("post_id", post.ID).Str("content_type", post.ContentType).
			Msg("content type no longer registered, content row kept")
		return nil
	}

	content, err := s.contentRepo.GetByID(ctx, ct, post.ContentID)
	if err != nil {
		if errors.Is(err, domain.ErrContentNotFound) {
			return nil
		}
		return err
	}
	if err := s.contentRepo.Delete(ctx, ct, post.ContentID); err != nil {
		return err
	}

	if att, ok := content.(domain.AttachmentContent); ok {
		if _, err := s.blobRepo.DecrementRef(ctx, att.Payload().ContentHash); err != nil && !errors.Is(err, domain.ErrBlobNotFound) {
			return err
		}
	}
	return nil
}

// purge deletes every post matching filter. Must run inside a transaction.
func (s *PostService) purge(ctx context.Context, filter repository.PostFilter) error {
	posts, err := s.postRepo.ListAll(ctx, filter)
	if err != nil {
		return err
	}
	for _, post := range posts {
		if err := s.deletePost(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

// purgeAgent deletes the agent's posts and every post inside containers
// the agent owns. Must run inside a transaction.
func (s *PostService) purgeAgent(ctx context.Context, agentID int64) error {
	owned, err := s.containers.repo.List(ctx, agentID)
	if err != nil {
		return err
	}
	for _, c := range owned {
		if err := s.purge(ctx, repository.PostFilter{ContainerID: c.ID}); err != nil {
			return err
		}
	}
	return s.purge(ctx, repository.PostFilter{AgentID: agentID})
}

// OpenPayload streams the stored bytes of an attachment. It implements
// negotiate.PayloadOpener.
func (s *PostService) OpenPayload(ctx context.Context, content domain.Content) (io.ReadCloser, int64, error) {
	att, ok := content.(domain.AttachmentContent)
	if !ok {
		return nil, 0, domain.NewDomainError(domain.ErrNotAcceptable, "content has no payload", content.Base().Type)
	}
	a := att.Payload()
	if a.ContentHash == "" {
		return io.NopCloser(bytes.NewReader(a.Data)), int64(len(a.Data)), nil
	}

	r, err := s.storage.Retrieve(ctx, a.ContentHash)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, 0, domain.ErrBlobNotFound
		}
		return nil, 0, s.internal(err, "failed to open payload")
	}
	return r, a.Size, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

const containerCacheTTL = 5 * time.Minute

// containerStore reads containers through the cache. Both the container
// and the post services write through it so a touch or update evicts the
// cached copy.
type containerStore struct {
	repo   repository.ContainerRepository
	cache  repository.Cache
	logger zerolog.Logger
}

func (c *containerStore) get(ctx context.Context, id int64) (*domain.Container, error) {
	key := repository.CacheKeys.Container(id)
	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			var cached domain.Container
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	container, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if data, err := json.Marshal(container); err == nil {
			if err := c.cache.Set(ctx, key, data, containerCacheTTL); err != nil {
				c.logger.Debug().Err(err).Int64("container_id", id).Msg("failed to cache container")
			}
		}
	}
	return container, nil
}

func (c *containerStore) invalidate(ctx context.Context, id int64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, repository.CacheKeys.Container(id)); err != nil {
		c.logger.Warn().Err(err).Int64("container_id", id).Msg("failed to evict cached container")
	}
}

// ContainerService manages containers.
type ContainerService struct {
	containers *containerStore
	registry   *domain.Registry
	posts      *PostService
	gate       *auth.Gate
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewContainerService creates a new ContainerService. posts is used to
// tear down a container's posts on delete.
func NewContainerService(
	containerRepo repository.ContainerRepository,
	cache repository.Cache,
	registry *domain.Registry,
	posts *PostService,
	gate *auth.Gate,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *ContainerService {
	logger = logger.With().Str("service", "container").Logger()
	return &ContainerService{
		containers: &containerStore{repo: containerRepo, cache: cache, logger: logger},
		registry:   registry,
		posts:      posts,
		gate:       gate,
		metrics:    m,
		logger:     logger,
	}
}

func (s *ContainerService) check(actor domain.Actor, action auth.Action, inst auth.Instance) error {
	if err := s.gate.Check(actor, auth.ResourceContainers, action, inst); err != nil {
		s.metrics.Denied(string(auth.ResourceContainers), string(action))
		return err
	}
	return nil
}

// CreateContainerInput contains the data needed to create a container.
type CreateContainerInput struct {
	Type                 string
	Name                 string
	AcceptedContentTypes []string

	// PublicRead defaults to true.
	PublicRead *bool
}

// Create creates a container owned by the actor.
func (s *ContainerService) Create(ctx context.Context, actor domain.Actor, input CreateContainerInput) (*domain.Container, error) {
	if err := s.check(actor, auth.ActionCreate, nil); err != nil {
		return nil, err
	}

	container := domain.NewContainer(actor.AgentID(), strings.TrimSpace(input.Type), strings.TrimSpace(input.Name))
	container.AcceptedContentTypes = input.AcceptedContentTypes
	if input.PublicRead != nil {
		container.PublicRead = *input.PublicRead
	}
	if err := container.Validate(s.registry); err != nil {
		return nil, err
	}

	if err := s.containers.repo.Create(ctx, container); err != nil {
		if errors.Is(err, domain.ErrContainerAlreadyExists) {
			verr := domain.NewValidationError(domain.TargetContainer)
			verr.Add("name", "has already been taken")
			return nil, verr
		}
		s.logger.Error().Err(err).Str("name", container.Name).Msg("failed to create container")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("container_id", container.ID).
		Int64("owner_id", container.OwnerID).
		Str("type", container.Type).
		Str("name", container.Name).
		Msg("container created")

	return container, nil
}

// Get returns a container the actor may see.
func (s *ContainerService) Get(ctx context.Context, actor domain.Actor, id int64) (*domain.Container, error) {
	container, err := s.containers.get(ctx, id)
	if err != nil {
		return nil, s.wrap(err, id)
	}
	if err := s.check(actor, auth.ActionShow, container); err != nil {
		return nil, err
	}
	return container, nil
}

// List returns the containers of ownerID, or every container when ownerID
// is 0. Containers the actor may not see are left out.
func (s *ContainerService) List(ctx context.Context, actor domain.Actor, ownerID int64) ([]*domain.Container, error) {
	if err := s.check(actor, auth.ActionIndex, nil); err != nil {
		return nil, err
	}

	all, err := s.containers.repo.List(ctx, ownerID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list containers")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	visible := make([]*domain.Container, 0, len(all))
	for _, c := range all {
		if s.gate.Authorize(actor, auth.ResourceContainers, auth.ActionShow, c) {
			visible = append(visible, c)
		}
	}
	return visible, nil
}

// UpdateContainerInput holds the attributes to change. Nil fields are kept.
type UpdateContainerInput struct {
	Name                 *string
	AcceptedContentTypes []string
	PublicRead           *bool
}

// Update changes container attributes.
func (s *ContainerService) Update(ctx context.Context, actor domain.Actor, id int64, input UpdateContainerInput) (*domain.Container, error) {
	container, err := s.containers.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, id)
	}
	if err := s.check(actor, auth.ActionUpdate, container); err != nil {
		return nil, err
	}

	if input.Name != nil {
		container.Name = strings.TrimSpace(*input.Name)
	}
	if input.AcceptedContentTypes != nil {
		container.AcceptedContentTypes = input.AcceptedContentTypes
	}
	if input.PublicRead != nil {
		container.PublicRead = *input.PublicRead
	}
	if err := container.Validate(s.registry); err != nil {
		return nil, err
	}

	if err := s.containers.repo.Update(ctx, container); err != nil {
		if errors.Is(err, domain.ErrContainerAlreadyExists) {
			verr := domain.NewValidationError(domain.TargetContainer)
			verr.Add("name", "has already been taken")
			return nil, verr
		}
		return nil, s.wrap(err, id)
	}
	s.containers.invalidate(ctx, id)

	s.logger.Info().Int64("container_id", id).Msg("container updated")
	return container, nil
}

// Delete removes a container with every post inside it.
func (s *ContainerService) Delete(ctx context.Context, actor domain.Actor, id int64) error {
	container, err := s.containers.repo.GetByID(ctx, id)
	if err != nil {
		return s.wrap(err, id)
	}
	if err := s.check(actor, auth.ActionDestroy, container); err != nil {
		return err
	}

	err = s.posts.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.posts.purge(ctx, repository.PostFilter{ContainerID: id}); err != nil {
			return err
		}
		return s.containers.repo.Delete(ctx, id)
	})
	if err != nil {
		return s.wrap(err, id)
	}
	s.containers.invalidate(ctx, id)

	s.logger.Info().Int64("container_id", id).Msg("container deleted")
	return nil
}

// Writable returns the containers the actor can post to, with the content
// types each accepts.
func (s *ContainerService) Writable(ctx context.Context, actor domain.Actor) ([]*domain.Container, error) {
	if !actor.IsAuthenticated() {
		return nil, nil
	}
	owned, err := s.containers.repo.List(ctx, actor.AgentID())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list containers")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return owned, nil
}

func (s *ContainerService) wrap(err error, id int64) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	s.logger.Error().Err(err).Int64("container_id", id).Msg("container operation failed")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/cache/memory"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/notify"
	"github.com/prn-tf/alexander-cms/internal/repository"
	"github.com/prn-tf/alexander-cms/internal/repository/sqlite"
	"github.com/prn-tf/alexander-cms/internal/storage/filesystem"
)

// MockNotifier is a mock implementation of notify.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, agent *domain.Agent, kind notify.Kind, payload map[string]string) error {
	args := m.Called(ctx, agent, kind, payload)
	return args.Error(0)
}

type testEnv struct {
	db         *sqlite.DB
	repos      *repository.Repositories
	registry   *domain.Registry
	storage    *filesystem.Backend
	notifier   *MockNotifier
	locker     *lock.MemoryLocker
	metrics    *metrics.Metrics
	posts      *PostService
	containers *ContainerService
	agents     *AgentService
	gc         *GarbageCollector
}

type envOption func(*AgentOptions)

func withoutActivation() envOption {
	return func(o *AgentOptions) { o.Activation = false }
}

func withResetLimit(n int) envOption {
	return func(o *AgentOptions) {
		o.ResetRequestLimit = n
		o.ResetRequestWindow = time.Hour
	}
}

func newTestEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	dir := t.TempDir()
	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(filepath.Join(dir, "cms.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	backend, err := filesystem.New(filesystem.Config{DataDir: filepath.Join(dir, "blobs")}, logger)
	require.NoError(t, err)

	cache := memory.NewCache()
	t.Cleanup(cache.Stop)
	locker := lock.NewMemoryLocker()
	t.Cleanup(locker.Close)

	opts := AgentOptions{
		Activation: true,
		AuthModes:  []domain.AuthMode{domain.AuthLoginAndPassword},
		BcryptCost: bcrypt.MinCost,
	}
	for _, o := range options {
		o(&opts)
	}

	registry := domain.DefaultRegistry()
	gate := auth.NewGate(auth.GateOptions{Activation: opts.Activation, AuthModes: opts.AuthModes}, registry)
	m := metrics.New()
	notifier := new(MockNotifier)
	repos := db.Repositories()

	posts := NewPostService(repos, cache, registry, backend, locker, gate, m, logger)
	gcConfig := DefaultGCConfig()
	gcConfig.GracePeriod = -time.Second

	return &testEnv{
		db:         db,
		repos:      repos,
		registry:   registry,
		storage:    backend,
		notifier:   notifier,
		locker:     locker,
		metrics:    m,
		posts:      posts,
		containers: NewContainerService(repos.Container, cache, registry, posts, gate, m, logger),
		agents:     NewAgentService(repos.Agent, posts, gate, locker, cache, notifier, m, opts, logger),
		gc:         NewGarbageCollector(repos.Blob, backend, locker, m, logger, gcConfig),
	}
}

// activeAgent signs up login and activates it directly in the store.
func (e *testEnv) activeAgent(t *testing.T, login string) domain.Actor {
	t.Helper()
	ctx := context.Background()

	e.notifier.On("Send", mock.Anything, mock.Anything, notify.KindActivation, mock.Anything).Return(nil).Maybe()
	out, err := e.agents.Signup(ctx, domain.Anonymous(), SignupInput{
		Login:                login,
		Email:                login + "@example.com",
		Password:             "secret123",
		PasswordConfirmation: "secret123",
	})
	require.NoError(t, err)

	agent := out.Agent
	if out.ActivationRequired {
		agent, err = e.repos.Agent.Activate(ctx, *out.Agent.ActivationCode, time.Now())
		require.NoError(t, err)
	}
	return domain.ActorFor(agent, domain.AuthLoginAndPassword)
}

func (e *testEnv) container(t *testing.T, actor domain.Actor, typ, name string) *domain.Container {
	t.Helper()
	c, err := e.containers.Create(context.Background(), actor, CreateContainerInput{Type: typ, Name: name})
	require.NoError(t, err)
	return c
}

func (e *testEnv) contentType(t *testing.T, name string) *domain.ContentType {
	t.Helper()
	ct, err := e.registry.Resolve(name)
	require.NoError(t, err)
	return ct
}

func (e *testEnv) article(t *testing.T, actor domain.Actor, containerID *int64, title string, public bool) *domain.Post {
	t.Helper()
	post, err := e.posts.Create(context.Background(), actor, CreatePostInput{
		ContainerID: containerID,
		ContentType: e.contentType(t, "article"),
		Content:     domain.ContentAttributes{Title: title, Body: "body of " + title},
		Post:        domain.PostAttributes{PublicRead: public},
	})
	require.NoError(t, err)
	return post
}

// pngBytes is a 1x1 transparent PNG.
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

func int64Ptr(v int64) *int64 { return &v }

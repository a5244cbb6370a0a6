// Package app assembles the CMS from configuration: database, payload
// storage, cache, locks, services and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-cms/internal/auth"
	"github.com/prn-tf/alexander-cms/internal/cache/memory"
	"github.com/prn-tf/alexander-cms/internal/cache/redis"
	"github.com/prn-tf/alexander-cms/internal/config"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/handler"
	"github.com/prn-tf/alexander-cms/internal/lock"
	"github.com/prn-tf/alexander-cms/internal/metrics"
	"github.com/prn-tf/alexander-cms/internal/negotiate"
	"github.com/prn-tf/alexander-cms/internal/notify"
	"github.com/prn-tf/alexander-cms/internal/repository"
	"github.com/prn-tf/alexander-cms/internal/repository/postgres"
	"github.com/prn-tf/alexander-cms/internal/repository/sqlite"
	"github.com/prn-tf/alexander-cms/internal/service"
	"github.com/prn-tf/alexander-cms/internal/storage"
	"github.com/prn-tf/alexander-cms/internal/storage/filesystem"
	"github.com/prn-tf/alexander-cms/internal/storage/s3"
)

// Options tweak how the application is assembled.
type Options struct {
	// SingleProcess skips cross-request locking when Redis is disabled.
	// The admin tool runs alone against the store and sets it.
	SingleProcess bool

	// SkipMigrations leaves the schema untouched on startup.
	SkipMigrations bool
}

// App holds every assembled component.
type App struct {
	Config *config.Config

	Repos      *repository.Repositories
	Storage    storage.Backend
	Cache      repository.Cache
	Locker     lock.Locker
	Notifier   notify.Notifier
	Registry   *domain.Registry
	Gate       *auth.Gate
	Metrics    *metrics.Metrics
	Negotiator *negotiate.Negotiator

	Agents     *service.AgentService
	Containers *service.ContainerService
	Posts      *service.PostService
	GC         *service.GarbageCollector

	sqliteDB   *sqlite.DB
	postgresDB *postgres.DB
	redis      *goredis.Client
	logger     zerolog.Logger
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	var closer io.Closer = io.NopCloser(nil)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log output: %w", err)
		}
		out, closer = f, f
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	} else {
		zerolog.TimeFieldFormat = timeFormat
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// New assembles the application. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if err := a.open(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	modes := make([]domain.AuthMode, 0, len(cfg.Auth.Authentication))
	for _, m := range cfg.Auth.Authentication {
		modes = append(modes, domain.AuthMode(m))
	}
	a.Gate = auth.NewGate(auth.GateOptions{Activation: cfg.Auth.Activation, AuthModes: modes}, a.Registry)

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	a.Posts = service.NewPostService(a.Repos, a.Cache, a.Registry, a.Storage, a.Locker, a.Gate, a.Metrics, logger)
	a.Containers = service.NewContainerService(a.Repos.Container, a.Cache, a.Registry, a.Posts, a.Gate, a.Metrics, logger)
	a.Agents = service.NewAgentService(a.Repos.Agent, a.Posts, a.Gate, a.Locker, a.Cache, a.Notifier, a.Metrics, service.AgentOptions{
		Activation:         cfg.Auth.Activation,
		AuthModes:          modes,
		MinPasswordLength:  cfg.Auth.MinPasswordLength,
		BcryptCost:         cfg.Auth.BcryptCost,
		ResetRequestLimit:  cfg.Auth.ResetRequestLimit,
		ResetRequestWindow: cfg.Auth.ResetRequestWindow,
	}, logger)
	a.Negotiator = negotiate.New(a.Registry, a.Posts, cfg.Server.BaseURL)

	gcConfig := service.DefaultGCConfig()
	gcConfig.Enabled = cfg.GC.Enabled
	if cfg.GC.Interval > 0 {
		gcConfig.Interval = cfg.GC.Interval
	}
	if cfg.GC.GracePeriod > 0 {
		gcConfig.GracePeriod = cfg.GC.GracePeriod
	}
	if cfg.GC.BatchSize > 0 {
		gcConfig.BatchSize = cfg.GC.BatchSize
	}
	gcConfig.DryRun = cfg.GC.DryRun
	a.GC = service.NewGarbageCollector(a.Repos.Blob, a.Storage, a.Locker, a.Metrics, logger, gcConfig)

	return a, nil
}

func (a *App) open(ctx context.Context, opts Options) error {
	if err := a.openDatabase(ctx, opts); err != nil {
		return err
	}
	if err := a.openStorage(ctx); err != nil {
		return err
	}
	if err := a.openCache(ctx, opts); err != nil {
		return err
	}

	a.Registry = domain.DefaultRegistry()
	return ApplyContentTypes(a.Registry, a.Config.ContentTypes)
}

func (a *App) openDatabase(ctx context.Context, opts Options) error {
	dbCfg := a.Config.Database
	switch dbCfg.Driver {
	case "sqlite":
		sc := sqlite.DefaultConfig(dbCfg.Path)
		if dbCfg.JournalMode != "" {
			sc.JournalMode = dbCfg.JournalMode
		}
		if dbCfg.BusyTimeout > 0 {
			sc.BusyTimeout = dbCfg.BusyTimeout
		}
		if dbCfg.CacheSize != 0 {
			sc.CacheSize = dbCfg.CacheSize
		}
		if dbCfg.SynchronousMode != "" {
			sc.SynchronousMode = dbCfg.SynchronousMode
		}
		db, err := sqlite.NewDB(ctx, sc, a.logger)
		if err != nil {
			return err
		}
		a.sqliteDB = db
		a.Repos = db.Repositories()
	case "postgres":
		db, err := postgres.NewDB(ctx, dbCfg, a.logger)
		if err != nil {
			return err
		}
		a.postgresDB = db
		a.Repos = db.Repositories()
	default:
		return fmt.Errorf("unknown database driver %q", dbCfg.Driver)
	}

	if opts.SkipMigrations {
		return nil
	}
	return a.Migrate(ctx)
}

func (a *App) openStorage(ctx context.Context) error {
	sc := a.Config.Storage
	switch sc.Backend {
	case "", "filesystem":
		backend, err := filesystem.New(filesystem.Config{DataDir: sc.DataDir, TempDir: sc.TempDir}, a.logger)
		if err != nil {
			return err
		}
		a.Storage = backend
	case "s3":
		s3cfg := s3.Config{
			Endpoint:        sc.S3.Endpoint,
			Region:          sc.S3.Region,
			Bucket:          sc.S3.Bucket,
			Prefix:          sc.S3.Prefix,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
			UsePathStyle:    sc.S3.UsePathStyle,
		}
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return err
		}
		a.Storage = s3.New(client, s3cfg, a.logger)
	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	return nil
}

func (a *App) openCache(ctx context.Context, opts Options) error {
	rc := a.Config.Redis
	if rc.Enabled {
		client, err := redis.NewClient(ctx, redis.Config{Addr: rc.Addr(), Password: rc.Password, DB: rc.DB})
		if err != nil {
			return err
		}
		a.redis = client
		a.Cache = redis.NewCache(client, rc.KeyPrefix)
		a.Locker = lock.NewRedisLocker(redis.NewLock(client, rc.KeyPrefix))
	} else {
		a.Cache = memory.NewCache()
		if opts.SingleProcess {
			a.Locker = lock.NewNoOpLocker()
		} else {
			a.Locker = lock.NewMemoryLocker()
		}
	}

	switch a.Config.Notify.Driver {
	case "", "log":
		a.Notifier = notify.NewLogNotifier(a.logger)
	case "redis":
		if a.redis == nil {
			return errors.New("notify.driver redis requires redis.enabled")
		}
		a.Notifier = notify.NewRedisNotifier(a.redis, a.Config.Notify.Queue)
	default:
		return fmt.Errorf("unknown notify driver %q", a.Config.Notify.Driver)
	}
	return nil
}

// ApplyContentTypes adjusts registered content types from configuration.
func ApplyContentTypes(registry *domain.Registry, overrides map[string]config.ContentTypeOverride) error {
	for name, o := range overrides {
		ct, ok := registry.Lookup(name)
		if !ok {
			return fmt.Errorf("content_types.%s: unknown content type", name)
		}
		if o.PerPage > 0 {
			ct.PerPage = o.PerPage
		}
		switch domain.Disposition(o.Disposition) {
		case "":
		case domain.DispositionInline, domain.DispositionAttachment:
			ct.Disposition = domain.Disposition(o.Disposition)
		default:
			return fmt.Errorf("content_types.%s: unknown disposition %q", name, o.Disposition)
		}
	}
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	switch {
	case a.sqliteDB != nil:
		return a.sqliteDB.Migrate(ctx)
	case a.postgresDB != nil:
		return a.postgresDB.Migrate()
	}
	return errors.New("no database open")
}

// MigrationVersion reports the applied schema version and whether the
// last migration stopped halfway.
func (a *App) MigrationVersion(ctx context.Context) (uint, bool, error) {
	switch {
	case a.sqliteDB != nil:
		v, err := a.sqliteDB.MigrationVersion(ctx)
		return uint(v), false, err
	case a.postgresDB != nil:
		return a.postgresDB.MigrationVersion()
	}
	return 0, false, errors.New("no database open")
}

// Health checks the database.
func (a *App) Health(ctx context.Context) error {
	switch {
	case a.sqliteDB != nil:
		return a.sqliteDB.Health(ctx)
	case a.postgresDB != nil:
		return a.postgresDB.Health(ctx)
	}
	return errors.New("no database open")
}

// Handler builds the HTTP handler over the assembled services.
func (a *App) Handler() *handler.Router {
	authConfig := auth.DefaultConfig()
	if a.Config.Auth.Realm != "" {
		authConfig.Realm = a.Config.Auth.Realm
	}
	metricsPath := a.Config.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	authConfig.SkipPaths = []string{"/health", metricsPath}

	return handler.NewRouter(handler.RouterConfig{
		Agents:      a.Agents,
		Containers:  a.Containers,
		Posts:       a.Posts,
		Negotiator:  a.Negotiator,
		AuthConfig:  authConfig,
		Metrics:     a.Metrics,
		MetricsPath: metricsPath,
		MaxBodySize: a.Config.Server.MaxBodySize,
		Health:      a,
		Logger:      a.logger,
	})
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close redis client")
		}
		a.redis = nil
	}
	if a.sqliteDB != nil {
		if err := a.sqliteDB.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close database")
		}
		a.sqliteDB = nil
	}
	if a.postgresDB != nil {
		_ = a.postgresDB.Close()
		a.postgresDB = nil
	}
}

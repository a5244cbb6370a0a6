package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/config"
	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/lock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{BaseURL: "http://cms.test"},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "cms.db"),
		},
		Storage: config.StorageConfig{
			Backend: "filesystem",
			DataDir: filepath.Join(dir, "data"),
			TempDir: filepath.Join(dir, "tmp"),
		},
		Auth: config.AuthConfig{
			Authentication:    []string{"login_and_password"},
			MinPasswordLength: 6,
			BcryptCost:        4,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/internal/metrics"},
		ContentTypes: map[string]config.ContentTypeOverride{
			"photo": {PerPage: 5, Disposition: "attachment"},
		},
	}
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Health(ctx))

	version, dirty, err := a.MigrationVersion(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Greater(t, version, uint(0))

	photo, ok := a.Registry.Lookup("photo")
	require.True(t, ok)
	assert.Equal(t, 5, photo.PerPage)
	assert.Equal(t, domain.DispositionAttachment, photo.Disposition)

	_, isMemory := a.Locker.(*lock.MemoryLocker)
	assert.True(t, isMemory)

	srv := httptest.NewServer(a.Handler().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/internal/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_SingleProcessLocking(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop(), Options{SingleProcess: true})
	require.NoError(t, err)
	defer a.Close()

	_, isNoop := a.Locker.(*lock.NoOpLocker)
	assert.True(t, isNoop)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown driver", func(c *config.Config) { c.Database.Driver = "oracle" }},
		{"unknown storage", func(c *config.Config) { c.Storage.Backend = "tape" }},
		{"redis notifier without redis", func(c *config.Config) { c.Notify.Driver = "redis" }},
		{"unknown content type", func(c *config.Config) {
			c.ContentTypes = map[string]config.ContentTypeOverride{"video": {PerPage: 3}}
		}},
		{"bad disposition", func(c *config.Config) {
			c.ContentTypes = map[string]config.ContentTypeOverride{"photo": {Disposition: "download"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, zerolog.Nop(), Options{})
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cms.log")
	logger, closer, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Debug().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"message":"hello"`)

	logger, _, err = NewLogger(config.LoggingConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

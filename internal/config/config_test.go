package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sqliteConfig = `
server:
  port: 9000
database:
  driver: sqlite
  path: /tmp/cms.db
storage:
  backend: filesystem
  data_dir: /tmp/cms-data
logging:
  level: warn
`

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("host", "", "")
	fs.Int("port", 0, "")
	fs.String("log-level", "", "")
	return fs
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, sqliteConfig))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "log", cfg.Notify.Driver)
	assert.Equal(t, []string{"login_and_password"}, cfg.Auth.Authentication)
}

func TestLoadWithFlags_SetFlagsWin(t *testing.T) {
	path := writeFile(t, sqliteConfig)
	t.Setenv("ALEXANDER_SERVER_HOST", "10.0.0.1")

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--port", "9100", "--log-level", "debug"}))

	cfg, err := LoadWithFlags(path, fs)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "10.0.0.1", cfg.Server.Host, "unset flag leaves the environment in charge")

	require.NoError(t, fs.Parse([]string{"--host", "127.0.0.1"}))
	cfg, err = LoadWithFlags(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadWithFlags_UnsetFlagsKeepFile(t *testing.T) {
	cfg, err := LoadWithFlags(writeFile(t, sqliteConfig), newFlags())
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad driver", "database:\n  driver: oracle\n", "database.driver"},
		{"sqlite without path", "database:\n  driver: sqlite\n  path: ''\n", "database.path"},
		{"redis notifier without redis", sqliteConfig + "notify:\n  driver: redis\n", "redis.enabled"},
		{"bad disposition", sqliteConfig + "content_types:\n  photo:\n    disposition: download\n", "disposition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
database:
  driver: sqlite
  path: %s
storage:
  backend: filesystem
  data_dir: %s
  temp_dir: %s
auth:
  activation: false
  bcrypt_cost: 4
metrics:
  enabled: false
`, filepath.Join(dir, "cms.db"), filepath.Join(dir, "data"), filepath.Join(dir, "tmp"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAgentCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "agents", "create", "-c", cfg,
		"--login", "quentin", "--email", "quentin@example.com", "--password", "secret123", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "created agent 1 (quentin)")

	out, err = execute(t, "agents", "list", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "quentin@example.com")
	assert.Contains(t, out, "1 of 1 agents")

	out, err = execute(t, "agents", "create", "-c", cfg, "--login", "x", "--email", "nope", "--password", "1")
	require.Error(t, err)
	assert.Contains(t, out, "email")

	out, err = execute(t, "agents", "delete", "-c", cfg, "quentin")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted agent 1")

	_, err = execute(t, "agents", "delete", "-c", cfg, "quentin")
	assert.Error(t, err)
}

func TestMigrateAndGCCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "migrate", "status", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 0")

	out, err = execute(t, "migrate", "up", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 1")

	out, err = execute(t, "gc", "stats", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "orphans: 0")

	out, err = execute(t, "gc", "run", "--dry-run", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 blobs")

	out, err = execute(t, "containers", "list", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "OWNER")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "alexander-cms-admin dev")
}

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

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "alexander-cms-server dev")
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "missing file",
			args: []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")},
			want: "error reading config file",
		},
		{
			name: "flag fails validation",
			args: []string{"-c", writeConfig(t), "--log-level", "chatty"},
			want: "logging.level",
		},
		{
			name: "unexpected argument",
			args: []string{"serve"},
			want: "unknown command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, out+err.Error(), tt.want)
		})
	}
}

func TestRootCmd_Flags(t *testing.T) {
	flags := NewRootCmd().Flags()
	for _, name := range []string{"config", "host", "port", "base-url", "log-level", "log-format"} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
	assert.Equal(t, "c", flags.Lookup("config").Shorthand)
}

package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testHash = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

func TestComputePath(t *testing.T) {
	got := ComputePath(DefaultPathConfig("/data"), testHash)
	assert.Equal(t, filepath.Join("/data", "ab", "cd", testHash), got)
}

func TestComputePath_ShortHash(t *testing.T) {
	got := ComputePath(DefaultPathConfig("/data"), "abc")
	assert.Equal(t, filepath.Join("/data", "abc"), got)
}

func TestComputeKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{"with prefix", "blobs", "blobs/ab/cd/" + testHash},
		{"without prefix", "", "ab/cd/" + testHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeKey(DefaultPathConfig(tt.prefix), testHash))
		})
	}
}

func TestGetShardPath(t *testing.T) {
	cfg := DefaultPathConfig("/data")
	assert.Equal(t, []string{"ab", "cd"}, GetShardDirs(cfg, testHash))
	assert.Equal(t, filepath.Join("/data", "ab", "cd"), GetShardPath(cfg, testHash))
	assert.Equal(t, "/data", GetShardPath(cfg, "a"))
}

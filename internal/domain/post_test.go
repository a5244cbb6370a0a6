package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPost_StoresAtTimestampPrecision(t *testing.T) {
	post := NewPost(1, nil, nil, PostAttributes{Title: "t"})

	assert.Equal(t, post.CreatedAt, post.UpdatedAt)
	assert.Equal(t, post.UpdatedAt, post.UpdatedAt.Truncate(TimestampPrecision))
	assert.Equal(t, time.UTC, post.UpdatedAt.Location())

	for _, stamp := range []time.Time{
		NewAgent("a", "a@example.com").UpdatedAt,
		NewContainer(1, "blog", "b").UpdatedAt,
		NewBlob("h", 1).CreatedAt,
	} {
		assert.Zero(t, stamp.Nanosecond()%int(TimestampPrecision))
	}
}

func TestPost_Touch(t *testing.T) {
	post := NewPost(1, nil, nil, PostAttributes{Title: "t"})
	start := post.UpdatedAt

	post.Touch(start.Add(-time.Hour))
	assert.Equal(t, start, post.UpdatedAt)

	later := start.Add(time.Second + 999*time.Nanosecond)
	post.Touch(later)
	assert.Equal(t, start.Add(time.Second), post.UpdatedAt)
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_StoredIn(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"article", "bookmark"}, r.StoredIn("contents"))
	assert.Equal(t, []string{"document", "photo"}, r.StoredIn("attachments"))
	assert.Empty(t, r.StoredIn("videos"))
}

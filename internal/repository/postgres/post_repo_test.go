package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

func TestListClause(t *testing.T) {
	registry := domain.DefaultRegistry()
	article, _ := registry.Lookup("article")
	photo, _ := registry.Lookup("photo")
	containerID := int64(7)

	tests := []struct {
		name     string
		query    repository.PostQuery
		wantFrom string
		wantCond string
		wantArgs []any
	}{
		{
			name: "discriminator in container",
			query: repository.PostQuery{
				ContentType: article,
				Scope:       repository.PostScope{ContainerID: &containerID},
				TableTypes:  registry.StoredIn(article.Table),
			},
			wantFrom: ` FROM posts p LEFT JOIN contents c ON c.id = p.content_id`,
			wantCond: ` WHERE c.type = $1 AND p.content_type = ANY($2) AND p.container_id = $3`,
			wantArgs: []any{"article", []string{"article", "bookmark"}, int64(7)},
		},
		{
			name:     "discriminator without table types",
			query:    repository.PostQuery{ContentType: article},
			wantFrom: ` FROM posts p LEFT JOIN contents c ON c.id = p.content_id`,
			wantCond: ` WHERE c.type = $1 AND p.content_type = ANY($2) AND p.container_id IS NULL AND p.public_read`,
			wantArgs: []any{"article", []string{"article"}},
		},
		{
			name:     "marker on public feed",
			query:    repository.PostQuery{ContentType: photo},
			wantFrom: ` FROM posts p LEFT JOIN attachments c ON c.id = p.content_id AND c.type = p.content_type`,
			wantCond: ` WHERE p.content_type = $1 AND p.container_id IS NULL AND p.public_read`,
			wantArgs: []any{"photo"},
		},
		{
			name: "forced marker in container",
			query: repository.PostQuery{
				ContentType: article,
				Scope:       repository.PostScope{ContainerID: &containerID},
				Filter:      repository.FilterMarker,
			},
			wantFrom: ` FROM posts p LEFT JOIN contents c ON c.id = p.content_id AND c.type = p.content_type`,
			wantCond: ` WHERE p.content_type = $1 AND p.container_id = $2`,
			wantArgs: []any{"article", int64(7)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, cond, args, err := listClause(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, from)
			assert.Equal(t, tt.wantCond, cond)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestListClause_RequiresContentType(t *testing.T) {
	_, _, _, err := listClause(repository.PostQuery{})
	assert.Error(t, err)
}

func TestListOrder_BreaksTiesByID(t *testing.T) {
	assert.Equal(t, ` ORDER BY p.updated_at DESC, p.id DESC`, listOrder)
}

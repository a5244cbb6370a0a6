package service

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
	"github.com/prn-tf/alexander-cms/internal/repository"
)

func TestPostService_Create(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Alice's blog")

	post := env.article(t, alice, &blog.ID, "Hello", true)

	assert.NotZero(t, post.ID)
	assert.NotZero(t, post.ContentID)
	assert.Equal(t, "article", post.ContentType)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, alice.Agent.ID, post.AgentID)
	require.NotNil(t, post.ContainerID)
	assert.Equal(t, blog.ID, *post.ContainerID)

	got, err := env.posts.Get(ctx, domain.Anonymous(), env.contentType(t, "articles"), post.ID)
	require.NoError(t, err)
	article, ok := got.Content.(*domain.Article)
	require.True(t, ok)
	assert.Equal(t, "body of Hello", article.Body)
	assert.Equal(t, "alice", got.AuthorName())

	container, err := env.containers.Get(ctx, alice, blog.ID)
	require.NoError(t, err)
	assert.False(t, container.UpdatedAt.Before(post.UpdatedAt))
}

func TestPostService_Create_TimestampsMatchStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Clock")
	ct := env.contentType(t, "article")

	created := env.article(t, alice, &blog.ID, "tick", true)

	stored, err := env.posts.Get(ctx, alice, ct, created.ID)
	require.NoError(t, err)
	assert.True(t, created.UpdatedAt.Equal(stored.UpdatedAt), "created %s, stored %s", created.UpdatedAt, stored.UpdatedAt)
	assert.True(t, created.CreatedAt.Equal(stored.CreatedAt))

	page, err := env.posts.List(ctx, alice, ListPostsInput{ContainerID: &blog.ID, ContentType: ct})
	require.NoError(t, err)
	assert.True(t, created.UpdatedAt.Equal(page.Updated))

	container, err := env.containers.Get(ctx, alice, blog.ID)
	require.NoError(t, err)
	assert.True(t, created.UpdatedAt.Equal(container.UpdatedAt))

	title := "tock"
	updated, err := env.posts.Update(ctx, alice, ct, created.ID, UpdatePostInput{Title: &title})
	require.NoError(t, err)
	stored, err = env.posts.Get(ctx, alice, ct, created.ID)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.Equal(stored.UpdatedAt), "updated %s, stored %s", updated.UpdatedAt, stored.UpdatedAt)
}

func TestPostService_Create_InvalidContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	ct := env.contentType(t, "article")

	_, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContentType: ct,
		Content:     domain.ContentAttributes{Title: "no body"},
		Post:        domain.PostAttributes{PublicRead: true},
	})
	verr, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, domain.TargetContent, verr.Target)
	assert.Contains(t, verr.Fields, "body")

	n, err := env.repos.Content.Count(ctx, ct)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostService_Create_InvalidPostRollsBackContent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	gallery := env.container(t, alice, "gallery", "Shots")
	ct := env.contentType(t, "photo")

	_, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContainerID: &gallery.ID,
		ContentType: ct,
		Content: domain.ContentAttributes{
			Filename:    "dot.png",
			ContentType: "image/png",
			Data:        pngBytes,
		},
		Post: domain.PostAttributes{Title: "dot", CategoryIDs: []int64{-1}},
	})
	verr, ok := domain.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, domain.TargetPost, verr.Target)
	assert.Contains(t, verr.Fields, "category_ids")

	n, err := env.repos.Content.Count(ctx, ct)
	require.NoError(t, err)
	assert.Zero(t, n)

	posts, err := env.repos.Post.ListAll(ctx, repository.PostFilter{})
	require.NoError(t, err)
	assert.Empty(t, posts)

	// The payload stays behind unreferenced for the collector.
	orphans, err := env.repos.Blob.ListOrphans(ctx, -1, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.EqualValues(t, 0, orphans[0].RefCount)
}

func TestPostService_Create_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	bob := env.activeAgent(t, "bob")
	gallery := env.container(t, alice, "gallery", "Shots")
	blog := env.container(t, alice, "blog", "Words")

	t.Run("unsupported type", func(t *testing.T) {
		_, err := env.posts.Create(ctx, alice, CreatePostInput{
			ContainerID: &gallery.ID,
			ContentType: env.contentType(t, "bookmark"),
			Content:     domain.ContentAttributes{URL: "https://example.com"},
		})
		assert.ErrorIs(t, err, domain.ErrUnsupportedType)
	})

	t.Run("not the owner", func(t *testing.T) {
		_, err := env.posts.Create(ctx, bob, CreatePostInput{
			ContainerID: &blog.ID,
			ContentType: env.contentType(t, "article"),
			Content:     domain.ContentAttributes{Title: "intrusion", Body: "x"},
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := env.posts.Create(ctx, domain.Anonymous(), CreatePostInput{
			ContentType: env.contentType(t, "article"),
			Content:     domain.ContentAttributes{Title: "anon", Body: "x"},
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("missing container", func(t *testing.T) {
		_, err := env.posts.Create(ctx, alice, CreatePostInput{
			ContainerID: int64Ptr(9999),
			ContentType: env.contentType(t, "article"),
			Content:     domain.ContentAttributes{Title: "lost", Body: "x"},
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("wrong auth mode for documents", func(t *testing.T) {
		openid := domain.ActorFor(alice.Agent, domain.AuthOpenID)
		_, err := env.posts.Create(ctx, openid, CreatePostInput{
			ContentType: env.contentType(t, "document"),
			Content: domain.ContentAttributes{
				Filename:    "notes.txt",
				ContentType: "text/plain",
				Data:        []byte("notes"),
			},
			Post: domain.PostAttributes{Title: "notes"},
		})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestPostService_List_Paging(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Words")
	ct := env.contentType(t, "article")

	for i := 0; i < 12; i++ {
		env.article(t, alice, &blog.ID, fmt.Sprintf("post %02d", i), true)
	}

	tests := []struct {
		page  int
		count int
		first string
	}{
		{page: 0, count: 10, first: "post 11"},
		{page: 1, count: 10, first: "post 11"},
		{page: 2, count: 2, first: "post 01"},
		{page: 3, count: 0},
		{page: 1 << 40, count: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			page, err := env.posts.List(ctx, domain.Anonymous(), ListPostsInput{
				ContainerID: &blog.ID,
				ContentType: ct,
				Page:        tt.page,
			})
			require.NoError(t, err)
			assert.EqualValues(t, 12, page.Total)
			assert.Equal(t, 10, page.PerPage)
			assert.Len(t, page.Posts, tt.count)
			if tt.count > 0 {
				assert.Equal(t, tt.first, page.Posts[0].Title)
				assert.Equal(t, page.Posts[0].UpdatedAt, page.Updated)
				require.NotNil(t, page.Posts[0].Content)
			}
		})
	}
}

func TestPostService_List_EqualTimestampsPageByID(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Burst")
	ct := env.contentType(t, "article")

	for i := 0; i < 12; i++ {
		env.article(t, alice, &blog.ID, fmt.Sprintf("post %02d", i), true)
	}

	const stamp = "2026-03-01T12:00:00.000000Z"
	_, err := env.db.ExecContext(ctx, `UPDATE posts SET updated_at = ?`, stamp)
	require.NoError(t, err)

	var ids []int64
	for number := 1; number <= 2; number++ {
		page, err := env.posts.List(ctx, domain.Anonymous(), ListPostsInput{
			ContainerID: &blog.ID,
			ContentType: ct,
			Page:        number,
		})
		require.NoError(t, err)
		require.NotEmpty(t, page.Posts)
		assert.Equal(t, "2026-03-01T12:00:00Z", page.Updated.Format(time.RFC3339Nano))
		for _, post := range page.Posts {
			ids = append(ids, post.ID)
		}
	}

	require.Len(t, ids, 12)
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i-1], ids[i], "position %d", i)
	}
	assert.Equal(t, "post 11", mustTitle(t, env, ct, ids[0]))
	assert.Equal(t, "post 02", mustTitle(t, env, ct, ids[9]))
	assert.Equal(t, "post 01", mustTitle(t, env, ct, ids[10]))
}

func mustTitle(t *testing.T, env *testEnv, ct *domain.ContentType, id int64) string {
	t.Helper()
	post, err := env.posts.Get(context.Background(), domain.Anonymous(), ct, id)
	require.NoError(t, err)
	return post.Title
}

func TestPostService_List_PublicFeed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	ct := env.contentType(t, "article")

	env.article(t, alice, nil, "public", true)
	env.article(t, alice, nil, "private", false)

	page, err := env.posts.List(ctx, domain.Anonymous(), ListPostsInput{ContentType: ct, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "public", page.Posts[0].Title)
	assert.Nil(t, page.Container)

	page, err = env.posts.List(ctx, domain.Anonymous(), ListPostsInput{ContentType: ct, Page: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.False(t, page.Updated.IsZero())

	page, err = env.posts.List(ctx, domain.Anonymous(), ListPostsInput{ContentType: env.contentType(t, "photo")})
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
}

func TestPostService_List_PrivateContainer(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	bob := env.activeAgent(t, "bob")

	private := false
	diary, err := env.containers.Create(ctx, alice, CreateContainerInput{Type: "blog", Name: "Diary", PublicRead: &private})
	require.NoError(t, err)
	env.article(t, alice, &diary.ID, "secret", false)

	input := ListPostsInput{ContainerID: &diary.ID, ContentType: env.contentType(t, "article")}

	_, err = env.posts.List(ctx, bob, input)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	page, err := env.posts.List(ctx, alice, input)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)
}

func TestPostRepository_TypeFiltersAgree(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Mixed")

	env.article(t, alice, &blog.ID, "a1", true)
	env.article(t, alice, &blog.ID, "a2", true)
	_, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContainerID: &blog.ID,
		ContentType: env.contentType(t, "bookmark"),
		Content:     domain.ContentAttributes{URL: "https://example.com", Title: "b1"},
		Post:        domain.PostAttributes{PublicRead: true},
	})
	require.NoError(t, err)
	_, err = env.posts.Create(ctx, alice, CreatePostInput{
		ContainerID: &blog.ID,
		ContentType: env.contentType(t, "photo"),
		Content:     domain.ContentAttributes{Filename: "dot.png", ContentType: "image/png", Data: pngBytes, Title: "p1"},
		Post:        domain.PostAttributes{PublicRead: true},
	})
	require.NoError(t, err)

	for _, name := range []string{"article", "bookmark", "photo"} {
		t.Run(name, func(t *testing.T) {
			ct := env.contentType(t, name)
			query := repository.PostQuery{
				ContentType: ct,
				Scope:       repository.PostScope{ContainerID: &blog.ID},
				TableTypes:  env.registry.StoredIn(ct.Table),
				Limit:       10,
			}

			query.Filter = repository.FilterDiscriminator
			byType, err := env.repos.Post.List(ctx, query)
			require.NoError(t, err)

			query.Filter = repository.FilterMarker
			byMarker, err := env.repos.Post.List(ctx, query)
			require.NoError(t, err)

			assert.Equal(t, byType.Total, byMarker.Total)
			require.Len(t, byMarker.Posts, len(byType.Posts))
			for i := range byType.Posts {
				assert.Equal(t, byType.Posts[i].ID, byMarker.Posts[i].ID)
				assert.Equal(t, name, byMarker.Posts[i].ContentType)
			}
		})
	}
}

func TestPostRepository_TypeFiltersFollowTheirOwnColumn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	blog := env.container(t, alice, "blog", "Drift")

	a1 := env.article(t, alice, &blog.ID, "a1", true)
	a2 := env.article(t, alice, &blog.ID, "a2", true)
	p1, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContainerID: &blog.ID,
		ContentType: env.contentType(t, "photo"),
		Content:     domain.ContentAttributes{Filename: "dot.png", ContentType: "image/png", Data: pngBytes, Title: "p1"},
		Post:        domain.PostAttributes{PublicRead: true},
	})
	require.NoError(t, err)
	// The photo's attachment row shares its id with a1's contents row.
	require.Equal(t, a1.ContentID, p1.ContentID)

	// a2 keeps its article marker while its content row says bookmark.
	_, err = env.db.ExecContext(ctx, `UPDATE contents SET type = 'bookmark' WHERE id = ?`, a2.ContentID)
	require.NoError(t, err)

	list := func(name string, filter repository.TypeFilter) []int64 {
		ct := env.contentType(t, name)
		result, err := env.repos.Post.List(ctx, repository.PostQuery{
			ContentType: ct,
			Scope:       repository.PostScope{ContainerID: &blog.ID},
			Filter:      filter,
			TableTypes:  env.registry.StoredIn(ct.Table),
			Limit:       10,
		})
		require.NoError(t, err)
		ids := make([]int64, 0, len(result.Posts))
		for _, post := range result.Posts {
			ids = append(ids, post.ID)
		}
		assert.EqualValues(t, len(ids), result.Total)
		return ids
	}

	assert.Equal(t, []int64{a1.ID}, list("article", repository.FilterDiscriminator))
	assert.Equal(t, []int64{a2.ID}, list("bookmark", repository.FilterDiscriminator))
	assert.Equal(t, []int64{a2.ID, a1.ID}, list("article", repository.FilterMarker))
	assert.Empty(t, list("bookmark", repository.FilterMarker))
	assert.Equal(t, []int64{p1.ID}, list("photo", repository.FilterMarker))
}

func TestPostService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	bob := env.activeAgent(t, "bob")
	ct := env.contentType(t, "article")
	post := env.article(t, alice, nil, "draft", false)

	_, err := env.posts.Get(ctx, bob, ct, post.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.posts.Get(ctx, alice, env.contentType(t, "bookmark"), post.ID)
	assert.ErrorIs(t, err, domain.ErrPostNotFound)

	title := "final"
	public := true
	updated, err := env.posts.Update(ctx, alice, ct, post.ID, UpdatePostInput{
		Title:       &title,
		PublicRead:  &public,
		CategoryIDs: []int64{3, 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Title)
	assert.True(t, updated.PublicRead)
	assert.Equal(t, post.ContentID, updated.ContentID)
	assert.False(t, updated.UpdatedAt.Before(post.UpdatedAt))

	got, err := env.posts.Get(ctx, bob, ct, post.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 3}, got.CategoryIDs)

	empty := ""
	_, err = env.posts.Update(ctx, alice, ct, post.ID, UpdatePostInput{Title: &empty})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.ErrorIs(t, env.posts.Delete(ctx, bob, ct, post.ID), domain.ErrForbidden)
	require.NoError(t, env.posts.Delete(ctx, alice, ct, post.ID))

	_, err = env.posts.Get(ctx, alice, ct, post.ID)
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
	n, err := env.repos.Content.Count(ctx, ct)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPostService_Photo(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	alice := env.activeAgent(t, "alice")
	gallery := env.container(t, alice, "gallery", "Shots")
	ct := env.contentType(t, "photos")

	t.Run("rejects non-image uploads", func(t *testing.T) {
		_, err := env.posts.Create(ctx, alice, CreatePostInput{
			ContainerID: &gallery.ID,
			ContentType: ct,
			Content:     domain.ContentAttributes{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")},
		})
		verr, ok := domain.AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, verr.Fields, "content_type")
	})

	post, err := env.posts.Create(ctx, alice, CreatePostInput{
		ContainerID: &gallery.ID,
		ContentType: ct,
		Content:     domain.ContentAttributes{Filename: "dot.png", ContentType: "image/png", Data: pngBytes},
		Post:        domain.PostAttributes{Title: "dot", PublicRead: true},
	})
	require.NoError(t, err)

	photo, ok := post.Content.(*domain.Photo)
	require.True(t, ok)
	assert.Len(t, photo.ContentHash, 64)
	assert.Nil(t, photo.Data)

	blob, err := env.repos.Blob.GetByHash(ctx, photo.ContentHash)
	require.NoError(t, err)
	assert.EqualValues(t, 1, blob.RefCount)

	got, err := env.posts.Get(ctx, domain.Anonymous(), ct, post.ID)
	require.NoError(t, err)
	r, size, err := env.posts.OpenPayload(ctx, got.Content)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.EqualValues(t, len(pngBytes), size)

	_, _, err = env.posts.OpenPayload(ctx, &domain.Article{})
	assert.ErrorIs(t, err, domain.ErrNotAcceptable)

	require.NoError(t, env.posts.Delete(ctx, alice, ct, post.ID))
	blob, err = env.repos.Blob.GetByHash(ctx, photo.ContentHash)
	require.NoError(t, err)
	assert.EqualValues(t, 0, blob.RefCount)
}

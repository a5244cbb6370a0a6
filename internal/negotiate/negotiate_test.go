package negotiate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

type memPayloads map[string][]byte

func (m memPayloads) OpenPayload(ctx context.Context, content domain.Content) (io.ReadCloser, int64, error) {
	att, ok := content.(domain.AttachmentContent)
	if !ok {
		return nil, 0, domain.ErrBlobNotFound
	}
	data, ok := m[att.Payload().ContentHash]
	if !ok {
		return nil, 0, domain.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func newTestNegotiator() *Negotiator {
	return New(domain.DefaultRegistry(), memPayloads{"hash-1": pngBytes}, "http://cms.test/")
}

func photoPost() *domain.Post {
	photo := &domain.Photo{}
	photo.ID = 3
	photo.Type = "photo"
	photo.Name = "dot.png"
	photo.ContentType = "image/png"
	photo.Size = int64(len(pngBytes))
	photo.ContentHash = "hash-1"

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Post{
		ID: 9, AgentID: 1, ContentType: "photo", ContentID: 3,
		Title: "Dot", PublicRead: true, CreatedAt: now, UpdatedAt: now,
		Content: photo,
	}
}

func articlePost(id int64, title string) *domain.Post {
	article := &domain.Article{Title: title, Body: "Body of " + title}
	article.ID = id
	article.Type = "article"

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Post{
		ID: id, AgentID: 1, ContentType: "article", ContentID: id,
		Title: title, PublicRead: true, CreatedAt: now, UpdatedAt: now,
		Content: article,
		Agent:   &domain.Agent{ID: 1, Login: "quentin"},
	}
}

func TestRenderPost_AttachmentFallback(t *testing.T) {
	n := newTestNegotiator()

	for _, format := range []Format{FormatAny, "png", "image/png", "html"} {
		t.Run(string(format), func(t *testing.T) {
			rep, err := n.RenderPost(context.Background(), photoPost(), format)
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			require.NoError(t, rep.Write(rec, 200))

			assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			assert.Equal(t, "inline; filename=dot.png", rec.Header().Get("Content-Disposition"))
			assert.Equal(t, pngBytes, rec.Body.Bytes())
		})
	}
}

func TestRenderPost_StructuredAttachment(t *testing.T) {
	n := newTestNegotiator()

	rep, err := n.RenderPost(context.Background(), photoPost(), FormatXML)
	require.NoError(t, err)

	body := string(rep.Body)
	assert.Equal(t, MediaXML, rep.ContentType)
	assert.Contains(t, body, "<photo>")
	assert.Contains(t, body, "<filename>dot.png</filename>")
	assert.Contains(t, body, "http://cms.test/photos/9.png")
	assert.NotContains(t, body, "<post>")
}

func TestRenderPost_DocumentWithoutMime(t *testing.T) {
	n := newTestNegotiator()
	post := articlePost(1, "Hello")

	rep, err := n.RenderPost(context.Background(), post, FormatAny)
	require.NoError(t, err)
	assert.Equal(t, MediaJSON, rep.ContentType)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rep.Body, &doc))
	assert.Equal(t, "article", doc["type"])
	assert.Equal(t, "http://cms.test/articles/1", doc["href"])
	assert.Equal(t, "quentin", doc["author"])
	assert.Equal(t, "Body of Hello", doc["content"].(map[string]any)["body"])

	_, err = n.RenderPost(context.Background(), post, "png")
	assert.ErrorIs(t, err, domain.ErrNotAcceptable)
}

func TestRenderPost_AtomEntry(t *testing.T) {
	n := newTestNegotiator()

	rep, err := n.RenderPost(context.Background(), articlePost(1, "Hello"), FormatAtom)
	require.NoError(t, err)

	body := string(rep.Body)
	assert.Contains(t, body, `<entry xmlns="http://www.w3.org/2005/Atom">`)
	assert.Contains(t, body, "<id>http://cms.test/articles/1</id>")
	assert.Contains(t, body, "<name>quentin</name>")
	assert.Contains(t, body, "Body of Hello")
}

func testPage() *domain.Page {
	registry := domain.DefaultRegistry()
	ct, _ := registry.Lookup("article")
	return &domain.Page{
		Posts:       []*domain.Post{articlePost(2, "Second"), articlePost(1, "First")},
		ContentType: ct,
		Number:      1,
		PerPage:     ct.PerPage,
		Total:       12,
		Updated:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRenderPage_RewritesCollectionName(t *testing.T) {
	n := newTestNegotiator()

	t.Run("xml", func(t *testing.T) {
		rep, err := n.RenderPage(context.Background(), testPage(), FormatXML)
		require.NoError(t, err)
		body := string(rep.Body)
		assert.Contains(t, body, `<articles type="array"`)
		assert.Contains(t, body, "<article>")
		assert.NotContains(t, body, "<posts")
		assert.NotContains(t, body, "<post>")
	})

	t.Run("json", func(t *testing.T) {
		rep, err := n.RenderPage(context.Background(), testPage(), FormatJSON)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(rep.Body, &doc))
		assert.Len(t, doc["articles"], 2)
		assert.NotContains(t, doc, "posts")
		assert.Equal(t, float64(2), doc["total_pages"])
	})

	t.Run("yaml", func(t *testing.T) {
		rep, err := n.RenderPage(context.Background(), testPage(), FormatYAML)
		require.NoError(t, err)
		assert.Contains(t, string(rep.Body), "articles:")
	})

	t.Run("atom", func(t *testing.T) {
		rep, err := n.RenderPage(context.Background(), testPage(), FormatAtom)
		require.NoError(t, err)
		body := string(rep.Body)
		assert.Contains(t, body, `<feed xmlns="http://www.w3.org/2005/Atom">`)
		assert.Contains(t, body, "<updated>2026-03-01T12:00:00Z</updated>")
		assert.Contains(t, body, `rel="next"`)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := n.RenderPage(context.Background(), testPage(), "png")
		assert.ErrorIs(t, err, domain.ErrNotAcceptable)
	})
}

func TestRenderAgent_ServiceDocument(t *testing.T) {
	n := newTestNegotiator()
	agent := &domain.Agent{ID: 1, Login: "quentin"}
	containers := []*domain.Container{
		{ID: 5, OwnerID: 1, Type: "gallery", Name: "Holidays"},
		{ID: 6, OwnerID: 2, Type: "blog", Name: "Not mine"},
	}

	rep, err := n.RenderAgent(agent, containers, FormatAtom)
	require.NoError(t, err)

	body := string(rep.Body)
	assert.Equal(t, MediaAtomSvc, rep.ContentType)
	assert.Contains(t, body, "http://cms.test/containers/5/photos")
	assert.Contains(t, body, "<accept>image/*</accept>")
	assert.NotContains(t, body, "Not mine")
}

func TestFormatParsing(t *testing.T) {
	assert.Equal(t, FormatAny, ParseFormat(""))
	assert.Equal(t, FormatAtom, ParseFormat(".ATOM"))
	assert.Equal(t, Format("png"), ParseFormat("png"))

	tests := []struct {
		accept string
		want   Format
	}{
		{"", FormatAny},
		{"*/*", FormatAny},
		{"application/json", FormatJSON},
		{"text/xml;q=0.9", FormatXML},
		{"application/atom+xml", FormatAtom},
		{"image/png", Format("image/png")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFromAccept(tt.accept), tt.accept)
	}
}

func TestRenderError(t *testing.T) {
	n := newTestNegotiator()
	doc := ErrorDocument("post", "ValidationFailed", "", map[string][]string{"title": {"can't be blank"}})

	rep, err := n.RenderError(doc, FormatXML)
	require.NoError(t, err)
	assert.Contains(t, string(rep.Body), `<error field="title">title can&#39;t be blank</error>`)

	rep, err = n.RenderError(doc, FormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"post","code":"ValidationFailed","errors":{"title":["can't be blank"]}}`, string(rep.Body))
}

func TestRenderNotice_HidesCodes(t *testing.T) {
	n := newTestNegotiator()
	code := "secret-code"
	agent := &domain.Agent{ID: 4, Login: "quentin", State: domain.AgentPending, ActivationCode: &code}
	notice := Notice{
		Agent:              agent,
		Messages:           []string{"Thanks for signing up!"},
		ActivationRequired: true,
	}

	for _, format := range []Format{FormatJSON, FormatXML, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			rep, err := n.RenderNotice(notice, format)
			require.NoError(t, err)
			body := string(rep.Body)
			assert.Contains(t, body, "quentin")
			assert.Contains(t, body, "Thanks for signing up!")
			assert.NotContains(t, body, code)
		})
	}

	rep, err := n.RenderNotice(notice, FormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"agent": {"id": 4, "login": "quentin", "state": "pending", "is_admin": false, "created_at": "0001-01-01T00:00:00Z"},
		"notices": ["Thanks for signing up!"],
		"activation_required": true
	}`, string(rep.Body))
}

func TestRenderContainers(t *testing.T) {
	n := newTestNegotiator()
	containers := []*domain.Container{{ID: 5, OwnerID: 1, Type: "gallery", Name: "Holidays", PublicRead: true}}

	rep, err := n.RenderContainers(containers, FormatXML)
	require.NoError(t, err)
	body := string(rep.Body)
	assert.Contains(t, body, "<containers>")
	assert.Contains(t, body, "<href>http://cms.test/containers/5</href>")
	assert.Contains(t, body, "<content-type>photo</content-type>")
	assert.NotContains(t, body, "<content-type>bookmark</content-type>")

	rep, err = n.RenderContainer(containers[0], FormatJSON)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rep.Body, &doc))
	assert.Equal(t, []any{"article", "document", "photo"}, doc["accepted_content_types"])
}

func TestParseEntry(t *testing.T) {
	body := `<?xml version="1.0"?>
<entry xmlns="http://www.w3.org/2005/Atom">
  <title> Hello </title>
  <summary>short</summary>
  <content type="text">long body</content>
  <link rel="alternate" href="http://example.com/a"/>
  <category term="3"/>
  <category term="misc"/>
</entry>`

	e, err := ParseEntry(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Title)
	assert.Equal(t, "short", e.Summary)
	assert.Equal(t, "long body", e.Content)
	assert.Equal(t, "http://example.com/a", e.Link)
	assert.Equal(t, []int64{3}, e.CategoryIDs)

	_, err = ParseEntry(strings.NewReader("not xml"))
	assert.Error(t, err)
}

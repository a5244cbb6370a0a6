package domain

import (
	"mime"
	"net/url"
	"strings"
	"time"
)

// Content is the polymorphic payload carried by a Post. Each registered
// content type provides one concrete variant.
type Content interface {
	// Base exposes the fields every variant shares.
	Base() *ContentBase

	// Assign copies the attributes relevant to the variant.
	Assign(attrs ContentAttributes)

	// Validate appends attribute errors to verr.
	Validate(verr *ValidationError)

	// MimeType is the media type of the binary representation, or "" when
	// the content has none.
	MimeType() string

	// Filename is the declared filename of the binary representation.
	Filename() string

	// DeclaredContentType is the content-type string supplied on upload.
	DeclaredContentType() string

	// Summary returns the title and description used to default post fields.
	Summary() (title, description string)

	// Fields returns the attribute set rendered in structured representations.
	Fields() map[string]any
}

// ContentBase holds the columns shared by every content variant.
type ContentBase struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Base implements Content.
func (b *ContentBase) Base() *ContentBase {
	return b
}

// ContentAttributes is the caller-supplied attribute set used to build a
// transient Content.
type ContentAttributes struct {
	Title       string
	Body        string
	URL         string
	Description string
	Filename    string
	ContentType string
	Data        []byte
}

// =============================================================================
// Single-table variants
// =============================================================================

// TextRecord is the row shape of the shared "contents" table. Variants
// stored there are told apart by the type column.
type TextRecord struct {
	Title       string
	Body        string
	URL         string
	Description string
}

// SingleTableContent is implemented by variants stored in the shared table.
type SingleTableContent interface {
	Content
	Record() TextRecord
	Load(rec TextRecord)
}

// Article is a titled text entry.
type Article struct {
	ContentBase
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *Article) Assign(attrs ContentAttributes) {
	a.Title = strings.TrimSpace(attrs.Title)
	a.Body = attrs.Body
}

func (a *Article) Validate(verr *ValidationError) {
	if a.Title == "" {
		verr.Add("title", "can't be blank")
	} else if len(a.Title) > 255 {
		verr.Add("title", "is too long (maximum is 255 characters)")
	}
	if strings.TrimSpace(a.Body) == "" {
		verr.Add("body", "can't be blank")
	}
}

func (a *Article) MimeType() string            { return "" }
func (a *Article) Filename() string            { return "" }
func (a *Article) DeclaredContentType() string { return "" }

func (a *Article) Summary() (string, string) {
	return a.Title, ""
}

func (a *Article) Fields() map[string]any {
	return map[string]any{
		"id":         a.ID,
		"title":      a.Title,
		"body":       a.Body,
		"created_at": a.CreatedAt,
		"updated_at": a.UpdatedAt,
	}
}

func (a *Article) Record() TextRecord {
	return TextRecord{Title: a.Title, Body: a.Body}
}

func (a *Article) Load(rec TextRecord) {
	a.Title = rec.Title
	a.Body = rec.Body
}

// Bookmark is a link with an optional description.
type Bookmark struct {
	ContentBase
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func (b *Bookmark) Assign(attrs ContentAttributes) {
	b.Title = strings.TrimSpace(attrs.Title)
	b.URL = strings.TrimSpace(attrs.URL)
	b.Description = attrs.Description
}

func (b *Bookmark) Validate(verr *ValidationError) {
	if b.URL == "" {
		verr.Add("url", "can't be blank")
	} else if u, err := url.ParseRequestURI(b.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		verr.Add("url", "is invalid")
	}
	if len(b.Title) > 255 {
		verr.Add("title", "is too long (maximum is 255 characters)")
	}
}

func (b *Bookmark) MimeType() string            { return "" }
func (b *Bookmark) Filename() string            { return "" }
func (b *Bookmark) DeclaredContentType() string { return "" }

func (b *Bookmark) Summary() (string, string) {
	title := b.Title
	if title == "" {
		title = b.URL
	}
	return title, b.Description
}

func (b *Bookmark) Fields() map[string]any {
	return map[string]any{
		"id":          b.ID,
		"title":       b.Title,
		"url":         b.URL,
		"description": b.Description,
		"created_at":  b.CreatedAt,
		"updated_at":  b.UpdatedAt,
	}
}

func (b *Bookmark) Record() TextRecord {
	return TextRecord{Title: b.Title, URL: b.URL, Description: b.Description}
}

func (b *Bookmark) Load(rec TextRecord) {
	b.Title = rec.Title
	b.URL = rec.URL
	b.Description = rec.Description
}

// =============================================================================
// Attachment variants (own table, joined by content id)
// =============================================================================

// AttachmentContent is implemented by variants with a binary payload.
type AttachmentContent interface {
	Content
	Payload() *Attachment
}

// Attachment holds an uploaded file. The bytes live in the storage backend
// under ContentHash; Data is only set on a transient, not yet stored value.
type Attachment struct {
	ContentBase
	Name        string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Data []byte `json:"-"`
}

// Payload implements AttachmentContent.
func (a *Attachment) Payload() *Attachment {
	return a
}

func (a *Attachment) Assign(attrs ContentAttributes) {
	a.Name = strings.TrimSpace(attrs.Filename)
	a.ContentType = strings.TrimSpace(attrs.ContentType)
	a.Title = strings.TrimSpace(attrs.Title)
	a.Description = attrs.Description
	a.Data = attrs.Data
	a.Size = int64(len(attrs.Data))
}

func (a *Attachment) Validate(verr *ValidationError) {
	if a.Name == "" {
		verr.Add("filename", "can't be blank")
	} else if strings.ContainsAny(a.Name, "/\\") {
		verr.Add("filename", "is invalid")
	}
	if a.ContentType == "" {
		verr.Add("content_type", "can't be blank")
	} else if _, _, err := mime.ParseMediaType(a.ContentType); err != nil {
		verr.Add("content_type", "is invalid")
	}
	if a.ContentHash == "" && len(a.Data) == 0 {
		verr.Add("data", "can't be blank")
	}
}

// MimeType returns the declared content type without parameters.
func (a *Attachment) MimeType() string {
	mt, _, err := mime.ParseMediaType(a.ContentType)
	if err != nil {
		return ""
	}
	return mt
}

func (a *Attachment) Filename() string            { return a.Name }
func (a *Attachment) DeclaredContentType() string { return a.ContentType }

// Summary falls back to the filename when no title was given.
func (a *Attachment) Summary() (string, string) {
	if a.Title == "" {
		return a.Name, a.Description
	}
	return a.Title, a.Description
}

func (a *Attachment) Fields() map[string]any {
	return map[string]any{
		"id":           a.ID,
		"filename":     a.Name,
		"content_type": a.ContentType,
		"size":         a.Size,
		"title":        a.Title,
		"description":  a.Description,
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}
}

// Photo is an image attachment.
type Photo struct {
	Attachment
}

// Document is a generic file attachment.
type Document struct {
	Attachment
}

// Ensure variants satisfy their storage interfaces.
var (
	_ SingleTableContent = (*Article)(nil)
	_ SingleTableContent = (*Bookmark)(nil)
	_ AttachmentContent  = (*Photo)(nil)
	_ AttachmentContent  = (*Document)(nil)
)

package domain

import (
	"time"
)

// Post binds one Content to the agent who created it, an optional container,
// a category list and a visibility flag. Posts are the unit of listing.
type Post struct {
	// ID is the unique identifier for the post.
	ID int64 `json:"id"`

	// AgentID is the creator.
	AgentID int64 `json:"agent_id"`

	// ContainerID is nil for posts that only live in the public feed.
	ContainerID *int64 `json:"container_id,omitempty"`

	// ContentType is the registered type name of Content. It doubles as the
	// type marker used when the content type has its own table.
	ContentType string `json:"content_type"`

	// ContentID references the content row. Immutable once persisted.
	ContentID int64 `json:"content_id"`

	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	PublicRead  bool    `json:"public_read"`
	CategoryIDs []int64 `json:"category_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt never moves backwards.
	UpdatedAt time.Time `json:"updated_at"`

	// Content is the attached payload when loaded.
	Content Content `json:"-"`

	// Agent is the creator when loaded.
	Agent *Agent `json:"-"`
}

// PostAttributes is the caller-supplied attribute set for a post.
type PostAttributes struct {
	Title       string
	Description string
	PublicRead  bool
	CategoryIDs []int64
}

// NewPost creates a post for content created by agentID.
func NewPost(agentID int64, containerID *int64, content Content, attrs PostAttributes) *Post {
	now := Now()
	p := &Post{
		AgentID:     agentID,
		ContainerID: containerID,
		Title:       attrs.Title,
		Description: attrs.Description,
		PublicRead:  attrs.PublicRead,
		CategoryIDs: attrs.CategoryIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if content != nil {
		p.Content = content
		p.ContentType = content.Base().Type
		p.ContentID = content.Base().ID
		title, description := content.Summary()
		if p.Title == "" {
			p.Title = title
		}
		if p.Description == "" {
			p.Description = description
		}
	}
	return p
}

// Touch moves UpdatedAt to now unless that would move it backwards.
func (p *Post) Touch(now time.Time) {
	now = now.UTC().Truncate(TimestampPrecision)
	if now.After(p.UpdatedAt) {
		p.UpdatedAt = now
	}
}

// AuthorName returns the creator's display name when loaded.
func (p *Post) AuthorName() string {
	if p.Agent == nil {
		return ""
	}
	return p.Agent.DisplayName()
}

// OwnedBy implements auth.Instance.
func (p *Post) OwnedBy() int64 {
	return p.AgentID
}

// IsPublic implements auth.Instance.
func (p *Post) IsPublic() bool {
	return p.PublicRead
}

// Validate checks post attributes.
func (p *Post) Validate() error {
	verr := NewValidationError(TargetPost)
	if p.AgentID <= 0 {
		verr.Add("agent", "can't be blank")
	}
	if p.ContentID <= 0 || p.ContentType == "" {
		verr.Add("content", "can't be blank")
	}
	if p.Title == "" {
		verr.Add("title", "can't be blank")
	} else if len(p.Title) > 255 {
		verr.Add("title", "is too long (maximum is 255 characters)")
	}
	if len(p.Description) > 4000 {
		verr.Add("description", "is too long (maximum is 4000 characters)")
	}
	seen := make(map[int64]bool, len(p.CategoryIDs))
	for _, id := range p.CategoryIDs {
		if id <= 0 {
			verr.Add("category_ids", "must be positive")
			break
		}
		if seen[id] {
			verr.Add("category_ids", "must be unique")
			break
		}
		seen[id] = true
	}
	return verr.OrNil()
}

// Page is one page of a type-filtered, time-ordered post listing.
type Page struct {
	Posts       []*Post
	ContentType *ContentType

	// Container is nil for the public feed.
	Container *Container

	// Number is 1-indexed.
	Number  int
	PerPage int
	Total   int64

	// Updated is the freshness timestamp of the listing.
	Updated time.Time
}

// TotalPages returns the number of pages for Total.
func (p *Page) TotalPages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 0
	}
	return int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// HasNext reports whether a later page exists.
func (p *Page) HasNext() bool {
	return p.Number < p.TotalPages()
}

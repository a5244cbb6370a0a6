package domain

import (
	"time"
)

// Container is a named aggregation point content can be posted into
// (a blog, a gallery, an agent's profile).
type Container struct {
	// ID is the unique identifier for the container.
	ID int64 `json:"id"`

	// OwnerID is the ID of the agent who owns this container.
	OwnerID int64 `json:"owner_id"`

	// Type is the container type name (e.g. "blog", "gallery").
	Type string `json:"type"`

	// Name is the display name, unique per container type.
	Name string `json:"name"`

	// AcceptedContentTypes narrows the content types this container takes.
	// Empty means every registered type that accepts Type.
	AcceptedContentTypes []string `json:"accepted_content_types,omitempty"`

	// PublicRead lets anyone list the container's posts.
	PublicRead bool `json:"public_read"`

	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped whenever a post inside the container changes.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewContainer creates a new Container with default values.
func NewContainer(ownerID int64, containerType, name string) *Container {
	now := Now()
	return &Container{
		OwnerID:    ownerID,
		Type:       containerType,
		Name:       name,
		PublicRead: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// OwnedBy implements auth.Instance.
func (c *Container) OwnedBy() int64 {
	return c.OwnerID
}

// IsPublic implements auth.Instance.
func (c *Container) IsPublic() bool {
	return c.PublicRead
}

// Validate checks container attributes.
func (c *Container) Validate(registry *Registry) error {
	verr := NewValidationError(TargetContainer)
	if c.Type == "" {
		verr.Add("type", "can't be blank")
	}
	if l := len(c.Name); l == 0 {
		verr.Add("name", "can't be blank")
	} else if l > 255 {
		verr.Add("name", "is too long (maximum is 255 characters)")
	}
	for _, name := range c.AcceptedContentTypes {
		if _, ok := registry.Lookup(name); !ok {
			verr.Add("accepted_content_types", "includes unknown type "+name)
		}
	}
	return verr.OrNil()
}

package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StorageMode is how a content type is laid out in the relational store.
type StorageMode string

const (
	// StorageSingleTable stores the type in the shared "contents" table,
	// distinguished by its type column.
	StorageSingleTable StorageMode = "single_table"

	// StorageOwnTable stores the type in its own table, joined to posts by
	// content id and distinguished by the posts.content_type marker.
	StorageOwnTable StorageMode = "own_table"
)

// Disposition is the Content-Disposition policy for binary representations.
type Disposition string

const (
	DispositionInline     Disposition = "inline"
	DispositionAttachment Disposition = "attachment"
)

// AnyContainer in ContentType.Containers accepts every container type.
const AnyContainer = "*"

// DefaultPerPage is used when a content type registers no page size.
const DefaultPerPage = 10

// ContentType is a registered shape of postable content.
type ContentType struct {
	// Name is the singular type name ("article").
	Name string

	// Collection is the caller-facing plural resource name ("articles").
	Collection string

	// Storage selects the type filter strategy used when listing.
	Storage StorageMode

	// Table is the relational table holding the variant's rows.
	Table string

	// Containers lists the container types accepting this content type.
	Containers []string

	// PerPage is the listing page size.
	PerPage int

	// Disposition is applied when serving the raw payload.
	Disposition Disposition

	// AuthModes restricts which authentication modes may post this type.
	// Empty allows every mode.
	AuthModes []AuthMode

	// MimeTypes restricts accepted upload media types. Entries ending in
	// "/" match a whole top-level type ("image/"). Empty accepts all.
	MimeTypes []string

	// New returns an empty variant.
	New func() Content
}

// AcceptsContainerType reports whether containers of containerType take this type.
func (ct *ContentType) AcceptsContainerType(containerType string) bool {
	for _, c := range ct.Containers {
		if c == AnyContainer || c == containerType {
			return true
		}
	}
	return false
}

// AcceptsMime reports whether an upload with media type mt is allowed.
func (ct *ContentType) AcceptsMime(mt string) bool {
	if len(ct.MimeTypes) == 0 {
		return true
	}
	for _, allowed := range ct.MimeTypes {
		if strings.HasSuffix(allowed, "/") && strings.HasPrefix(mt, allowed) {
			return true
		}
		if allowed == mt {
			return true
		}
	}
	return false
}

// SupportsAuthMode reports whether agents authenticated with mode may post it.
func (ct *ContentType) SupportsAuthMode(mode AuthMode) bool {
	if len(ct.AuthModes) == 0 {
		return true
	}
	for _, m := range ct.AuthModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Registry is the runtime table of content types. It is populated at
// startup and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*ContentType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*ContentType)}
}

// DefaultRegistry returns a registry with the built-in content types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(&ContentType{
		Name:        "article",
		Collection:  "articles",
		Storage:     StorageSingleTable,
		Table:       "contents",
		Containers:  []string{AnyContainer},
		PerPage:     10,
		Disposition: DispositionInline,
		New:         func() Content { return &Article{} },
	})
	r.MustRegister(&ContentType{
		Name:        "bookmark",
		Collection:  "bookmarks",
		Storage:     StorageSingleTable,
		Table:       "contents",
		Containers:  []string{"blog", "profile"},
		PerPage:     25,
		Disposition: DispositionInline,
		New:         func() Content { return &Bookmark{} },
	})
	r.MustRegister(&ContentType{
		Name:        "photo",
		Collection:  "photos",
		Storage:     StorageOwnTable,
		Table:       "attachments",
		Containers:  []string{"gallery", "blog", "profile"},
		PerPage:     20,
		Disposition: DispositionInline,
		MimeTypes:   []string{"image/"},
		New:         func() Content { return &Photo{} },
	})
	r.MustRegister(&ContentType{
		Name:        "document",
		Collection:  "documents",
		Storage:     StorageOwnTable,
		Table:       "attachments",
		Containers:  []string{AnyContainer},
		PerPage:     20,
		Disposition: DispositionAttachment,
		AuthModes:   []AuthMode{AuthLoginAndPassword},
		New:         func() Content { return &Document{} },
	})
	return r
}

// Register adds ct. Names and collections must be unique.
func (r *Registry) Register(ct *ContentType) error {
	if ct.Name == "" || ct.New == nil {
		return fmt.Errorf("content type requires a name and a constructor")
	}
	if ct.Storage != StorageSingleTable && ct.Storage != StorageOwnTable {
		return fmt.Errorf("content type %s: unknown storage mode %q", ct.Name, ct.Storage)
	}
	if ct.Collection == "" {
		ct.Collection = ct.Name + "s"
	}
	if ct.PerPage <= 0 {
		ct.PerPage = DefaultPerPage
	}
	if ct.Disposition == "" {
		ct.Disposition = DispositionAttachment
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[ct.Name]; exists {
		return fmt.Errorf("content type %s already registered", ct.Name)
	}
	for _, other := range r.types {
		if other.Collection == ct.Collection {
			return fmt.Errorf("collection %s already registered by %s", ct.Collection, other.Name)
		}
	}
	r.types[ct.Name] = ct
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(ct *ContentType) {
	if err := r.Register(ct); err != nil {
		panic(err)
	}
}

// Lookup returns the content type named name.
func (r *Registry) Lookup(name string) (*ContentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ct, ok := r.types[name]
	return ct, ok
}

// LookupCollection returns the content type whose collection is collection.
func (r *Registry) LookupCollection(collection string) (*ContentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ct := range r.types {
		if ct.Collection == collection {
			return ct, true
		}
	}
	return nil, false
}

// Resolve accepts either a type name or a collection name.
func (r *Registry) Resolve(name string) (*ContentType, error) {
	if ct, ok := r.Lookup(name); ok {
		return ct, nil
	}
	if ct, ok := r.LookupCollection(name); ok {
		return ct, nil
	}
	return nil, NewDomainError(ErrUnknownContentType, "not registered", name)
}

// Names returns every registered type name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoredIn returns the names of every type whose rows live in table, sorted.
func (r *Registry) StoredIn(table string) []string {
	var out []string
	for _, name := range r.Names() {
		if ct, _ := r.Lookup(name); ct != nil && ct.Table == table {
			out = append(out, name)
		}
	}
	return out
}

// AcceptedBy returns the content types container accepts, sorted. A nil
// container stands for the global public feed, which accepts every type.
func (r *Registry) AcceptedBy(container *Container) []string {
	if container == nil {
		return r.Names()
	}
	if len(container.AcceptedContentTypes) > 0 {
		out := make([]string, 0, len(container.AcceptedContentTypes))
		for _, name := range container.AcceptedContentTypes {
			if ct, ok := r.Lookup(name); ok && ct.AcceptsContainerType(container.Type) {
				out = append(out, name)
			}
		}
		sort.Strings(out)
		return out
	}

	var out []string
	for _, name := range r.Names() {
		ct, _ := r.Lookup(name)
		if ct.AcceptsContainerType(container.Type) {
			out = append(out, name)
		}
	}
	return out
}

// Accepts reports whether container (nil = global feed) takes content type name.
func (r *Registry) Accepts(container *Container, name string) bool {
	for _, accepted := range r.AcceptedBy(container) {
		if accepted == name {
			return true
		}
	}
	return false
}

// Build creates a transient, validated content of type ct from attrs.
// Validation failures are returned as a *ValidationError targeting content.
func (r *Registry) Build(ct *ContentType, attrs ContentAttributes) (Content, error) {
	content := ct.New()
	content.Base().Type = ct.Name
	content.Assign(attrs)

	verr := NewValidationError(TargetContent)
	content.Validate(verr)
	if mt := content.MimeType(); mt != "" && !ct.AcceptsMime(mt) {
		verr.Add("content_type", "is not accepted for "+ct.Collection)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return content, nil
}

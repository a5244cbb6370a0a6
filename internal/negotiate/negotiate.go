// Package negotiate renders posts, pages and errors in the representation
// a caller asked for: JSON, XML, YAML, Atom, or the raw attachment bytes.
package negotiate

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// Format is a caller-supplied representation token.
type Format string

const (
	FormatAny  Format = "any"
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
	FormatAtom Format = "atom"
)

// Media types of the structured representations.
const (
	MediaJSON      = "application/json; charset=utf-8"
	MediaXML       = "application/xml; charset=utf-8"
	MediaYAML      = "application/yaml; charset=utf-8"
	MediaAtom      = "application/atom+xml; charset=utf-8"
	MediaAtomEntry = "application/atom+xml;type=entry"
	MediaAtomSvc   = "application/atomsvc+xml; charset=utf-8"
)

// ParseFormat normalizes a token from a URL extension or format parameter.
// Empty means any.
func ParseFormat(token string) Format {
	token = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(token, ".")))
	if token == "" || token == "*" || token == "all" {
		return FormatAny
	}
	return Format(token)
}

// FormatFromAccept picks a format from an Accept header. A media type the
// negotiator has no structured rendering for is returned verbatim so the
// attachment fallback can still apply.
func FormatFromAccept(accept string) Format {
	if strings.TrimSpace(accept) == "" {
		return FormatAny
	}
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "application/json":
			return FormatJSON
		case "application/xml", "text/xml":
			return FormatXML
		case "application/yaml", "application/x-yaml", "text/yaml":
			return FormatYAML
		case "application/atom+xml":
			return FormatAtom
		case "*/*":
			return FormatAny
		default:
			return Format(mt)
		}
	}
	return FormatAny
}

// IsStructured reports whether f has a document rendering.
func (f Format) IsStructured() bool {
	switch f {
	case FormatJSON, FormatXML, FormatYAML, FormatAtom:
		return true
	}
	return false
}

// PayloadOpener streams the stored bytes of a content.
type PayloadOpener interface {
	OpenPayload(ctx context.Context, content domain.Content) (io.ReadCloser, int64, error)
}

// Representation is a rendered response. Exactly one of Body and Stream is set.
type Representation struct {
	ContentType string

	// Disposition is the full Content-Disposition header value, if any.
	Disposition string

	Body   []byte
	Stream io.ReadCloser

	// Size is the Stream length, or -1 when unknown.
	Size int64
}

// Write sends the representation with status and closes any stream.
func (r *Representation) Write(w http.ResponseWriter, status int) error {
	w.Header().Set("Content-Type", r.ContentType)
	if r.Disposition != "" {
		w.Header().Set("Content-Disposition", r.Disposition)
	}

	if r.Stream == nil {
		w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
		w.WriteHeader(status)
		_, err := w.Write(r.Body)
		return err
	}

	defer r.Stream.Close()
	if r.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(r.Size, 10))
	}
	w.WriteHeader(status)
	_, err := io.Copy(w, r.Stream)
	return err
}

// Negotiator is the ContentNegotiator.
type Negotiator struct {
	registry *domain.Registry
	payloads PayloadOpener
	baseURL  string
}

// New creates a Negotiator. baseURL prefixes every rendered link.
func New(registry *domain.Registry, payloads PayloadOpener, baseURL string) *Negotiator {
	return &Negotiator{
		registry: registry,
		payloads: payloads,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// RenderPost renders a post and its content. Content with a mime type is
// served as raw bytes for every format other than the structured ones.
func (n *Negotiator) RenderPost(ctx context.Context, post *domain.Post, format Format) (*Representation, error) {
	if post.Content == nil {
		return nil, fmt.Errorf("post %d has no content loaded", post.ID)
	}
	ct, err := n.registry.Resolve(post.ContentType)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return n.encodeJSON(n.postDocument(ct, post))
	case FormatXML:
		return n.encodeXML(n.postDocument(ct, post), MediaXML)
	case FormatYAML:
		return n.encodeYAML(n.postDocument(ct, post))
	case FormatAtom:
		return n.encodeXML(n.atomEntry(ct, post, true), MediaAtom)
	}

	if post.Content.MimeType() != "" {
		return n.renderPayload(ctx, ct, post.Content)
	}
	if format == FormatAny {
		return n.encodeJSON(n.postDocument(ct, post))
	}
	return nil, domain.NewDomainError(domain.ErrNotAcceptable, "no representation for format", string(format))
}

// RenderPage renders one page of a listing.
func (n *Negotiator) RenderPage(ctx context.Context, page *domain.Page, format Format) (*Representation, error) {
	switch format {
	case FormatJSON, FormatAny:
		return n.encodeJSON(n.pageMap(page))
	case FormatXML:
		return n.encodeXML(n.pageDocument(page), MediaXML)
	case FormatYAML:
		return n.encodeYAML(n.pageMap(page))
	case FormatAtom:
		return n.encodeXML(n.atomFeed(page), MediaAtom)
	}
	return nil, domain.NewDomainError(domain.ErrNotAcceptable, "no representation for format", string(format))
}

// RenderAgent renders an agent. Atom renders the service document listing
// the collections the agent can post to.
func (n *Negotiator) RenderAgent(agent *domain.Agent, containers []*domain.Container, format Format) (*Representation, error) {
	switch format {
	case FormatJSON, FormatAny:
		return n.encodeJSON(agentDocumentOf(agent))
	case FormatXML:
		return n.encodeXML(agentDocumentOf(agent), MediaXML)
	case FormatYAML:
		return n.encodeYAML(agentDocumentOf(agent))
	case FormatAtom, "atomsvc":
		return n.encodeXML(n.atomService(agent, containers), MediaAtomSvc)
	}
	return nil, domain.NewDomainError(domain.ErrNotAcceptable, "no representation for format", string(format))
}

// RenderValue renders an arbitrary value (containers, notices) in a
// structured format.
func (n *Negotiator) RenderValue(v any, format Format) (*Representation, error) {
	switch format {
	case FormatJSON, FormatAny:
		return n.encodeJSON(v)
	case FormatXML:
		return n.encodeXML(v, MediaXML)
	case FormatYAML:
		return n.encodeYAML(v)
	}
	return nil, domain.NewDomainError(domain.ErrNotAcceptable, "no representation for format", string(format))
}

// renderPayload serves the stored bytes with the content's own declared
// content type and the type's registered disposition.
func (n *Negotiator) renderPayload(ctx context.Context, ct *domain.ContentType, content domain.Content) (*Representation, error) {
	if n.payloads == nil {
		return nil, fmt.Errorf("no payload source configured")
	}
	stream, size, err := n.payloads.OpenPayload(ctx, content)
	if err != nil {
		return nil, err
	}

	rep := &Representation{
		ContentType: content.DeclaredContentType(),
		Stream:      stream,
		Size:        size,
	}
	disposition := string(ct.Disposition)
	if name := content.Filename(); name != "" {
		disposition = mime.FormatMediaType(disposition, map[string]string{"filename": name})
	}
	rep.Disposition = disposition
	return rep, nil
}

// PostURL is the canonical link of a post under its collection name.
func (n *Negotiator) PostURL(ct *domain.ContentType, post *domain.Post) string {
	return n.baseURL + "/" + ct.Collection + "/" + strconv.FormatInt(post.ID, 10)
}

// PostFormatURL is PostURL with a format extension.
func (n *Negotiator) PostFormatURL(ct *domain.ContentType, post *domain.Post, format Format) string {
	return n.PostURL(ct, post) + "." + string(format)
}

// CollectionURL links a listing, scoped to the container when there is one.
func (n *Negotiator) CollectionURL(ct *domain.ContentType, container *domain.Container) string {
	if container == nil {
		return n.baseURL + "/" + ct.Collection
	}
	return n.baseURL + "/containers/" + strconv.FormatInt(container.ID, 10) + "/" + ct.Collection
}

// ContainerURL links a container.
func (n *Negotiator) ContainerURL(c *domain.Container) string {
	return n.baseURL + "/containers/" + strconv.FormatInt(c.ID, 10)
}

// PayloadURL links the raw bytes of an attachment, using the mime subtype
// as the format extension.
func (n *Negotiator) PayloadURL(ct *domain.ContentType, post *domain.Post) string {
	return n.PostURL(ct, post) + "." + extensionFor(post.Content.MimeType())
}

func extensionFor(mediaType string) string {
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" {
		return "bin"
	}
	if i := strings.IndexAny(sub, "+;"); i > 0 {
		sub = sub[:i]
	}
	return sub
}

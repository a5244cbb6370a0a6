package negotiate

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// postDocument is the structured rendering of a post. Its element name is
// the content type name, never the generic "post".
type postDocument struct {
	XMLName     xml.Name  `json:"-" yaml:"-"`
	ID          int64     `json:"id" xml:"id" yaml:"id"`
	Type        string    `json:"type" xml:"type" yaml:"type"`
	Href        string    `json:"href" xml:"href" yaml:"href"`
	AgentID     int64     `json:"agent_id" xml:"agent-id" yaml:"agent_id"`
	Author      string    `json:"author,omitempty" xml:"author,omitempty" yaml:"author,omitempty"`
	ContainerID *int64    `json:"container_id,omitempty" xml:"container-id,omitempty" yaml:"container_id,omitempty"`
	Title       string    `json:"title" xml:"title" yaml:"title"`
	Description string    `json:"description,omitempty" xml:"description,omitempty" yaml:"description,omitempty"`
	PublicRead  bool      `json:"public_read" xml:"public-read" yaml:"public_read"`
	CategoryIDs []int64   `json:"category_ids" xml:"category-ids>category-id" yaml:"category_ids"`
	CreatedAt   time.Time `json:"created_at" xml:"created-at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" xml:"updated-at" yaml:"updated_at"`
	Content     fieldMap  `json:"content" xml:"content" yaml:"content"`
}

func (n *Negotiator) postDocument(ct *domain.ContentType, post *domain.Post) *postDocument {
	doc := &postDocument{
		XMLName:     xml.Name{Local: ct.Name},
		ID:          post.ID,
		Type:        ct.Name,
		Href:        n.PostURL(ct, post),
		AgentID:     post.AgentID,
		Author:      post.AuthorName(),
		ContainerID: post.ContainerID,
		Title:       post.Title,
		Description: post.Description,
		PublicRead:  post.PublicRead,
		CategoryIDs: post.CategoryIDs,
		CreatedAt:   post.CreatedAt,
		UpdatedAt:   post.UpdatedAt,
	}
	if doc.CategoryIDs == nil {
		doc.CategoryIDs = []int64{}
	}
	if post.Content != nil {
		doc.Content = fieldMap(post.Content.Fields())
		if post.Content.MimeType() != "" {
			doc.Content["href"] = n.PayloadURL(ct, post)
		}
	}
	return doc
}

// pageDocument is the XML rendering of a listing, named after the collection.
type pageDocument struct {
	XMLName    xml.Name
	Type       string          `xml:"type,attr"`
	Page       int             `xml:"page,attr"`
	PerPage    int             `xml:"per-page,attr"`
	Total      int64           `xml:"total,attr"`
	TotalPages int             `xml:"total-pages,attr"`
	Updated    time.Time       `xml:"updated,attr"`
	Href       string          `xml:"href,attr"`
	Posts      []*postDocument `xml:"post"`
}

func (n *Negotiator) pageDocument(page *domain.Page) *pageDocument {
	ct := page.ContentType
	doc := &pageDocument{
		XMLName:    xml.Name{Local: ct.Collection},
		Type:       "array",
		Page:       page.Number,
		PerPage:    page.PerPage,
		Total:      page.Total,
		TotalPages: page.TotalPages(),
		Updated:    page.Updated,
		Href:       n.CollectionURL(ct, page.Container),
	}
	for _, post := range page.Posts {
		doc.Posts = append(doc.Posts, n.postDocument(ct, post))
	}
	return doc
}

// pageMap is the JSON and YAML rendering of a listing; the items are keyed
// by the collection name.
func (n *Negotiator) pageMap(page *domain.Page) map[string]any {
	ct := page.ContentType
	items := make([]*postDocument, 0, len(page.Posts))
	for _, post := range page.Posts {
		items = append(items, n.postDocument(ct, post))
	}
	return map[string]any{
		ct.Collection: items,
		"page":        page.Number,
		"per_page":    page.PerPage,
		"total":       page.Total,
		"total_pages": page.TotalPages(),
		"updated":     page.Updated,
		"href":        n.CollectionURL(ct, page.Container),
	}
}

type agentDocument struct {
	XMLName     xml.Name   `json:"-" yaml:"-" xml:"agent"`
	ID          int64      `json:"id" xml:"id" yaml:"id"`
	Login       string     `json:"login,omitempty" xml:"login,omitempty" yaml:"login,omitempty"`
	State       string     `json:"state" xml:"state" yaml:"state"`
	IsAdmin     bool       `json:"is_admin" xml:"is-admin" yaml:"is_admin"`
	ActivatedAt *time.Time `json:"activated_at,omitempty" xml:"activated-at,omitempty" yaml:"activated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" xml:"created-at" yaml:"created_at"`
}

func agentDocumentOf(a *domain.Agent) *agentDocument {
	return &agentDocument{
		ID:          a.ID,
		Login:       a.Login,
		State:       string(a.State),
		IsAdmin:     a.IsAdmin,
		ActivatedAt: a.ActivatedAt,
		CreatedAt:   a.CreatedAt,
	}
}

// fieldMap renders content attributes. XML elements come out sorted and
// dasherized.
type fieldMap map[string]any

// MarshalXML implements xml.Marshaler.
func (m fieldMap) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: strings.ReplaceAll(k, "_", "-")}}
		if err := e.EncodeElement(m[k], el); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (n *Negotiator) encodeJSON(v any) (*Representation, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json: %w", err)
	}
	return &Representation{ContentType: MediaJSON, Body: body, Size: int64(len(body))}, nil
}

func (n *Negotiator) encodeXML(v any, mediaType string) (*Representation, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode xml: %w", err)
	}
	body = append([]byte(xml.Header), body...)
	return &Representation{ContentType: mediaType, Body: body, Size: int64(len(body))}, nil
}

func (n *Negotiator) encodeYAML(v any) (*Representation, error) {
	body, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode yaml: %w", err)
	}
	return &Representation{ContentType: MediaYAML, Body: body, Size: int64(len(body))}, nil
}

package negotiate

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

const atomNS = "http://www.w3.org/2005/Atom"

type atomFeed struct {
	XMLName xml.Name     `xml:"http://www.w3.org/2005/Atom feed"`
	ID      string       `xml:"id"`
	Title   string       `xml:"title"`
	Updated string       `xml:"updated"`
	Links   []atomLink   `xml:"link"`
	Entries []*atomEntry `xml:"entry"`
}

type atomEntry struct {
	XMLName    xml.Name       `xml:"entry"`
	NS         string         `xml:"xmlns,attr,omitempty"`
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Published  string         `xml:"published"`
	Updated    string         `xml:"updated"`
	Author     *atomPerson    `xml:"author,omitempty"`
	Links      []atomLink     `xml:"link"`
	Categories []atomCategory `xml:"category"`
	Summary    *atomText      `xml:"summary,omitempty"`
	Content    *atomContent   `xml:"content,omitempty"`
}

type atomLink struct {
	Rel    string `xml:"rel,attr,omitempty"`
	Type   string `xml:"type,attr,omitempty"`
	Href   string `xml:"href,attr"`
	Length int64  `xml:"length,attr,omitempty"`
}

type atomPerson struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomText struct {
	Type string `xml:"type,attr,omitempty"`
	Body string `xml:",chardata"`
}

type atomContent struct {
	Type string `xml:"type,attr,omitempty"`
	Src  string `xml:"src,attr,omitempty"`
	Body string `xml:",chardata"`
}

func atomTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func (n *Negotiator) atomFeed(page *domain.Page) *atomFeed {
	ct := page.ContentType
	href := n.CollectionURL(ct, page.Container)

	title := ct.Collection
	if page.Container != nil {
		title = ct.Collection + " - " + page.Container.Name
	}

	feed := &atomFeed{
		ID:      href,
		Title:   title,
		Updated: atomTime(page.Updated),
		Links: []atomLink{
			{Rel: "self", Type: "application/atom+xml", Href: href + ".atom?page=" + strconv.Itoa(page.Number)},
			{Rel: "alternate", Href: href},
		},
	}
	if page.HasNext() {
		feed.Links = append(feed.Links, atomLink{
			Rel:  "next",
			Type: "application/atom+xml",
			Href: href + ".atom?page=" + strconv.Itoa(page.Number+1),
		})
	}
	for _, post := range page.Posts {
		feed.Entries = append(feed.Entries, n.atomEntry(ct, post, false))
	}
	return feed
}

// atomEntry renders a post as an Atom entry. standalone entries carry
// their own namespace declaration.
func (n *Negotiator) atomEntry(ct *domain.ContentType, post *domain.Post, standalone bool) *atomEntry {
	href := n.PostURL(ct, post)
	entry := &atomEntry{
		ID:        href,
		Title:     post.Title,
		Published: atomTime(post.CreatedAt),
		Updated:   atomTime(post.UpdatedAt),
		Links: []atomLink{
			{Rel: "alternate", Href: href},
			{Rel: "edit", Type: MediaAtomEntry, Href: n.PostFormatURL(ct, post, FormatAtom)},
		},
	}
	if standalone {
		entry.NS = atomNS
	}
	if name := post.AuthorName(); name != "" {
		entry.Author = &atomPerson{Name: name}
	}
	for _, id := range post.CategoryIDs {
		entry.Categories = append(entry.Categories, atomCategory{Term: strconv.FormatInt(id, 10)})
	}
	if post.Description != "" {
		entry.Summary = &atomText{Type: "text", Body: post.Description}
	}

	switch content := post.Content.(type) {
	case domain.AttachmentContent:
		payload := n.PayloadURL(ct, post)
		entry.Content = &atomContent{Type: content.DeclaredContentType(), Src: payload}
		entry.Links = append(entry.Links, atomLink{
			Rel:    "enclosure",
			Type:   content.DeclaredContentType(),
			Href:   payload,
			Length: content.Payload().Size,
		})
	case domain.SingleTableContent:
		rec := content.Record()
		if rec.URL != "" {
			entry.Links = append(entry.Links, atomLink{Rel: "related", Href: rec.URL})
		}
		if rec.Body != "" {
			entry.Content = &atomContent{Type: "text", Body: rec.Body}
		}
	}
	return entry
}

// Atom Publishing Protocol service document.
type appService struct {
	XMLName    xml.Name       `xml:"http://www.w3.org/2007/app service"`
	Workspaces []appWorkspace `xml:"workspace"`
}

type appWorkspace struct {
	Title       atomText        `xml:"http://www.w3.org/2005/Atom title"`
	Collections []appCollection `xml:"collection"`
}

type appCollection struct {
	Href   string   `xml:"href,attr"`
	Title  atomText `xml:"http://www.w3.org/2005/Atom title"`
	Accept []string `xml:"accept"`
}

// atomService lists, per container the agent owns, the collections it can
// post to. The public feed is the first workspace.
func (n *Negotiator) atomService(agent *domain.Agent, containers []*domain.Container) *appService {
	svc := &appService{}

	svc.Workspaces = append(svc.Workspaces, n.appWorkspace("public", nil))

	owned := make([]*domain.Container, len(containers))
	copy(owned, containers)
	sort.Slice(owned, func(i, j int) bool { return owned[i].ID < owned[j].ID })
	for _, c := range owned {
		if c.OwnerID != agent.ID && !agent.IsAdmin {
			continue
		}
		svc.Workspaces = append(svc.Workspaces, n.appWorkspace(c.Name, c))
	}
	return svc
}

func (n *Negotiator) appWorkspace(title string, container *domain.Container) appWorkspace {
	ws := appWorkspace{Title: atomText{Type: "text", Body: title}}
	for _, name := range n.registry.AcceptedBy(container) {
		ct, ok := n.registry.Lookup(name)
		if !ok {
			continue
		}
		ws.Collections = append(ws.Collections, appCollection{
			Href:   n.CollectionURL(ct, container),
			Title:  atomText{Type: "text", Body: ct.Collection},
			Accept: acceptFor(ct),
		})
	}
	return ws
}

func acceptFor(ct *domain.ContentType) []string {
	if ct.Storage == domain.StorageSingleTable {
		return []string{MediaAtomEntry}
	}
	if len(ct.MimeTypes) == 0 {
		return []string{"*/*"}
	}
	out := make([]string, 0, len(ct.MimeTypes))
	for _, mt := range ct.MimeTypes {
		if mt[len(mt)-1] == '/' {
			mt += "*"
		}
		out = append(out, mt)
	}
	return out
}

// Entry is the caller-supplied part of an Atom entry.
type Entry struct {
	Title       string
	Summary     string
	Content     string
	Link        string
	CategoryIDs []int64
}

// ParseEntry decodes an Atom entry document posted to a collection.
// Category terms that are not positive integers are ignored.
func ParseEntry(r io.Reader) (*Entry, error) {
	var doc atomEntry
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode atom entry: %w", err)
	}

	e := &Entry{Title: strings.TrimSpace(doc.Title)}
	if doc.Summary != nil {
		e.Summary = strings.TrimSpace(doc.Summary.Body)
	}
	if doc.Content != nil {
		e.Content = strings.TrimSpace(doc.Content.Body)
		e.Link = doc.Content.Src
	}
	for _, l := range doc.Links {
		if l.Rel == "" || l.Rel == "alternate" || l.Rel == "related" {
			e.Link = l.Href
			break
		}
	}
	for _, c := range doc.Categories {
		if id, err := strconv.ParseInt(c.Term, 10, 64); err == nil && id > 0 {
			e.CategoryIDs = append(e.CategoryIDs, id)
		}
	}
	return e, nil
}

package negotiate

import (
	"encoding/xml"

	"github.com/prn-tf/alexander-cms/internal/domain"
)

// Notice is the outcome of an identity operation as shown to the caller.
type Notice struct {
	// Agent is the affected agent, if any.
	Agent *domain.Agent

	Messages []string

	ActivationRequired bool
	ActivationSent     bool
}

type noticeDocument struct {
	XMLName            xml.Name       `json:"-" yaml:"-" xml:"result"`
	Agent              *agentDocument `json:"agent,omitempty" xml:"agent,omitempty" yaml:"agent,omitempty"`
	Notices            []string       `json:"notices" xml:"notice" yaml:"notices"`
	ActivationRequired bool           `json:"activation_required,omitempty" xml:"activation-required,attr,omitempty" yaml:"activation_required,omitempty"`
	ActivationSent     bool           `json:"activation_sent,omitempty" xml:"activation-sent,attr,omitempty" yaml:"activation_sent,omitempty"`
}

// RenderNotice renders notice in a structured format.
func (n *Negotiator) RenderNotice(notice Notice, format Format) (*Representation, error) {
	doc := &noticeDocument{
		Notices:            notice.Messages,
		ActivationRequired: notice.ActivationRequired,
		ActivationSent:     notice.ActivationSent,
	}
	if doc.Notices == nil {
		doc.Notices = []string{}
	}
	if notice.Agent != nil {
		doc.Agent = agentDocumentOf(notice.Agent)
	}
	return n.RenderValue(doc, format)
}

type agentListDocument struct {
	XMLName xml.Name         `json:"-" yaml:"-" xml:"agents"`
	Total   int64            `json:"total" xml:"total,attr" yaml:"total"`
	Agents  []*agentDocument `json:"agents" xml:"agent" yaml:"agents"`
}

// RenderAgents renders a page of agents.
func (n *Negotiator) RenderAgents(agents []*domain.Agent, total int64, format Format) (*Representation, error) {
	doc := &agentListDocument{Total: total, Agents: make([]*agentDocument, 0, len(agents))}
	for _, a := range agents {
		doc.Agents = append(doc.Agents, agentDocumentOf(a))
	}
	return n.RenderValue(doc, format)
}

type containerDocument struct {
	XMLName              xml.Name `json:"-" yaml:"-" xml:"container"`
	ID                   int64    `json:"id" xml:"id" yaml:"id"`
	OwnerID              int64    `json:"owner_id" xml:"owner-id" yaml:"owner_id"`
	Type                 string   `json:"type" xml:"type" yaml:"type"`
	Name                 string   `json:"name" xml:"name" yaml:"name"`
	Href                 string   `json:"href" xml:"href" yaml:"href"`
	PublicRead           bool     `json:"public_read" xml:"public-read" yaml:"public_read"`
	AcceptedContentTypes []string `json:"accepted_content_types" xml:"accepted-content-types>content-type" yaml:"accepted_content_types"`
	CreatedAt            string   `json:"created_at" xml:"created-at" yaml:"created_at"`
	UpdatedAt            string   `json:"updated_at" xml:"updated-at" yaml:"updated_at"`
}

func (n *Negotiator) containerDocumentOf(c *domain.Container) *containerDocument {
	return &containerDocument{
		ID:                   c.ID,
		OwnerID:              c.OwnerID,
		Type:                 c.Type,
		Name:                 c.Name,
		Href:                 n.ContainerURL(c),
		PublicRead:           c.PublicRead,
		AcceptedContentTypes: n.registry.AcceptedBy(c),
		CreatedAt:            atomTime(c.CreatedAt),
		UpdatedAt:            atomTime(c.UpdatedAt),
	}
}

type containerListDocument struct {
	XMLName    xml.Name             `json:"-" yaml:"-" xml:"containers"`
	Containers []*containerDocument `json:"containers" xml:"container" yaml:"containers"`
}

// RenderContainer renders a container with the content types it accepts.
func (n *Negotiator) RenderContainer(c *domain.Container, format Format) (*Representation, error) {
	return n.RenderValue(n.containerDocumentOf(c), format)
}

// RenderContainers renders a container listing.
func (n *Negotiator) RenderContainers(containers []*domain.Container, format Format) (*Representation, error) {
	doc := &containerListDocument{Containers: make([]*containerDocument, 0, len(containers))}
	for _, c := range containers {
		doc.Containers = append(doc.Containers, n.containerDocumentOf(c))
	}
	return n.RenderValue(doc, format)
}

package negotiate

import (
	"encoding/xml"
	"sort"
)

// errorDocument is the field-error rendering of a ValidationError, or a
// single-message error when Fields is empty.
type errorDocument struct {
	XMLName xml.Name            `json:"-" yaml:"-" xml:"errors"`
	Target  string              `json:"target,omitempty" xml:"target,attr,omitempty" yaml:"target,omitempty"`
	Code    string              `json:"code,omitempty" xml:"code,attr,omitempty" yaml:"code,omitempty"`
	Message string              `json:"message,omitempty" xml:"message,omitempty" yaml:"message,omitempty"`
	Fields  map[string][]string `json:"errors,omitempty" xml:"-" yaml:"errors,omitempty"`
	Items   []errorItem         `json:"-" xml:"error" yaml:"-"`
}

type errorItem struct {
	Field   string `xml:"field,attr"`
	Message string `xml:",chardata"`
}

// ErrorDocument builds an error document. fields may be nil.
func ErrorDocument(target, code, message string, fields map[string][]string) any {
	doc := &errorDocument{
		Target:  target,
		Code:    code,
		Message: message,
		Fields:  fields,
	}

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		for _, msg := range fields[f] {
			doc.Items = append(doc.Items, errorItem{Field: f, Message: f + " " + msg})
		}
	}
	return doc
}

// RenderError renders an error document, falling back to JSON for formats
// without a structured rendering.
func (n *Negotiator) RenderError(doc any, format Format) (*Representation, error) {
	switch format {
	case FormatXML, FormatAtom:
		return n.encodeXML(doc, MediaXML)
	case FormatYAML:
		return n.encodeYAML(doc)
	}
	return n.encodeJSON(doc)
}

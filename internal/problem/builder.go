package problem

import (
	"encoding/json"
)

// Builder renders PolicyErrors as problem documents. The per-kind mapping
// table can be overridden at construction; every known kind always has a
// mapping, and unknown kinds render with the KindUnknown mapping.
type Builder struct {
	mappings map[Kind]Mapping
}

// NewBuilder creates a builder with the default mapping table, applying any
// per-kind overrides. Overrides may change status and title; a zero field
// keeps the default.
func NewBuilder(overrides map[Kind]Mapping) *Builder {
	mappings := make(map[Kind]Mapping, len(defaultMappings))
	for kind, m := range defaultMappings {
		if m.Type == "" {
			m.Type = typePrefix + string(kind)
		}
		mappings[kind] = m
	}

	for kind, o := range overrides {
		m, ok := mappings[kind]
		if !ok {
			m = Mapping{Type: typePrefix + string(kind)}
		}
		if o.Status != 0 {
			m.Status = o.Status
		}
		if o.Title != "" {
			m.Title = o.Title
		}
		if o.Type != "" {
			m.Type = o.Type
		}
		mappings[kind] = m
	}

	return &Builder{mappings: mappings}
}

// Mapping returns the mapping for a kind, falling back to KindUnknown.
func (b *Builder) Mapping(kind Kind) Mapping {
	if m, ok := b.mappings[kind]; ok {
		return m
	}
	return b.mappings[KindUnknown]
}

// Build renders a PolicyError as a problem document. instance is the request
// path of the failing exchange and may be empty.
func (b *Builder) Build(err *PolicyError, instance string) Document {
	kind := KindUnknown
	detail := ""
	if err != nil {
		kind = err.Kind
		detail = err.Detail
	}

	m := b.Mapping(kind)
	return Document{
		Type:     m.Type,
		Title:    m.Title,
		Status:   m.Status,
		Detail:   detail,
		Instance: instance,
	}
}

// Render builds and JSON-encodes the problem document for an error.
func (b *Builder) Render(err *PolicyError, instance string) (status int, body []byte) {
	doc := b.Build(err, instance)
	data, marshalErr := json.Marshal(doc)
	if marshalErr != nil {
		// Document contains only plain fields; this cannot realistically
		// happen, but a broken error path must still answer.
		data = []byte(`{"type":"about:blank","title":"Internal error","status":500}`)
		return 500, data
	}
	return doc.Status, data
}

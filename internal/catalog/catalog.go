// Package catalog loads the operation catalog from an OpenAPI contract and
// matches concrete request paths against its path templates.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation is one catalog entry: an id, a method, and a path template.
type Operation struct {
	ID     string
	Method string
	Path   string // template, e.g. /cars/{carId}

	segments []segment
}

// segment is one path-template element.
type segment struct {
	literal string
	param   string // set for {name} segments
}

// Catalog is the set of operations of one API.
type Catalog struct {
	name       string
	operations []*Operation
}

// Load reads an OpenAPI document from disk and builds the catalog. name
// identifies the API in scope resolution; when empty, the document title is
// used.
func Load(name, path string) (*Catalog, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI contract %s: %w", path, err)
	}
	return FromDoc(name, doc)
}

// FromDoc builds the catalog from a parsed OpenAPI document.
func FromDoc(name string, doc *openapi3.T) (*Catalog, error) {
	if name == "" && doc.Info != nil {
		name = doc.Info.Title
	}

	c := &Catalog{name: name}

	if doc.Paths == nil {
		return c, nil
	}

	// Iterate deterministically so operation order is stable.
	paths := make([]string, 0, doc.Paths.Len())
	for p := range doc.Paths.Map() {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths.Value(path)
		for method, op := range item.Operations() {
			id := op.OperationID
			if id == "" {
				id = strings.ToLower(method) + strings.ReplaceAll(path, "/", "_")
			}
			parsed, err := parseTemplate(path)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", id, err)
			}
			c.operations = append(c.operations, &Operation{
				ID:       id,
				Method:   strings.ToUpper(method),
				Path:     path,
				segments: parsed,
			})
		}
	}

	sort.Slice(c.operations, func(i, j int) bool {
		if c.operations[i].Path != c.operations[j].Path {
			return c.operations[i].Path < c.operations[j].Path
		}
		return c.operations[i].Method < c.operations[j].Method
	})

	return c, nil
}

// Name returns the API name.
func (c *Catalog) Name() string {
	return c.name
}

// Operations returns all operations in stable order.
func (c *Catalog) Operations() []*Operation {
	return c.operations
}

// Match finds the operation for a concrete method and path, returning the
// matched path-template parameters. Templates with more literal segments win
// over more generic ones.
func (c *Catalog) Match(method, path string) (*Operation, map[string]string, bool) {
	parts := splitPath(path)

	var (
		best       *Operation
		bestParams map[string]string
		bestScore  = -1
	)

	for _, op := range c.operations {
		if op.Method != method {
			continue
		}
		params, score, ok := matchSegments(op.segments, parts)
		if ok && score > bestScore {
			best = op
			bestParams = params
			bestScore = score
		}
	}

	if best == nil {
		return nil, nil, false
	}
	return best, bestParams, true
}

// MatchPath finds the best operation for a path regardless of method. CORS
// preflights arrive as OPTIONS without a declared operation; they still need
// the pipeline of the operation they are asking about.
func (c *Catalog) MatchPath(path string) (*Operation, map[string]string, bool) {
	parts := splitPath(path)

	var (
		best       *Operation
		bestParams map[string]string
		bestScore  = -1
	)

	for _, op := range c.operations {
		params, score, ok := matchSegments(op.segments, parts)
		if ok && score > bestScore {
			best = op
			bestParams = params
			bestScore = score
		}
	}

	if best == nil {
		return nil, nil, false
	}
	return best, bestParams, true
}

// parseTemplate splits a path template into segments.
func parseTemplate(path string) ([]segment, error) {
	parts := splitPath(path)
	segments := make([]segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}") {
			name := p[1 : len(p)-1]
			if name == "" {
				return nil, fmt.Errorf("empty parameter in template %q", path)
			}
			segments[i] = segment{param: name}
		} else {
			segments[i] = segment{literal: p}
		}
	}
	return segments, nil
}

// matchSegments matches concrete path parts against template segments. The
// score counts literal segments so exact templates beat parameterized ones.
func matchSegments(segments []segment, parts []string) (map[string]string, int, bool) {
	if len(segments) != len(parts) {
		return nil, 0, false
	}

	var params map[string]string
	score := 0
	for i, seg := range segments {
		if seg.param != "" {
			if parts[i] == "" {
				return nil, 0, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, 0, false
		}
		score++
	}
	return params, score, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

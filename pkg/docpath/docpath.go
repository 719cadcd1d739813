// Package docpath addresses fields inside JSON-like documents
// (map[string]any trees) by dotted paths such as "data.compute.core".
package docpath

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrEmptySegment = errors.New("docpath: empty path segment")

// Path is a validated sequence of field names.
type Path []string

// Parse splits a dotted path. Every segment must be non-empty.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w in %q", ErrEmptySegment, s)
	}
	segments := strings.Split(s, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w in %q", ErrEmptySegment, s)
		}
	}
	return Path(segments), nil
}

func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Join builds a path from raw segments; segments are taken verbatim.
func Join(segments ...string) Path {
	out := make(Path, len(segments))
	copy(out, segments)
	return out
}

func (p Path) String() string {
	return strings.Join(p, ".")
}

func (p Path) Child(segment string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, segment)
}

// Root is the first segment, or "" for an empty path.
func (p Path) Root() string {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// HasPrefix reports whether prefix equals p or is an ancestor of it.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) == 0 || len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Get walks doc along p.
func Get(doc map[string]any, p Path) (any, bool) {
	if len(p) == 0 || doc == nil {
		return nil, false
	}
	var cur any = doc
	for _, seg := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at p, creating or replacing intermediate maps.
func Set(doc map[string]any, p Path, value any) {
	if len(p) == 0 || doc == nil {
		return
	}
	cur := doc
	for _, seg := range p[:len(p)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[p[len(p)-1]] = value
}

// Delete removes the field at p. Missing intermediates are ignored.
func Delete(doc map[string]any, p Path) {
	if len(p) == 0 || doc == nil {
		return
	}
	cur := doc
	for _, seg := range p[:len(p)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, p[len(p)-1])
}

// DeepCopy copies maps and slices of a JSON-like value.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// CopyDocument is DeepCopy for a whole document.
func CopyDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	return DeepCopy(doc).(map[string]any)
}

// Normalize converts v to the shape a JSON decoder would produce for it,
// so values from different producers compare equal with reflect.DeepEqual.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeDocument is Normalize for a document; nil stays nil.
func NormalizeDocument(doc map[string]any) (map[string]any, error) {
	if doc == nil {
		return nil, nil
	}
	v, err := Normalize(doc)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("docpath: document normalized to %T", v)
	}
	return m, nil
}

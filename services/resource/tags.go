package resource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"inventory-collector/pkg/docpath"
)

const TagsField = "tags"

// TagHash is the stored key of a tag: one path segment, starting with a letter,
// whatever characters the tag key holds.
func TagHash(key string) string {
	return fmt.Sprintf("h%016x", xxh3.HashString(key))
}

// TagPath is the stored location of a tag value.
func TagPath(key string) docpath.Path {
	return docpath.Join(TagsField, TagHash(key), "value")
}

// TranslateKey maps a match key onto the stored schema. "tags.<key>" addresses
// a hashed tag; everything else is a plain dotted path.
func TranslateKey(matchKey string) (docpath.Path, error) {
	if rest, ok := strings.CutPrefix(matchKey, TagsField+"."); ok && rest != "" {
		return TagPath(rest), nil
	}
	return docpath.Parse(matchKey)
}

// PinPath maps a pinned key onto the stored schema. "tags.<key>" pins the
// whole hashed tag entry.
func PinPath(key string) (docpath.Path, error) {
	if rest, ok := strings.CutPrefix(key, TagsField+"."); ok && rest != "" {
		return docpath.Join(TagsField, TagHash(rest)), nil
	}
	return docpath.Parse(key)
}

// NormalizeTags rewrites plugin tags, given as {key: value} or [{key, value}],
// into {hash: {key, value, provider}}. Already normalized input is kept.
func NormalizeTags(raw any, provider string) map[string]any {
	out := map[string]any{}
	put := func(key string, value any, p string) {
		if key == "" {
			return
		}
		if p == "" {
			p = provider
		}
		out[TagHash(key)] = map[string]any{"key": key, "value": value, "provider": p}
	}

	switch tags := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if entry, ok := tags[k].(map[string]any); ok {
				if key, ok := entry["key"].(string); ok && k == TagHash(key) {
					p, _ := entry["provider"].(string)
					put(key, entry["value"], p)
					continue
				}
			}
			put(k, tags[k], "")
		}
	case []any:
		for _, item := range tags {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			key, _ := entry["key"].(string)
			p, _ := entry["provider"].(string)
			put(key, entry["value"], p)
		}
	}
	return out
}

// TagValue reads a tag back from a stored or normalized document.
func TagValue(doc map[string]any, key string) (any, bool) {
	return docpath.Get(doc, TagPath(key))
}

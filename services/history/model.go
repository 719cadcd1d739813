package history

import (
	"fmt"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"inventory-collector/pkg/docpath"
)

const (
	// ManualSource marks writes made by a user rather than a collector.
	ManualSource = "manual"

	ManualPriority  = 1
	DefaultPriority = 10

	StateActive = "ACTIVE"

	CollectionInfoKey = "collection_info"
)

type UpdateMode string

const (
	UpdateModeReplace UpdateMode = "REPLACE"
	UpdateModeMerge   UpdateMode = "MERGE"
)

// ParseUpdateMode defaults to REPLACE for anything other than MERGE.
func ParseUpdateMode(s string) UpdateMode {
	if UpdateMode(s) == UpdateModeMerge {
		return UpdateModeMerge
	}
	return UpdateModeReplace
}

// Source identifies who is writing a snapshot.
type Source struct {
	UpdatedBy        string
	JobID            string
	ServiceAccountID string
	SecretID         string
	// Priority of the collector; lower wins. Zero means DefaultPriority.
	Priority int
}

func ManualUpdate() Source {
	return Source{UpdatedBy: ManualSource}
}

func (s Source) IsManual() bool {
	return s.UpdatedBy == "" || s.UpdatedBy == ManualSource
}

func (s Source) Key() string {
	if s.IsManual() {
		return ManualSource
	}
	return s.UpdatedBy
}

func (s Source) EffectivePriority() int {
	if s.IsManual() {
		return ManualPriority
	}
	if s.Priority <= 0 {
		return DefaultPriority
	}
	return s.Priority
}

type Diff struct {
	Insert any `json:"insert,omitempty"`
	Delete any `json:"delete,omitempty"`
}

// Entry is the latest accepted write for one field.
type Entry struct {
	Key       string    `json:"key"`
	Priority  int       `json:"priority"`
	Data      any       `json:"data"`
	Diff      *Diff     `json:"diff,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CollectionInfo struct {
	State           string   `json:"state"`
	Collectors      []string `json:"collectors"`
	ServiceAccounts []string `json:"service_accounts"`
	Secrets         []string `json:"secrets"`
	PinnedKeys      []string `json:"pinned_keys"`
	ChangeHistory   []Entry  `json:"change_history"`
}

// DecodeCollectionInfo reads collection_info from a stored document.
// A document without one yields an empty value.
func DecodeCollectionInfo(doc map[string]any) (CollectionInfo, error) {
	var info CollectionInfo
	raw, ok := doc[CollectionInfoKey]
	if !ok || raw == nil {
		return info, nil
	}
	b, err := jsoniter.Marshal(raw)
	if err != nil {
		return info, fmt.Errorf("encode collection_info: %w", err)
	}
	if err := jsoniter.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("decode collection_info: %w", err)
	}
	sort.Strings(info.Collectors)
	sort.Strings(info.ServiceAccounts)
	sort.Strings(info.Secrets)
	sort.Strings(info.PinnedKeys)
	return info, nil
}

// Encode renders the value as a JSON-like map suitable for a document.
func (c CollectionInfo) Encode() (map[string]any, error) {
	if c.Collectors == nil {
		c.Collectors = []string{}
	}
	if c.ServiceAccounts == nil {
		c.ServiceAccounts = []string{}
	}
	if c.Secrets == nil {
		c.Secrets = []string{}
	}
	if c.PinnedKeys == nil {
		c.PinnedKeys = []string{}
	}
	if c.ChangeHistory == nil {
		c.ChangeHistory = []Entry{}
	}
	v, err := docpath.Normalize(c)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Entry returns the history entry recorded for key.
func (c *CollectionInfo) Entry(key string) (Entry, bool) {
	if i, ok := c.index(key); ok {
		return c.ChangeHistory[i], true
	}
	return Entry{}, false
}

func (c *CollectionInfo) index(key string) (int, bool) {
	for i := range c.ChangeHistory {
		if c.ChangeHistory[i].Key == key {
			return i, true
		}
	}
	return 0, false
}

func (c *CollectionInfo) put(e Entry) {
	if i, ok := c.index(e.Key); ok {
		c.ChangeHistory[i] = e
		return
	}
	c.ChangeHistory = append(c.ChangeHistory, e)
	sort.SliceStable(c.ChangeHistory, func(i, j int) bool {
		return c.ChangeHistory[i].Key < c.ChangeHistory[j].Key
	})
}

// addSource records the writer's identifiers; it reports whether anything changed.
func (c *CollectionInfo) addSource(src Source) bool {
	changed := false
	if !src.IsManual() {
		c.Collectors, changed = addSorted(c.Collectors, src.UpdatedBy)
	}
	var added bool
	c.ServiceAccounts, added = addSorted(c.ServiceAccounts, src.ServiceAccountID)
	changed = changed || added
	c.Secrets, added = addSorted(c.Secrets, src.SecretID)
	changed = changed || added
	return changed
}

// IsPinned reports whether p is a pinned key or lies under one.
func (c *CollectionInfo) IsPinned(p docpath.Path, extra []string) bool {
	return matchesAny(p, c.PinnedKeys) || matchesAny(p, extra)
}

// PinnedUnder lists the pinned keys that lie strictly below p.
func (c *CollectionInfo) PinnedUnder(p docpath.Path, extra []string) []docpath.Path {
	var out []docpath.Path
	for _, keys := range [][]string{c.PinnedKeys, extra} {
		for _, k := range keys {
			kp, err := docpath.Parse(k)
			if err != nil || len(kp) <= len(p) || !kp.HasPrefix(p) {
				continue
			}
			out = append(out, kp)
		}
	}
	return out
}

// Pin adds keys, returning whether the set changed.
func (c *CollectionInfo) Pin(keys ...string) bool {
	changed := false
	for _, k := range keys {
		var added bool
		c.PinnedKeys, added = addSorted(c.PinnedKeys, k)
		changed = changed || added
	}
	return changed
}

// Unpin removes keys, returning whether the set changed.
func (c *CollectionInfo) Unpin(keys ...string) bool {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	kept := c.PinnedKeys[:0]
	for _, k := range c.PinnedKeys {
		if _, ok := drop[k]; !ok {
			kept = append(kept, k)
		}
	}
	changed := len(kept) != len(c.PinnedKeys)
	c.PinnedKeys = kept
	return changed
}

func matchesAny(p docpath.Path, keys []string) bool {
	for _, k := range keys {
		kp, err := docpath.Parse(k)
		if err != nil {
			continue
		}
		if p.HasPrefix(kp) {
			return true
		}
	}
	return false
}

func addSorted(list []string, v string) ([]string, bool) {
	if v == "" {
		return list, false
	}
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list, false
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, v)
	out = append(out, list[i:]...)
	return out, true
}

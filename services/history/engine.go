package history

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"inventory-collector/pkg/docpath"
)

// Input is one snapshot to reconcile. Old is nil on the create path.
type Input struct {
	Snapshot    map[string]any
	Old         map[string]any
	Source      Source
	Mode        UpdateMode
	PinnedKeys  []string
	ExcludeKeys []string
}

// Result of a merge. On create Document is the full record; on update it only
// holds the top-level fields that changed, including collection_info.
type Result struct {
	Document map[string]any
	Changed  bool
	Entries  []Entry
}

type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock is used by tests that assert on UpdatedAt.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

type field struct {
	path  docpath.Path
	value any
}

// fields flattens a snapshot into mergeable fields: data.* one level deep,
// metadata as a whole under the source key, everything else top-level.
func fields(snapshot map[string]any, src Source) []field {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []field
	for _, k := range keys {
		v := snapshot[k]
		switch k {
		case CollectionInfoKey:
			continue
		case "data":
			data, ok := v.(map[string]any)
			if !ok {
				out = append(out, field{path: docpath.Join(k), value: v})
				continue
			}
			dk := make([]string, 0, len(data))
			for sub := range data {
				dk = append(dk, sub)
			}
			sort.Strings(dk)
			for _, sub := range dk {
				out = append(out, field{path: docpath.Join("data", sub), value: data[sub]})
			}
		case "metadata":
			out = append(out, field{path: docpath.Join("metadata", src.Key()), value: v})
		default:
			out = append(out, field{path: docpath.Join(k), value: v})
		}
	}
	return out
}

func excluded(p docpath.Path, exclude []string) bool {
	for _, k := range exclude {
		if p.Root() == k || p.String() == k {
			return true
		}
	}
	return false
}

// Create builds a new record. Excluded fields are copied without history.
func (e *Engine) Create(in Input) (Result, error) {
	snapshot, err := docpath.NormalizeDocument(in.Snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("normalize snapshot: %w", err)
	}

	now := e.now().UTC()
	priority := in.Source.EffectivePriority()
	doc := map[string]any{}
	info := CollectionInfo{State: StateActive}
	info.addSource(in.Source)
	info.Pin(in.PinnedKeys...)

	var entries []Entry
	for _, f := range fields(snapshot, in.Source) {
		docpath.Set(doc, f.path, f.value)
		if excluded(f.path, in.ExcludeKeys) {
			continue
		}
		entry := Entry{
			Key:       f.path.String(),
			Priority:  priority,
			Data:      f.value,
			Diff:      &Diff{Insert: f.value},
			JobID:     in.Source.JobID,
			UpdatedBy: in.Source.Key(),
			UpdatedAt: now,
		}
		info.put(entry)
		entries = append(entries, entry)
	}

	encoded, err := info.Encode()
	if err != nil {
		return Result{}, err
	}
	doc[CollectionInfoKey] = encoded

	return Result{Document: doc, Changed: true, Entries: entries}, nil
}

// Merge reconciles a snapshot into an existing record under the priority policy.
func (e *Engine) Merge(in Input) (Result, error) {
	if in.Old == nil {
		return e.Create(in)
	}

	snapshot, err := docpath.NormalizeDocument(in.Snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("normalize snapshot: %w", err)
	}
	old, err := docpath.NormalizeDocument(in.Old)
	if err != nil {
		return Result{}, fmt.Errorf("normalize stored document: %w", err)
	}
	info, err := DecodeCollectionInfo(old)
	if err != nil {
		return Result{}, err
	}

	now := e.now().UTC()
	incoming := in.Source.EffectivePriority()
	updates := map[string]any{}
	var entries []Entry

	for _, f := range fields(snapshot, in.Source) {
		if excluded(f.path, in.ExcludeKeys) || info.IsPinned(f.path, in.PinnedKeys) {
			continue
		}

		key := f.path.String()
		next := f.value
		prev, hasPrev := docpath.Get(old, f.path)

		if in.Mode == UpdateModeMerge {
			next = shallowMerge(prev, next)
		}
		next, ok := keepPinned(old, f.path, next, info.PinnedUnder(f.path, in.PinnedKeys))
		if !ok {
			continue
		}

		if existing, ok := info.Entry(key); ok && incoming > existing.Priority {
			continue
		}
		if hasPrev && reflect.DeepEqual(prev, next) {
			continue
		}

		stage(updates, old, f.path, next)
		entry := Entry{
			Key:       key,
			Priority:  incoming,
			Data:      next,
			Diff:      diff(prev, hasPrev, next),
			JobID:     in.Source.JobID,
			UpdatedBy: in.Source.Key(),
			UpdatedAt: now,
		}
		info.put(entry)
		entries = append(entries, entry)
	}

	infoChanged := info.addSource(in.Source)
	if !in.Source.IsManual() && info.State != StateActive {
		info.State = StateActive
		infoChanged = true
	}

	if len(entries) == 0 && !infoChanged {
		return Result{Document: map[string]any{}}, nil
	}

	encoded, err := info.Encode()
	if err != nil {
		return Result{}, err
	}
	updates[CollectionInfoKey] = encoded

	return Result{Document: updates, Changed: true, Entries: entries}, nil
}

// stage writes value into the sparse update, seeding nested top-level
// fields from the stored document so siblings are preserved.
func stage(updates, old map[string]any, p docpath.Path, value any) {
	root := p.Root()
	if len(p) > 1 {
		if _, ok := updates[root].(map[string]any); !ok {
			base, _ := docpath.DeepCopy(old[root]).(map[string]any)
			if base == nil {
				base = map[string]any{}
			}
			updates[root] = base
		}
	}
	docpath.Set(updates, p, value)
}

// keepPinned puts the stored value of every pinned path below p back into
// next, or drops it when nothing was stored there. It reports false when next
// is not an object and would overwrite a stored pinned value.
func keepPinned(old map[string]any, p docpath.Path, next any, pinned []docpath.Path) (any, bool) {
	if len(pinned) == 0 {
		return next, true
	}
	m, isObject := next.(map[string]any)
	if !isObject {
		for _, k := range pinned {
			if _, ok := docpath.Get(old, k); ok {
				return nil, false
			}
		}
		return next, true
	}

	out := docpath.CopyDocument(m)
	for _, k := range pinned {
		rel := k[len(p):]
		if v, ok := docpath.Get(old, k); ok {
			docpath.Set(out, rel, docpath.DeepCopy(v))
		} else {
			docpath.Delete(out, rel)
		}
	}
	return out, true
}

// shallowMerge overlays next on prev when both are objects; new keys win.
func shallowMerge(prev, next any) any {
	pm, ok := prev.(map[string]any)
	if !ok {
		return next
	}
	nm, ok := next.(map[string]any)
	if !ok {
		return next
	}
	out := make(map[string]any, len(pm)+len(nm))
	for k, v := range pm {
		out[k] = v
	}
	for k, v := range nm {
		out[k] = v
	}
	return out
}

func diff(prev any, hasPrev bool, next any) *Diff {
	nl, newIsList := next.([]any)
	pl, prevIsList := prev.([]any)
	if newIsList && (prevIsList || !hasPrev) {
		return &Diff{Insert: missingFrom(nl, pl), Delete: missingFrom(pl, nl)}
	}
	d := &Diff{Insert: next}
	if hasPrev {
		d.Delete = prev
	}
	return d
}

// missingFrom returns the elements of a that do not occur in b.
func missingFrom(a, b []any) []any {
	out := []any{}
	for _, x := range a {
		found := false
		for _, y := range b {
			if reflect.DeepEqual(x, y) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}

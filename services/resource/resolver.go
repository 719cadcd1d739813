package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"inventory-collector/pkg/docpath"
	"inventory-collector/pkg/errutil"
)

const (
	matchQueryLimit = 10
	previewLimit    = 256
)

var ErrNoMatchRule = errutil.Sentinel(errutil.StatusNoMatchRule, "no match rule configured")

// Scope limits matching to one tenant.
type Scope struct {
	DomainID    string
	WorkspaceID string
}

// TooManyMatchesError is raised when a match rule order selects more than one record.
type TooManyMatchesError struct {
	MatchKey        []string
	CandidateIDs    []string
	SnapshotPreview string
}

func (e *TooManyMatchesError) Error() string {
	return fmt.Sprintf("match key %s selected %d records: %s",
		strings.Join(e.MatchKey, ","), len(e.CandidateIDs), strings.Join(e.CandidateIDs, ","))
}

func (e *TooManyMatchesError) Status() errutil.CoreStatus {
	return errutil.StatusTooManyMatches
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve finds the stored record matching snapshot. Orders are tried in
// ascending order and the first unique hit wins; no hit at all returns nil.
func (r *Resolver) Resolve(ctx context.Context, resourceType string, snapshot map[string]any, rules map[int][]string, scope Scope) (*Record, int, error) {
	if len(rules) == 0 {
		return nil, 0, ErrNoMatchRule
	}

	orders := make([]int, 0, len(rules))
	for order := range rules {
		orders = append(orders, order)
	}
	sort.Ints(orders)

	for _, order := range orders {
		keys := rules[order]
		conditions, ok, err := conditionsFor(snapshot, keys)
		if err != nil {
			return nil, 0, errutil.InvalidArgument("invalid match key", err)
		}
		if !ok {
			continue
		}

		records, total, err := r.store.Query(ctx, Query{
			ResourceType: resourceType,
			DomainID:     scope.DomainID,
			WorkspaceID:  scope.WorkspaceID,
			Conditions:   conditions,
			Limit:        matchQueryLimit,
		})
		if err != nil {
			return nil, 0, err
		}

		switch {
		case total == 1 && len(records) == 1:
			return &records[0], 1, nil
		case total > 1:
			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, rec.ResourceID)
			}
			return nil, int(total), &TooManyMatchesError{
				MatchKey:        keys,
				CandidateIDs:    ids,
				SnapshotPreview: preview(snapshot, keys),
			}
		}
	}
	return nil, 0, nil
}

// conditionsFor reads every key of one order from the snapshot. A list value
// matches any of its elements. An order with a missing value, an object, an
// empty list or a list holding non-scalars cannot match and is skipped.
func conditionsFor(snapshot map[string]any, keys []string) ([]Condition, bool, error) {
	if len(keys) == 0 {
		return nil, false, nil
	}
	conditions := make([]Condition, 0, len(keys))
	for _, key := range keys {
		p, err := TranslateKey(key)
		if err != nil {
			return nil, false, err
		}
		v, ok := docpath.Get(snapshot, p)
		if !ok || v == nil {
			return nil, false, nil
		}
		switch t := v.(type) {
		case map[string]any:
			return nil, false, nil
		case []any:
			if !scalars(t) {
				return nil, false, nil
			}
			conditions = append(conditions, Condition{Path: p, In: t})
			continue
		}
		conditions = append(conditions, Condition{Path: p, Value: v})
	}
	return conditions, true, nil
}

func scalars(values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		switch v.(type) {
		case nil, map[string]any, []any:
			return false
		}
	}
	return true
}

func preview(snapshot map[string]any, keys []string) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		p, err := TranslateKey(key)
		if err != nil {
			continue
		}
		v, _ := docpath.Get(snapshot, p)
		parts = append(parts, fmt.Sprintf("%s=%v", key, v))
	}
	return errutil.Truncate(strings.Join(parts, " "), previewLimit)
}

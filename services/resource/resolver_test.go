package resource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inventory-collector/pkg/errutil"
	"inventory-collector/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// scriptedStore answers queries in call order and records them.
type scriptedStore struct {
	Store
	answers [][]Record
	queries []Query
}

func (s *scriptedStore) Query(_ context.Context, q Query) ([]Record, int64, error) {
	s.queries = append(s.queries, q)
	if len(s.answers) == 0 {
		return nil, 0, nil
	}
	recs := s.answers[0]
	s.answers = s.answers[1:]
	return recs, int64(len(recs)), nil
}

var scope = Scope{DomainID: "domain-1", WorkspaceID: "ws-1"}

func TestResolveShortCircuitsOnFirstUniqueMatch(t *testing.T) {
	store := &scriptedStore{answers: [][]Record{
		nil,
		{{ResourceID: "cloud-svc-1"}},
		{{ResourceID: "cloud-svc-2"}, {ResourceID: "cloud-svc-3"}},
	}}
	r := NewResolver(store)

	rec, n, err := r.Resolve(context.Background(), TypeCloudService, map[string]any{
		"reference": map[string]any{"resource_id": "arn:1"},
		"name":      "vm-1",
		"account":   "123",
	}, map[int][]string{
		3: {"account"},
		1: {"reference.resource_id"},
		2: {"name"},
	}, scope)

	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "cloud-svc-1", rec.ResourceID)
	require.Len(t, store.queries, 2)
	require.Equal(t, "reference.resource_id", store.queries[0].Conditions[0].Path.String())
	require.Equal(t, "name", store.queries[1].Conditions[0].Path.String())
	require.Equal(t, "domain-1", store.queries[1].DomainID)
	require.Equal(t, "ws-1", store.queries[1].WorkspaceID)
}

func TestResolveTooManyMatches(t *testing.T) {
	store := &scriptedStore{answers: [][]Record{
		{{ResourceID: "cloud-svc-1"}, {ResourceID: "cloud-svc-2"}},
		{{ResourceID: "cloud-svc-3"}},
	}}
	r := NewResolver(store)

	_, n, err := r.Resolve(context.Background(), TypeCloudService, map[string]any{"name": "vm", "account": "123"},
		map[int][]string{1: {"name"}, 2: {"account"}}, scope)

	var tooMany *TooManyMatchesError
	require.True(t, errors.As(err, &tooMany))
	require.Equal(t, 2, n)
	require.Equal(t, []string{"name"}, tooMany.MatchKey)
	require.Equal(t, []string{"cloud-svc-1", "cloud-svc-2"}, tooMany.CandidateIDs)
	require.Contains(t, tooMany.SnapshotPreview, "name=vm")
	require.Equal(t, errutil.StatusTooManyMatches, errutil.CodeOf(err))
	require.Len(t, store.queries, 1)
}

func TestResolveNoMatch(t *testing.T) {
	store := &scriptedStore{}
	r := NewResolver(store)

	rec, n, err := r.Resolve(context.Background(), TypeServer, map[string]any{"name": "vm"},
		map[int][]string{1: {"name"}, 2: {"ip_addresses"}}, scope)

	require.NoError(t, err)
	require.Nil(t, rec)
	require.Zero(t, n)
	// ip_addresses is missing from the snapshot, so only one query runs.
	require.Len(t, store.queries, 1)
}

func TestResolveSkipsNonScalarKeys(t *testing.T) {
	store := &scriptedStore{}
	r := NewResolver(store)

	_, _, err := r.Resolve(context.Background(), TypeServer, map[string]any{"data": map[string]any{
		"ips":   []any{},
		"disks": []any{map[string]any{"size": 10}},
	}}, map[int][]string{1: {"data"}, 2: {"data.ips"}, 3: {"data.disks"}}, scope)

	require.NoError(t, err)
	require.Empty(t, store.queries)
}

func TestResolveListValueMatchesAnyElement(t *testing.T) {
	store := &scriptedStore{}
	r := NewResolver(store)

	_, _, err := r.Resolve(context.Background(), TypeServer, map[string]any{"data": map[string]any{"ips": []any{"10.0.0.1", "10.0.0.2"}}},
		map[int][]string{1: {"data.ips"}}, scope)

	require.NoError(t, err)
	require.Len(t, store.queries, 1)
	cond := store.queries[0].Conditions[0]
	require.Equal(t, "data.ips", cond.Path.String())
	require.Equal(t, []any{"10.0.0.1", "10.0.0.2"}, cond.In)
}

func TestResolveListValueAgainstStoredDocuments(t *testing.T) {
	store := NewStore(testutil.NewTestDB(t, Models()...))
	ctx := context.Background()

	for _, rec := range []*Record{
		{ResourceID: "server-1", ResourceType: TypeServer, DomainID: "domain-1", Document: map[string]any{"ip": "10.0.0.1", "workspace_id": "ws-1"}},
		{ResourceID: "server-2", ResourceType: TypeServer, DomainID: "domain-1", Document: map[string]any{"ip": "10.0.0.9", "workspace_id": "ws-1"}},
	} {
		require.NoError(t, store.Create(ctx, rec))
	}
	r := NewResolver(store)

	rec, n, err := r.Resolve(ctx, TypeServer, map[string]any{"ip": []any{"10.0.0.2", "10.0.0.9"}},
		map[int][]string{1: {"ip"}}, scope)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "server-2", rec.ResourceID)

	_, _, err = r.Resolve(ctx, TypeServer, map[string]any{"ip": []any{"10.0.0.1", "10.0.0.9"}},
		map[int][]string{1: {"ip"}}, scope)
	var tooMany *TooManyMatchesError
	require.ErrorAs(t, err, &tooMany)
	require.ElementsMatch(t, []string{"server-1", "server-2"}, tooMany.CandidateIDs)
}

func TestResolveWithoutRules(t *testing.T) {
	r := NewResolver(&scriptedStore{})

	_, _, err := r.Resolve(context.Background(), TypeServer, map[string]any{"name": "vm"}, nil, scope)
	require.ErrorIs(t, err, ErrNoMatchRule)
	require.Equal(t, errutil.StatusNoMatchRule, errutil.CodeOf(err))
}

func TestResolveAgainstStoredDocuments(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	store := NewStore(db)
	ctx := context.Background()

	for _, rec := range []*Record{
		{ResourceID: "server-1", ResourceType: TypeServer, DomainID: "domain-1", Document: map[string]any{
			"name": "web", "workspace_id": "ws-1",
			TagsField: NormalizeTags(map[string]any{"Name": "web-prod"}, "aws"),
		}},
		{ResourceID: "server-2", ResourceType: TypeServer, DomainID: "domain-1", Document: map[string]any{
			"name": "web", "workspace_id": "ws-1",
			TagsField: NormalizeTags(map[string]any{"Name": "web-dev"}, "aws"),
		}},
		{ResourceID: "server-3", ResourceType: TypeServer, DomainID: "domain-2", Document: map[string]any{
			"name": "web", "workspace_id": "ws-9",
		}},
	} {
		require.NoError(t, store.Create(ctx, rec))
	}

	r := NewResolver(store)

	rec, n, err := r.Resolve(ctx, TypeServer, map[string]any{
		TagsField: NormalizeTags(map[string]any{"Name": "web-dev"}, "aws"),
	}, map[int][]string{1: {"tags.Name"}}, scope)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "server-2", rec.ResourceID)

	_, _, err = r.Resolve(ctx, TypeServer, map[string]any{"name": "web"}, map[int][]string{1: {"name"}}, scope)
	var tooMany *TooManyMatchesError
	require.ErrorAs(t, err, &tooMany)
	require.ElementsMatch(t, []string{"server-1", "server-2"}, tooMany.CandidateIDs)

	rec, _, err = r.Resolve(ctx, TypeServer, map[string]any{"name": "web"}, map[int][]string{1: {"name"}},
		Scope{DomainID: "domain-2"})
	require.NoError(t, err)
	require.Equal(t, "server-3", rec.ResourceID)
}

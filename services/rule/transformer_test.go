package rule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inventory-collector/pkg/errutil"
	"inventory-collector/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *Transformer) {
	t.Helper()
	repo := NewRepository(testutil.NewTestDB(t, Models()...))
	cache := NewRuleCache(time.Minute)
	svc := NewService(Params{Repository: repo, Cache: cache, Generator: testutil.NewSequenceGenerator()})
	return svc, NewTransformer(repo, cache)
}

func TestTransformAppliesRulesInOrder(t *testing.T) {
	svc, tr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{
		CollectorID: "collector-1",
		Order:       2,
		Condition:   `resource.region_code == "us-east-1"`,
		Actions:     Actions{ChangeProject: "project-east", AddAdditionalInfo: map[string]any{"zone": "east"}},
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{
		CollectorID: "collector-1",
		Order:       1,
		Actions:     Actions{ChangeWorkspace: "ws-2", AddAdditionalInfo: map[string]any{"team": "core"}},
	})
	require.NoError(t, err)

	in := map[string]any{"name": "vm-1", "region_code": "us-east-1", "project_id": "project-1"}
	out, err := tr.Transform(ctx, "collector-1", "inventory.CloudService", in)
	require.NoError(t, err)
	require.Equal(t, "project-east", out["project_id"])
	require.Equal(t, "ws-2", out["workspace_id"])
	require.Equal(t, map[string]any{"team": "core", "zone": "east"}, out[AdditionalInfoField])
	// The input snapshot is left alone.
	require.Equal(t, "project-1", in["project_id"])

	out, err = tr.Transform(ctx, "collector-1", "inventory.CloudService", map[string]any{"region_code": "eu-west-1"})
	require.NoError(t, err)
	require.NotContains(t, out, "project_id")
}

func TestTransformStopProcessing(t *testing.T) {
	svc, tr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{
		CollectorID:    "collector-1",
		Order:          1,
		Condition:      `resource_type == "inventory.Server"`,
		Actions:        Actions{ChangeProject: "project-servers"},
		StopProcessing: true,
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateParams{
		CollectorID: "collector-1",
		Order:       2,
		Actions:     Actions{ChangeProject: "project-fallback"},
	})
	require.NoError(t, err)

	out, err := tr.Transform(ctx, "collector-1", "inventory.Server", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "project-servers", out["project_id"])

	out, err = tr.Transform(ctx, "collector-1", "inventory.CloudService", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "project-fallback", out["project_id"])
}

func TestTransformMissingFieldIsNoMatch(t *testing.T) {
	svc, tr := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{
		CollectorID: "collector-1",
		Condition:   `resource.data.vpc_id == "vpc-1"`,
		Actions:     Actions{ChangeProject: "project-vpc"},
	})
	require.NoError(t, err)

	out, err := tr.Transform(ctx, "collector-1", "inventory.CloudService", map[string]any{"name": "no data"})
	require.NoError(t, err)
	require.NotContains(t, out, "project_id")
}

func TestTransformWithoutRules(t *testing.T) {
	_, tr := newTestService(t)

	in := map[string]any{"name": "vm"}
	out, err := tr.Transform(context.Background(), "collector-9", "inventory.Server", in)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestCreateRejectsInvalidCondition(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateParams{CollectorID: "collector-1", Condition: `resource.name ==`})
	require.Equal(t, errutil.StatusInvalidArgument, errutil.CodeOf(err))

	_, err = svc.Create(ctx, CreateParams{CollectorID: "collector-1", Condition: `"not a bool"`})
	require.Equal(t, errutil.StatusInvalidArgument, errutil.CodeOf(err))
}

func TestCacheInvalidatedOnWrite(t *testing.T) {
	svc, tr := newTestService(t)
	ctx := context.Background()

	out, err := tr.Transform(ctx, "collector-1", "inventory.Server", map[string]any{})
	require.NoError(t, err)
	require.NotContains(t, out, "project_id")

	rule, err := svc.Create(ctx, CreateParams{CollectorID: "collector-1", Actions: Actions{ChangeProject: "project-1"}})
	require.NoError(t, err)
	out, err = tr.Transform(ctx, "collector-1", "inventory.Server", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, "project-1", out["project_id"])

	require.NoError(t, svc.Delete(ctx, rule.RuleID))
	out, err = tr.Transform(ctx, "collector-1", "inventory.Server", map[string]any{})
	require.NoError(t, err)
	require.NotContains(t, out, "project_id")

	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(svc.Delete(ctx, rule.RuleID)))
}

func TestRuleCacheSharesConcurrentLoads(t *testing.T) {
	cache := NewRuleCache(time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.GetOrLoad("collector-1", func() ([]*CompiledRule, error) {
				loads.Add(1)
				<-release
				return []*CompiledRule{{ID: "rule-1"}}, nil
			})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.LessOrEqual(t, loads.Load(), int32(2))

	rules, err := cache.GetOrLoad("collector-1", func() ([]*CompiledRule, error) {
		return nil, errors.New("should be cached")
	})
	require.NoError(t, err)
	require.Equal(t, "rule-1", rules[0].ID)
}

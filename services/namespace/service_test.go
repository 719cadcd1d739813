package namespace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"inventory-collector/pkg/errutil"
	"inventory-collector/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestUpsertByVersion(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t, Models()...))
	ctx := context.Background()
	scope := Scope{DomainID: "domain-1", WorkspaceID: "ws-1", CollectorID: "collector-1"}

	res, err := svc.Upsert(ctx, KindNamespace, map[string]any{"namespace_id": "ns-aws-ec2", "name": "EC2", "version": "1.0"}, scope)
	require.NoError(t, err)
	require.Equal(t, ResultCreated, res)

	res, err = svc.Upsert(ctx, KindNamespace, map[string]any{"namespace_id": "ns-aws-ec2", "name": "renamed", "version": "1.0"}, scope)
	require.NoError(t, err)
	require.Equal(t, ResultUnchanged, res)

	d, err := svc.Get(ctx, KindNamespace, "domain-1", "ns-aws-ec2")
	require.NoError(t, err)
	require.Equal(t, "EC2", d.Document["name"])

	res, err = svc.Upsert(ctx, KindNamespace, map[string]any{"namespace_id": "ns-aws-ec2", "name": "EC2 v2", "version": "1.1"}, scope)
	require.NoError(t, err)
	require.Equal(t, ResultUpdated, res)

	d, err = svc.Get(ctx, KindNamespace, "domain-1", "ns-aws-ec2")
	require.NoError(t, err)
	require.Equal(t, "1.1", d.Version)
	require.Equal(t, "EC2 v2", d.Document["name"])
}

func TestUpsertKeepsKindsAndDomainsApart(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t, Models()...))
	ctx := context.Background()

	res, err := svc.Upsert(ctx, KindMetric, map[string]any{"metric_id": "cpu", "version": 1}, Scope{DomainID: "domain-1"})
	require.NoError(t, err)
	require.Equal(t, ResultCreated, res)

	res, err = svc.Upsert(ctx, KindMetric, map[string]any{"metric_id": "cpu", "version": 1}, Scope{DomainID: "domain-2"})
	require.NoError(t, err)
	require.Equal(t, ResultCreated, res)

	_, err = svc.Get(ctx, KindNamespace, "domain-1", "cpu")
	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(err))
}

func TestUpsertRequiresID(t *testing.T) {
	svc := NewService(testutil.NewTestDB(t, Models()...))

	_, err := svc.Upsert(context.Background(), KindMetric, map[string]any{"name": "cpu"}, Scope{DomainID: "domain-1"})
	require.Equal(t, errutil.StatusInvalidArgument, errutil.CodeOf(err))
}

package collector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"inventory-collector/pkg/errutil"
	"inventory-collector/services/identity"
	"inventory-collector/services/plugin"
)

func TestCreateCollector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.svc.Create(ctx, CreateParams{
		Name:           "aws",
		Provider:       "aws",
		DomainID:       "domain-1",
		PluginInfo:     plugin.Info{PluginID: "plugin-aws", Options: map[string]any{"regions": []any{"us-east-1"}}},
		MaxConcurrency: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "collector-1", c.CollectorID)
	require.Equal(t, StateEnabled, c.State)
	require.Equal(t, 10, c.Priority)

	stored, err := f.svc.Get(ctx, c.CollectorID, "domain-1")
	require.NoError(t, err)
	require.Equal(t, "plugin-aws", stored.PluginInfo.Data().PluginID)
	require.Equal(t, identity.FilterStateDisabled, stored.SecretFilter.Data().State)
	require.Equal(t, 2, stored.MaxConcurrency)

	_, err = f.svc.Get(ctx, c.CollectorID, "domain-2")
	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(err))
}

func TestCreateCollectorValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
	}{
		{"missing name", CreateParams{DomainID: "domain-1", PluginInfo: plugin.Info{PluginID: "p"}}},
		{"missing domain", CreateParams{Name: "x", PluginInfo: plugin.Info{PluginID: "p"}}},
		{"missing plugin", CreateParams{Name: "x", DomainID: "domain-1"}},
		{"negative concurrency", CreateParams{Name: "x", DomainID: "domain-1", PluginInfo: plugin.Info{PluginID: "p"}, MaxConcurrency: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.params)
			require.Equal(t, errutil.StatusInvalidArgument, errutil.CodeOf(err))
		})
	}
}

func TestDeleteCollectorRemovesJobs(t *testing.T) {
	f := newFixture(t, twoSecrets...)
	c := f.createCollector(t, identity.SecretFilter{})
	ctx := context.Background()

	j, err := f.orch.Collect(ctx, CollectParams{CollectorID: c.CollectorID, DomainID: "domain-1"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, c.CollectorID, "domain-1"))

	_, err = f.jobs.Get(ctx, j.JobID)
	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(err))
	tasks, err := f.jobs.ListTasks(ctx, j.JobID)
	require.NoError(t, err)
	require.Empty(t, tasks)

	require.Equal(t, errutil.StatusNotFound, errutil.CodeOf(f.svc.Delete(ctx, c.CollectorID, "domain-1")))
}

package collecting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/taskname"
	"inventory-collector/services/collector"
	"inventory-collector/services/history"
	"inventory-collector/services/job"
	"inventory-collector/services/namespace"
	"inventory-collector/services/plugin"
	"inventory-collector/services/resource"
	"inventory-collector/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeSecrets struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSecrets) GetSecretData(_ context.Context, _, secretID string) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return map[string]any{"token": "t-" + secretID}, nil
}

type fakePlugin struct {
	envelopes map[string][]*plugin.ResourceEnvelope
	streams   map[string]plugin.Stream
	fail      map[string]bool
	// started receives the secret of every call; release, when set, holds
	// each call until it is closed.
	started chan string
	release chan struct{}

	mu       sync.Mutex
	requests []plugin.CollectRequest
}

func (f *fakePlugin) GetTasks(context.Context, plugin.TaskRequest) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakePlugin) Collect(_ context.Context, req plugin.CollectRequest) (plugin.Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.SecretID
	}
	if f.release != nil {
		<-f.release
	}
	if f.fail[req.SecretID] {
		return nil, errors.New("plugin crashed")
	}
	if s, ok := f.streams[req.SecretID]; ok {
		return s, nil
	}
	return plugin.NewSliceStream(f.envelopes[req.SecretID]...), nil
}

func (f *fakePlugin) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// brokenStream yields its envelopes and then fails.
type brokenStream struct {
	items []*plugin.ResourceEnvelope
}

func (s *brokenStream) Next(context.Context) (*plugin.ResourceEnvelope, error) {
	if len(s.items) == 0 {
		return nil, errors.New("connection reset")
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, nil
}

func (s *brokenStream) Close() error { return nil }

type enqueued struct {
	task *asynq.Task
	opts []asynq.Option
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (q *fakeQueue) Enqueue(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{task: task, opts: opts})
	return &asynq.TaskInfo{ID: "task"}, nil
}

type transformFunc func(snapshot map[string]any) (map[string]any, error)

func (f transformFunc) Transform(_ context.Context, _, _ string, snapshot map[string]any) (map[string]any, error) {
	return f(snapshot)
}

type fixture struct {
	exec    *Executor
	jobs    *job.Manager
	store   resource.Store
	decl    *namespace.Service
	secrets *fakeSecrets
	plugins *fakePlugin
	queue   *fakeQueue
	repo    collector.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var models []any
	models = append(models, collector.Models()...)
	models = append(models, job.Models()...)
	models = append(models, resource.Models()...)
	models = append(models, namespace.Models()...)
	db := testutil.NewTestDB(t, models...)

	cfg := &config.Config{}
	cfg.Collector.Queue = "collector"
	cfg.Collector.ConcurrencyBackoff = 30 * time.Second
	cfg.Collector.ErrorMessageLimit = 256
	seq := testutil.NewSequenceGenerator()

	jobs := job.NewManager(job.Params{Repository: job.NewRepository(db), Generator: seq, Config: cfg})
	store := resource.NewStore(db)
	resources := resource.NewService(resource.Params{
		Store:     store,
		Resolver:  resource.NewResolver(store),
		Engine:    history.NewEngine(),
		Generator: seq,
	})
	f := &fixture{
		jobs:    jobs,
		store:   store,
		decl:    namespace.NewService(db),
		secrets: &fakeSecrets{},
		plugins: &fakePlugin{
			envelopes: map[string][]*plugin.ResourceEnvelope{},
			streams:   map[string]plugin.Stream{},
			fail:      map[string]bool{},
		},
		queue: &fakeQueue{},
		repo:  collector.NewRepository(db),
	}
	f.exec = NewExecutor(Params{
		Collectors:   f.repo,
		Jobs:         jobs,
		Secrets:      f.secrets,
		Plugins:      f.plugins,
		Resources:    resources,
		Declarations: f.decl,
		Queue:        f.queue,
		Config:       cfg,
	})
	return f
}

// start registers a collector and creates a job with one task per spec,
// returning one work item per sub-task.
func (f *fixture) start(t *testing.T, maxConcurrency int, specs ...job.TaskSpec) (*job.Job, []collector.WorkItem) {
	t.Helper()
	ctx := context.Background()
	info := plugin.Info{PluginID: "plugin-aws", Version: "1.0"}
	coll := &collector.Collector{
		CollectorID:    "collector-1",
		Name:           "aws",
		Provider:       "aws",
		DomainID:       "domain-1",
		WorkspaceID:    "ws-1",
		State:          collector.StateEnabled,
		PluginInfo:     datatypes.NewJSONType(info),
		MaxConcurrency: maxConcurrency,
		Priority:       10,
	}
	require.NoError(t, f.repo.Create(ctx, coll))

	j, tasks, err := f.jobs.CreateJob(ctx, job.CreateParams{
		CollectorID: coll.CollectorID,
		PluginID:    info.PluginID,
		DomainID:    coll.DomainID,
		WorkspaceID: coll.WorkspaceID,
		Tasks:       specs,
	})
	require.NoError(t, err)

	var items []collector.WorkItem
	for i, task := range tasks {
		for seq := 0; seq < task.TotalSubTasks; seq++ {
			items = append(items, collector.WorkItem{
				JobID:       j.JobID,
				JobTaskID:   task.JobTaskID,
				CollectorID: coll.CollectorID,
				DomainID:    coll.DomainID,
				WorkspaceID: coll.WorkspaceID,
				PluginInfo:  info,
				TaskOptions: map[string]any{"seq": seq},
				SecretInfo: collector.SecretInfo{
					SecretID:         specs[i].SecretID,
					ServiceAccountID: "sa-1",
					ProjectID:        "project-1",
					Provider:         "aws",
				},
				IsSubTask: task.TotalSubTasks > 1,
				Seq:       seq,
			})
		}
	}
	return j, items
}

func (f *fixture) job(t *testing.T, jobID string) *job.Job {
	t.Helper()
	j, err := f.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	return j
}

func (f *fixture) task(t *testing.T, jobTaskID string) *job.JobTask {
	t.Helper()
	task, err := f.jobs.GetTask(context.Background(), jobTaskID)
	require.NoError(t, err)
	return task
}

func secrets(ids ...string) []job.TaskSpec {
	specs := make([]job.TaskSpec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, job.TaskSpec{SecretID: id, ServiceAccountID: "sa-1", ProjectID: "project-1"})
	}
	return specs
}

func cloudService(name string) *plugin.ResourceEnvelope {
	return &plugin.ResourceEnvelope{
		ResourceType: resource.TypeCloudService,
		State:        plugin.StateOK,
		MatchRules:   map[int][]string{1: {"reference.resource_id"}},
		Resource: map[string]any{
			"name":      name,
			"reference": map[string]any{"resource_id": "arn:" + name},
			"tags":      map[string]any{"env": "prod"},
		},
	}
}

func region(code string) *plugin.ResourceEnvelope {
	return &plugin.ResourceEnvelope{
		ResourceType: resource.TypeRegion,
		State:        plugin.StateOK,
		MatchRules:   map[int][]string{1: {"region_code"}},
		Resource:     map[string]any{"region_code": code, "name": code},
	}
}

func errorCodes(task *job.JobTask) []string {
	out := make([]string, 0, len(task.Errors))
	for _, e := range task.Errors {
		out = append(out, e.Code)
	}
	return out
}

func TestRunCollectsResourcesAndFinishesJob(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{cloudService("vm-1"), cloudService("vm-2"), region("us-east-1")}
	ctx := context.Background()

	require.NoError(t, f.exec.Run(ctx, items[0]))

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusSuccess, task.Status)
	require.Equal(t, 2, task.CreatedCount)
	require.Equal(t, 0, task.UpdatedCount)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.FinishedAt)

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusSuccess, done.Status)
	require.Equal(t, 0, done.RemainedTasks)
	require.Equal(t, 1, done.SuccessTasks)

	// The plugin sees the fetched secret and the sub-task options.
	require.Len(t, f.plugins.requests, 1)
	require.Equal(t, map[string]any{"token": "t-secret-1"}, f.plugins.requests[0].SecretData)
	require.Equal(t, map[string]any{"seq": 0}, f.plugins.requests[0].TaskOptions)

	recs, total, err := f.store.Query(ctx, resource.Query{ResourceType: resource.TypeCloudService, DomainID: "domain-1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	for _, rec := range recs {
		require.Equal(t, "ws-1", rec.WorkspaceID)
		require.Equal(t, "project-1", rec.ProjectID)
		v, ok := resource.TagValue(rec.Document, "env")
		require.True(t, ok)
		require.Equal(t, "prod", v)
	}
}

func TestRunUpdatesOnSecondCollect(t *testing.T) {
	f := newFixture(t)
	_, items := f.start(t, 0, secrets("secret-1", "secret-1")...)
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{cloudService("vm-1")}
	ctx := context.Background()

	require.NoError(t, f.exec.Run(ctx, items[0]))
	require.NoError(t, f.exec.Run(ctx, items[1]))

	require.Equal(t, 1, f.task(t, items[0].JobTaskID).CreatedCount)
	second := f.task(t, items[1].JobTaskID)
	require.Equal(t, 0, second.CreatedCount)
	require.Equal(t, 1, second.UpdatedCount)

	_, total, err := f.store.Query(ctx, resource.Query{ResourceType: resource.TypeCloudService, DomainID: "domain-1"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestPluginFailureFailsOnlyItsTask(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1", "secret-2", "secret-3")...)
	for _, id := range []string{"secret-1", "secret-2", "secret-3"} {
		f.plugins.envelopes[id] = []*plugin.ResourceEnvelope{cloudService("vm-" + id)}
	}
	f.plugins.fail["secret-2"] = true
	ctx := context.Background()

	for _, item := range items {
		require.NoError(t, f.exec.Run(ctx, item))
	}

	require.Equal(t, job.JobTaskStatusSuccess, f.task(t, items[0].JobTaskID).Status)
	require.Equal(t, job.JobTaskStatusSuccess, f.task(t, items[2].JobTaskID).Status)
	require.Equal(t, 1, f.task(t, items[2].JobTaskID).CreatedCount)

	failed := f.task(t, items[1].JobTaskID)
	require.Equal(t, job.JobTaskStatusFailure, failed.Status)
	require.Equal(t, []string{string(errutil.StatusPluginInvocationFailed)}, errorCodes(failed))

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusFailure, done.Status)
	require.Equal(t, 0, done.RemainedTasks)
	require.Equal(t, 2, done.SuccessTasks)
	require.Equal(t, 1, done.FailureTasks)
}

func TestConcurrencyCapRequeuesWithDelay(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 2, secrets("secret-1", "secret-2", "secret-3")...)
	f.plugins.started = make(chan string, 4)
	f.plugins.release = make(chan struct{})
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, item := range items[:2] {
		wg.Add(1)
		go func(item collector.WorkItem) {
			defer wg.Done()
			errs <- f.exec.Run(ctx, item)
		}(item)
	}
	<-f.plugins.started
	<-f.plugins.started

	// Both running tasks hold the cap, so the third only gets requeued.
	require.NoError(t, f.exec.Run(ctx, items[2]))
	require.Equal(t, 2, f.plugins.calls())
	require.Equal(t, job.JobTaskStatusPending, f.task(t, items[2].JobTaskID).Status)
	require.Len(t, f.queue.tasks, 1)

	requeued := f.queue.tasks[0]
	require.Equal(t, taskname.CollectorCollect, requeued.task.Type())
	var delay time.Duration
	for _, opt := range requeued.opts {
		if opt.Type() == asynq.ProcessInOpt {
			delay = opt.Value().(time.Duration)
		}
	}
	require.Equal(t, 30*time.Second, delay)

	next, err := collector.DecodeWorkItem(requeued.task.Payload())
	require.NoError(t, err)
	require.Equal(t, items[2].JobTaskID, next.JobTaskID)
	require.Equal(t, 1, next.Attempt)
	require.Nil(t, next.SecretData)

	close(f.plugins.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, f.exec.Run(ctx, next))
	require.Equal(t, 3, f.plugins.calls())

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusSuccess, done.Status)
	require.Equal(t, 3, done.SuccessTasks)
	require.Equal(t, 0, done.FailureTasks)
}

func TestConcurrencyCapCountsSubTasks(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 2, job.TaskSpec{SecretID: "secret-1", SubTasks: 3})
	f.plugins.started = make(chan string, 4)
	f.plugins.release = make(chan struct{})
	ctx := context.Background()
	require.Len(t, items, 3)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, item := range items[:2] {
		wg.Add(1)
		go func(item collector.WorkItem) {
			defer wg.Done()
			errs <- f.exec.Run(ctx, item)
		}(item)
	}
	<-f.plugins.started
	<-f.plugins.started

	// The task is already IN_PROGRESS, yet its two running sub-tasks hold the cap.
	require.Equal(t, job.JobTaskStatusInProgress, f.task(t, items[2].JobTaskID).Status)
	running, err := f.jobs.CountRunningSubTasks(ctx, "collector-1", j.JobID)
	require.NoError(t, err)
	require.Equal(t, int64(2), running)

	require.NoError(t, f.exec.Run(ctx, items[2]))
	require.Equal(t, 2, f.plugins.calls())
	require.Len(t, f.queue.tasks, 1)

	close(f.plugins.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	running, err = f.jobs.CountRunningSubTasks(ctx, "collector-1", j.JobID)
	require.NoError(t, err)
	require.Zero(t, running)

	next, err := collector.DecodeWorkItem(f.queue.tasks[0].task.Payload())
	require.NoError(t, err)
	require.Equal(t, items[2].Seq, next.Seq)
	require.NoError(t, f.exec.Run(ctx, next))
	require.Equal(t, 3, f.plugins.calls())

	task := f.task(t, items[2].JobTaskID)
	require.Equal(t, job.JobTaskStatusSuccess, task.Status)
	require.Zero(t, task.RunningSubTasks)
	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusSuccess, done.Status)
	require.Equal(t, 3, done.SuccessTasks)
}

func TestCanceledJobCancelsPendingTasks(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1", "secret-2")...)
	ctx := context.Background()

	_, err := f.jobs.Cancel(ctx, j.JobID)
	require.NoError(t, err)

	require.NoError(t, f.exec.Run(ctx, items[0]))
	first := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusCanceled, first.Status)
	require.Equal(t, []string{string(errutil.StatusCollectCanceled)}, errorCodes(first))
	require.Equal(t, 1, f.job(t, j.JobID).RemainedTasks)

	require.NoError(t, f.exec.Run(ctx, items[1]))
	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusCanceled, done.Status)
	require.Equal(t, 0, done.RemainedTasks)
	require.Equal(t, 2, done.CanceledTasks)
	require.Zero(t, f.plugins.calls())
}

func TestResourceErrorsDoNotStopTheStream(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)

	noRules := cloudService("vm-no-rules")
	noRules.MatchRules = nil
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{
		cloudService("vm-1"),
		{ResourceType: resource.TypeCloudService, State: plugin.StateFailure, Message: "access denied"},
		{ResourceType: "inventory.Zone", State: plugin.StateOK, Resource: map[string]any{"name": "z"}},
		noRules,
		cloudService("boom"),
		cloudService("vm-2"),
	}
	f.exec.rules = transformFunc(func(snapshot map[string]any) (map[string]any, error) {
		if snapshot["name"] == "boom" {
			panic("nil rule action")
		}
		return snapshot, nil
	})

	require.NoError(t, f.exec.Run(context.Background(), items[0]))

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusFailure, task.Status)
	require.Equal(t, 2, task.CreatedCount)
	require.Equal(t, 4, task.FailureCount)
	require.Equal(t, []string{
		string(errutil.StatusPluginResourceFailure),
		string(errutil.StatusUnsupportedResourceType),
		string(errutil.StatusNoMatchRule),
		string(errutil.StatusUnknownUpsertFailure),
	}, errorCodes(task))
	require.Contains(t, task.Errors[0].Message, "access denied")
	require.Equal(t, "inventory.Zone", task.Errors[1].ResourceType)

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusFailure, done.Status)
	require.Equal(t, 1, done.FailureTasks)
}

func TestTooManyMatchesRecordsCandidates(t *testing.T) {
	f := newFixture(t)
	_, items := f.start(t, 0, secrets("secret-1")...)
	ctx := context.Background()
	for _, id := range []string{"cloud-svc-a", "cloud-svc-b"} {
		require.NoError(t, f.store.Create(ctx, &resource.Record{
			ResourceID:   id,
			ResourceType: resource.TypeCloudService,
			DomainID:     "domain-1",
			WorkspaceID:  "ws-1",
			Document:     datatypes.JSONMap{"name": "dup", "workspace_id": "ws-1"},
		}))
	}
	dup := cloudService("dup")
	dup.MatchRules = map[int][]string{1: {"name"}}
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{dup}

	require.NoError(t, f.exec.Run(ctx, items[0]))

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusFailure, task.Status)
	require.Len(t, task.Errors, 1)
	entry := task.Errors[0]
	require.Equal(t, string(errutil.StatusTooManyMatches), entry.Code)
	require.Equal(t, resource.TypeCloudService, entry.ResourceType)
	require.ElementsMatch(t, []any{"cloud-svc-a", "cloud-svc-b"}, entry.AdditionalInfo["candidate_ids"])
}

func TestPluginStreamErrorKeepsCollectedStats(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	f.plugins.streams["secret-1"] = &brokenStream{items: []*plugin.ResourceEnvelope{cloudService("vm-1")}}

	require.NoError(t, f.exec.Run(context.Background(), items[0]))

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusFailure, task.Status)
	require.Equal(t, 1, task.CreatedCount)
	require.Equal(t, []string{string(errutil.StatusPluginInvocationFailed)}, errorCodes(task))
	require.Equal(t, job.JobStatusFailure, f.job(t, j.JobID).Status)
}

func TestDeclarationsAreStoredButNotCounted(t *testing.T) {
	f := newFixture(t)
	_, items := f.start(t, 0, secrets("secret-1")...)
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{
		{ResourceType: resource.TypeNamespace, State: plugin.StateOK, Resource: map[string]any{"namespace_id": "ns-compute", "version": "1"}},
		{ResourceType: resource.TypeMetric, State: plugin.StateOK, Resource: map[string]any{"metric_id": "metric-cpu", "version": "1"}},
	}
	ctx := context.Background()

	require.NoError(t, f.exec.Run(ctx, items[0]))

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusSuccess, task.Status)
	require.Zero(t, task.CreatedCount)
	require.Zero(t, task.UpdatedCount)

	ns, err := f.decl.Get(ctx, namespace.KindNamespace, "domain-1", "ns-compute")
	require.NoError(t, err)
	require.Equal(t, "collector-1", ns.CollectorID)
	_, err = f.decl.Get(ctx, namespace.KindMetric, "domain-1", "metric-cpu")
	require.NoError(t, err)
}

func TestSubTasksFinishTaskOnce(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, job.TaskSpec{SecretID: "secret-1", SubTasks: 2})
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{cloudService("vm-1")}
	ctx := context.Background()

	require.Len(t, items, 2)
	require.NoError(t, f.exec.Run(ctx, items[0]))
	partial := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusInProgress, partial.Status)
	require.Equal(t, 1, partial.RemainedSubTasks)

	require.NoError(t, f.exec.Run(ctx, items[1]))
	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusSuccess, task.Status)
	require.Equal(t, 1, task.CreatedCount)
	require.Equal(t, 1, task.UpdatedCount)

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusSuccess, done.Status)
	require.Equal(t, 2, done.SuccessTasks)
}

func TestDuplicateDeliveryIsDropped(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{cloudService("vm-1")}
	ctx := context.Background()

	require.NoError(t, f.exec.Run(ctx, items[0]))
	require.NoError(t, f.exec.Run(ctx, items[0]))

	require.Equal(t, 1, f.plugins.calls())
	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusSuccess, done.Status)
	require.Equal(t, 1, done.SuccessTasks)
}

func TestRuleTransformRewritesProject(t *testing.T) {
	f := newFixture(t)
	_, items := f.start(t, 0, secrets("secret-1")...)
	f.plugins.envelopes["secret-1"] = []*plugin.ResourceEnvelope{cloudService("vm-1")}
	f.exec.rules = transformFunc(func(snapshot map[string]any) (map[string]any, error) {
		snapshot["project_id"] = "project-ops"
		return snapshot, nil
	})
	ctx := context.Background()

	require.NoError(t, f.exec.Run(ctx, items[0]))

	recs, _, err := f.store.Query(ctx, resource.Query{ResourceType: resource.TypeCloudService, DomainID: "domain-1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "project-ops", recs[0].ProjectID)
}

func TestMissingTaskIsDropped(t *testing.T) {
	f := newFixture(t)
	_, items := f.start(t, 0, secrets("secret-1")...)
	item := items[0]
	item.JobTaskID = "job-task-404"

	require.NoError(t, f.exec.Run(context.Background(), item))
	require.Zero(t, f.plugins.calls())
	require.Zero(t, f.secrets.calls)
}

type failingCollectors struct {
	collector.Repository
	err error
}

func (f failingCollectors) Get(context.Context, string) (*collector.Collector, error) {
	return nil, f.err
}

func TestMissingCollectorIsDropped(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	item := items[0]
	item.CollectorID = "collector-404"

	require.NoError(t, f.exec.Run(context.Background(), item))
	require.Zero(t, f.plugins.calls())
	require.Equal(t, job.JobTaskStatusPending, f.task(t, item.JobTaskID).Status)
	require.Equal(t, 1, f.job(t, j.JobID).RemainedTasks)
}

func TestCollectorLookupErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	f.exec.collectors = failingCollectors{Repository: f.repo, err: errors.New("dial tcp: connection refused")}

	require.NoError(t, f.exec.Run(context.Background(), items[0]))
	require.Zero(t, f.plugins.calls())

	task := f.task(t, items[0].JobTaskID)
	require.Equal(t, job.JobTaskStatusFailure, task.Status)
	require.Equal(t, []string{string(errutil.StatusInternal)}, errorCodes(task))
	require.Contains(t, task.Errors[0].Message, "connection refused")

	done := f.job(t, j.JobID)
	require.Equal(t, job.JobStatusFailure, done.Status)
	require.Equal(t, 0, done.RemainedTasks)
	require.Equal(t, 1, done.FailureTasks)
}

func TestHandleCollectTaskSkipsRetryOnBadPayload(t *testing.T) {
	f := newFixture(t)
	err := f.exec.HandleCollectTask(context.Background(), asynq.NewTask(taskname.CollectorCollect, []byte("{not json")))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleCollectTaskRunsItem(t *testing.T) {
	f := newFixture(t)
	j, items := f.start(t, 0, secrets("secret-1")...)
	item := items[0]
	item.SecretData = map[string]any{"token": "inline"}
	task, err := collector.NewCollectTask(item, "collector")
	require.NoError(t, err)

	require.NoError(t, f.exec.HandleCollectTask(context.Background(), task))

	// The payload never carries secret data, so the worker fetches it.
	require.Equal(t, 1, f.secrets.calls)
	require.Equal(t, job.JobStatusSuccess, f.job(t, j.JobID).Status)
}

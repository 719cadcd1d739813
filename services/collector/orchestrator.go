package collector

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/queue"
	"inventory-collector/services/identity"
	"inventory-collector/services/job"
	"inventory-collector/services/plugin"
)

// SecretResolver is the identity collaborator used to pick secrets.
type SecretResolver interface {
	ListSecrets(ctx context.Context, p identity.ListParams) ([]identity.Secret, error)
	GetSecretData(ctx context.Context, domainID, secretID string) (map[string]any, error)
}

type Orchestrator struct {
	repo    Repository
	secrets SecretResolver
	plugins plugin.Collector
	jobs    *job.Manager
	queue   queue.Enqueuer
	cfg     config.CollectorConfig
	now     func() time.Time
}

type OrchestratorParams struct {
	fx.In

	Repository Repository
	Secrets    SecretResolver
	Plugins    plugin.Collector
	Jobs       *job.Manager
	Queue      queue.Enqueuer
	Config     *config.Config
}

func NewOrchestrator(p OrchestratorParams) *Orchestrator {
	return &Orchestrator{
		repo:    p.Repository,
		secrets: p.Secrets,
		plugins: p.Plugins,
		jobs:    p.Jobs,
		queue:   p.Queue,
		cfg:     p.Config.Collector,
		now:     time.Now,
	}
}

type CollectParams struct {
	CollectorID string
	DomainID    string
	WorkspaceID string
	// SecretID restricts the run to one secret of the collector's filter.
	SecretID string
}

// split is the sub-task breakdown of one secret.
type split struct {
	secret  identity.Secret
	options []map[string]any
}

// Collect starts a job for the collector and enqueues one work item per sub-task.
func (o *Orchestrator) Collect(ctx context.Context, p CollectParams) (*job.Job, error) {
	coll, err := o.repo.Get(ctx, p.CollectorID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && coll.DomainID != p.DomainID) {
		return nil, errutil.NotFound("collector not found: "+p.CollectorID, err)
	}
	if err != nil {
		return nil, errutil.Internal("failed to load collector", err)
	}
	if coll.Disabled() {
		return nil, errutil.InvalidArgument("collector is disabled: "+p.CollectorID, nil)
	}
	if p.WorkspaceID == "" {
		p.WorkspaceID = coll.WorkspaceID
	}
	defer o.touch(coll.CollectorID)

	secrets, err := o.resolveSecrets(ctx, coll, p)
	if err != nil {
		return nil, err
	}

	canceled, err := o.jobs.CancelDuplicates(ctx, job.LiveJobFilter{
		CollectorID: coll.CollectorID,
		WorkspaceID: p.WorkspaceID,
		SecretID:    p.SecretID,
	})
	if err != nil {
		return nil, errutil.Internal("failed to cancel duplicate jobs", err)
	}
	if len(canceled) > 0 {
		zap.L().Info("canceled duplicate jobs", zap.String("collector_id", coll.CollectorID), zap.Strings("job_ids", canceled))
	}

	splits := o.splitTasks(ctx, coll, secrets)

	specs := make([]job.TaskSpec, 0, len(splits))
	for _, s := range splits {
		specs = append(specs, job.TaskSpec{
			SecretID:         s.secret.SecretID,
			ServiceAccountID: s.secret.ServiceAccountID,
			ProjectID:        s.secret.ProjectID,
			SubTasks:         len(s.options),
		})
	}

	pluginInfo := coll.PluginInfo.Data()
	created, tasks, err := o.jobs.CreateJob(ctx, job.CreateParams{
		CollectorID:     coll.CollectorID,
		PluginID:        pluginInfo.PluginID,
		DomainID:        coll.DomainID,
		WorkspaceID:     p.WorkspaceID,
		RequestSecretID: p.SecretID,
		Tasks:           specs,
	})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return created, nil
	}

	for i, task := range tasks {
		s := splits[i]
		for seq, options := range s.options {
			item := WorkItem{
				JobID:       created.JobID,
				JobTaskID:   task.JobTaskID,
				CollectorID: coll.CollectorID,
				DomainID:    coll.DomainID,
				WorkspaceID: firstNonEmpty(s.secret.WorkspaceID, p.WorkspaceID),
				PluginInfo:  pluginInfo,
				TaskOptions: options,
				SecretInfo: SecretInfo{
					SecretID:         s.secret.SecretID,
					ServiceAccountID: s.secret.ServiceAccountID,
					ProjectID:        s.secret.ProjectID,
					WorkspaceID:      s.secret.WorkspaceID,
					Provider:         s.secret.Provider,
				},
				IsSubTask: len(s.options) > 1,
				Seq:       seq,
			}
			if err := o.enqueue(ctx, item); err != nil {
				o.enqueueFailed(ctx, item, err)
			}
		}
	}

	return o.jobs.Get(ctx, created.JobID)
}

func (o *Orchestrator) resolveSecrets(ctx context.Context, coll *Collector, p CollectParams) ([]identity.Secret, error) {
	secrets, err := o.secrets.ListSecrets(ctx, identity.ListParams{
		DomainID:    coll.DomainID,
		WorkspaceID: p.WorkspaceID,
		Provider:    coll.Provider,
		Filter:      coll.SecretFilter.Data(),
	})
	if err != nil {
		return nil, err
	}
	if p.SecretID == "" {
		return secrets, nil
	}
	for _, s := range secrets {
		if s.SecretID == p.SecretID {
			return []identity.Secret{s}, nil
		}
	}
	return nil, errutil.InvalidArgument("secret is not allowed by the collector's secret filter: "+p.SecretID, nil)
}

// splitTasks asks the plugin for sub-tasks per secret. A failed split falls
// back to a single task for that secret.
func (o *Orchestrator) splitTasks(ctx context.Context, coll *Collector, secrets []identity.Secret) []split {
	out := make([]split, len(secrets))
	pluginInfo := coll.PluginInfo.Data()

	limit := o.cfg.TaskSplitConcurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, secret := range secrets {
		out[i] = split{secret: secret, options: []map[string]any{nil}}
		g.Go(func() error {
			data, err := o.secrets.GetSecretData(gctx, secret.DomainID, secret.SecretID)
			if err != nil {
				zap.L().Warn("secret data unavailable for task split", zap.String("secret_id", secret.SecretID), zap.Error(err))
				return nil
			}
			options, err := o.plugins.GetTasks(gctx, plugin.TaskRequest{
				Plugin:     pluginInfo,
				SecretID:   secret.SecretID,
				SecretData: data,
			})
			if err != nil {
				zap.L().Warn("task split failed, collecting as one task",
					zap.String("collector_id", coll.CollectorID),
					zap.String("secret_id", secret.SecretID),
					zap.Error(err),
				)
				return nil
			}
			if len(options) > 0 {
				out[i].options = options
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) enqueue(ctx context.Context, item WorkItem) error {
	task, err := NewCollectTask(item, o.cfg.Queue)
	if err != nil {
		return err
	}
	_, err = o.queue.Enqueue(ctx, task)
	return err
}

// enqueueFailed settles a work item that never reached the queue so the job
// still reaches a terminal state.
func (o *Orchestrator) enqueueFailed(ctx context.Context, item WorkItem, cause error) {
	err := errutil.New(errutil.StatusEnqueueFailed, "failed to enqueue work item", errutil.WithErr(cause))
	zap.L().Error("enqueue failed",
		zap.String("job_id", item.JobID),
		zap.String("job_task_id", item.JobTaskID),
		zap.Int("seq", item.Seq),
		zap.Error(cause),
	)

	if _, ferr := o.jobs.FailTask(ctx, item.JobTaskID, item.JobID, err, job.TaskStats{}); ferr != nil {
		zap.L().Error("failed to fail job task", zap.String("job_task_id", item.JobTaskID), zap.Error(ferr))
	}
	if _, ferr := o.jobs.MarkFailure(ctx, item.JobID, err); ferr != nil && !job.IsInvalidStateTransition(ferr) {
		zap.L().Error("failed to mark job failure", zap.String("job_id", item.JobID), zap.Error(ferr))
	}
	if _, ferr := o.jobs.DecreaseRemainedTasks(ctx, item.JobID, job.JobTaskStatusFailure); ferr != nil {
		zap.L().Error("failed to decrease remained tasks", zap.String("job_id", item.JobID), zap.Error(ferr))
	}
}

// touch records the collect time even when the request failed midway.
func (o *Orchestrator) touch(collectorID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.repo.UpdateLastCollectedAt(ctx, collectorID, o.now().UTC()); err != nil {
		zap.L().Warn("failed to record last collected time", zap.String("collector_id", collectorID), zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

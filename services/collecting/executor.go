package collecting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/queue"
	"inventory-collector/services/collector"
	"inventory-collector/services/history"
	"inventory-collector/services/job"
	"inventory-collector/services/namespace"
	"inventory-collector/services/plugin"
	"inventory-collector/services/resource"
)

var tracer = otel.Tracer("inventory-collector/collecting")

type SecretSource interface {
	GetSecretData(ctx context.Context, domainID, secretID string) (map[string]any, error)
}

type Transformer interface {
	Transform(ctx context.Context, collectorID, resourceType string, snapshot map[string]any) (map[string]any, error)
}

type ResourceUpserter interface {
	Upsert(ctx context.Context, p resource.UpsertParams) (resource.Outcome, *resource.Record, error)
}

type DeclarationStore interface {
	Upsert(ctx context.Context, kind namespace.Kind, res map[string]any, scope namespace.Scope) (namespace.Result, error)
}

type Executor struct {
	collectors   collector.Repository
	jobs         *job.Manager
	secrets      SecretSource
	plugins      plugin.Collector
	rules        Transformer
	resources    ResourceUpserter
	declarations DeclarationStore
	queue        queue.Enqueuer
	cfg          config.CollectorConfig
}

type Params struct {
	fx.In

	Collectors   collector.Repository
	Jobs         *job.Manager
	Secrets      SecretSource
	Plugins      plugin.Collector
	Rules        Transformer
	Resources    ResourceUpserter
	Declarations DeclarationStore
	Queue        queue.Enqueuer
	Config       *config.Config
}

func NewExecutor(p Params) *Executor {
	return &Executor{
		collectors:   p.Collectors,
		jobs:         p.Jobs,
		secrets:      p.Secrets,
		plugins:      p.Plugins,
		rules:        p.Rules,
		resources:    p.Resources,
		declarations: p.Declarations,
		queue:        p.Queue,
		cfg:          p.Config.Collector,
	}
}

// HandleCollectTask is the asynq handler for collector:collect.
func (e *Executor) HandleCollectTask(ctx context.Context, t *asynq.Task) error {
	item, err := collector.DecodeWorkItem(t.Payload())
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return e.Run(ctx, item)
}

// execContext is what every step of one work item needs to know.
type execContext struct {
	item      collector.WorkItem
	collector *collector.Collector
	source    history.Source
	scope     resource.Scope
}

// Run executes one work item. Every path that starts the item ends in exactly
// one settle call.
func (e *Executor) Run(ctx context.Context, item collector.WorkItem) error {
	ctx, span := tracer.Start(ctx, "collect.work_item")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", item.JobID),
		attribute.String("job_task_id", item.JobTaskID),
		attribute.String("collector_id", item.CollectorID),
		attribute.Int("seq", item.Seq),
	)
	started := time.Now()
	defer func() { jobTaskDuration.Observe(time.Since(started).Seconds()) }()

	coll, err := e.collectors.Get(ctx, item.CollectorID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return e.settle(ctx, item, job.JobTaskStatusFailure, job.TaskStats{}, errutil.Internal("failed to load collector "+item.CollectorID, err))
		}
		zap.L().Warn("collector gone, dropping work item", zap.String("collector_id", item.CollectorID), zap.Error(err))
		jobTasksTotal.WithLabelValues(statusDropped).Inc()
		return nil
	}
	task, err := e.jobs.GetTask(ctx, item.JobTaskID)
	if err != nil {
		if errutil.CodeOf(err) != errutil.StatusNotFound {
			return e.settle(ctx, item, job.JobTaskStatusFailure, job.TaskStats{}, err)
		}
		zap.L().Warn("job task gone, dropping work item", zap.String("job_task_id", item.JobTaskID), zap.Error(err))
		jobTasksTotal.WithLabelValues(statusDropped).Inc()
		return nil
	}
	if task.Status.IsTerminal() {
		zap.L().Warn("job task already finished, dropping work item",
			zap.String("job_task_id", item.JobTaskID),
			zap.String("status", string(task.Status)),
		)
		jobTasksTotal.WithLabelValues(statusDropped).Inc()
		return nil
	}

	waiting, err := e.gate(ctx, coll, item)
	if err != nil {
		return e.settle(ctx, item, job.JobTaskStatusFailure, job.TaskStats{}, err)
	}
	if waiting {
		return nil
	}

	j, err := e.jobs.Get(ctx, item.JobID)
	if err != nil {
		return e.settle(ctx, item, job.JobTaskStatusFailure, job.TaskStats{}, err)
	}
	if j.Status == job.JobStatusCanceled {
		return e.settle(ctx, item, job.JobTaskStatusCanceled, job.TaskStats{}, nil)
	}

	if _, err := e.jobs.StartTask(ctx, item.JobTaskID); err != nil {
		if job.IsInvalidStateTransition(err) {
			jobTasksTotal.WithLabelValues(statusDropped).Inc()
			return nil
		}
		return e.settle(ctx, item, job.JobTaskStatusFailure, job.TaskStats{}, err)
	}
	if _, err := e.jobs.MarkInProgress(ctx, item.JobID); err != nil && !job.IsInvalidStateTransition(err) {
		zap.L().Warn("failed to mark job in progress", zap.String("job_id", item.JobID), zap.Error(err))
	}

	ec := &execContext{
		item:      item,
		collector: coll,
		source: history.Source{
			UpdatedBy:        coll.CollectorID,
			JobID:            item.JobID,
			ServiceAccountID: item.SecretInfo.ServiceAccountID,
			SecretID:         item.SecretInfo.SecretID,
			Priority:         coll.Priority,
		},
		scope: resource.Scope{DomainID: item.DomainID, WorkspaceID: item.WorkspaceID},
	}

	stats, err := e.collect(ctx, ec)
	stats.Started = true
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.settle(ctx, item, job.JobTaskStatusFailure, stats, err)
	}
	outcome := job.JobTaskStatusSuccess
	if stats.Failure > 0 {
		outcome = job.JobTaskStatusFailure
	}
	return e.settle(ctx, item, outcome, stats, nil)
}

// gate requeues the item with a delay when the collector already runs
// MaxConcurrency work items of this job. Sub-tasks count one each. Zero
// means no limit.
func (e *Executor) gate(ctx context.Context, coll *collector.Collector, item collector.WorkItem) (bool, error) {
	if coll.MaxConcurrency <= 0 {
		return false, nil
	}
	running, err := e.jobs.CountRunningSubTasks(ctx, item.CollectorID, item.JobID)
	if err != nil {
		return false, err
	}
	if running < int64(coll.MaxConcurrency) {
		return false, nil
	}

	backoff := e.cfg.ConcurrencyBackoff
	if backoff <= 0 {
		backoff = time.Minute
	}
	next := item
	next.Attempt++
	task, err := collector.NewCollectTask(next, e.cfg.Queue)
	if err != nil {
		return false, err
	}
	if _, err := e.queue.Enqueue(ctx, task, asynq.ProcessIn(backoff)); err != nil {
		return false, errutil.New(errutil.StatusEnqueueFailed, "failed to requeue work item", errutil.WithErr(err))
	}

	requeuesTotal.Inc()
	zap.L().Info("concurrency limit reached, work item requeued",
		zap.String("collector_id", item.CollectorID),
		zap.String("job_task_id", item.JobTaskID),
		zap.Int64("running", running),
		zap.Int("max_concurrency", coll.MaxConcurrency),
		zap.Duration("backoff", backoff),
		zap.Int("attempt", next.Attempt),
	)
	return true, nil
}

// collect streams the plugin output through the upsert pipeline. The returned
// error is task-level; per-resource errors are only counted.
func (e *Executor) collect(ctx context.Context, ec *execContext) (job.TaskStats, error) {
	var stats job.TaskStats
	item := &ec.item

	if item.SecretData == nil {
		data, err := e.secrets.GetSecretData(ctx, item.DomainID, item.SecretInfo.SecretID)
		if err != nil {
			return stats, err
		}
		item.SecretData = data
	}

	stream, err := e.plugins.Collect(ctx, plugin.CollectRequest{
		Plugin:      item.PluginInfo,
		SecretID:    item.SecretInfo.SecretID,
		SecretData:  item.SecretData,
		Filter:      filterOf(item.PluginInfo),
		TaskOptions: item.TaskOptions,
	})
	item.SecretData = nil
	if err != nil {
		return stats, errutil.PluginInvocationFailed("plugin collect failed", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			zap.L().Debug("failed to close plugin stream", zap.Error(err))
		}
	}()

	for {
		env, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, errutil.PluginInvocationFailed("plugin stream failed", err)
		}

		outcome, resourceID, err := e.upsert(ctx, ec, env)
		resourcesTotal.WithLabelValues(env.ResourceType, string(outcome)).Inc()
		switch outcome {
		case OutcomeCreated:
			stats.Created++
		case OutcomeUpdated:
			stats.Updated++
		case OutcomeError:
			stats.Failure++
			e.recordResourceError(ctx, ec, env, resourceID, err)
		}
	}
}

func filterOf(info plugin.Info) map[string]any {
	if f, ok := info.Options["filter"].(map[string]any); ok {
		return f
	}
	return nil
}

func (e *Executor) recordResourceError(ctx context.Context, ec *execContext, env *plugin.ResourceEnvelope, resourceID string, cause error) {
	zap.L().Warn("resource upsert failed",
		zap.String("job_task_id", ec.item.JobTaskID),
		zap.String("resource_type", env.ResourceType),
		zap.String("resource_id", resourceID),
		zap.Error(cause),
	)
	terr := job.TaskError{
		JobTaskID:    ec.item.JobTaskID,
		JobID:        ec.item.JobID,
		ResourceType: env.ResourceType,
		ResourceID:   resourceID,
		Err:          cause,
	}
	var tooMany *resource.TooManyMatchesError
	if errors.As(cause, &tooMany) {
		terr.AdditionalInfo = map[string]any{
			"match_key":        tooMany.MatchKey,
			"candidate_ids":    tooMany.CandidateIDs,
			"snapshot_preview": tooMany.SnapshotPreview,
		}
	}
	if err := e.jobs.AddTaskError(ctx, terr); err != nil {
		zap.L().Error("failed to record resource error", zap.String("job_task_id", ec.item.JobTaskID), zap.Error(err))
	}
}

// settle finishes one work item: task error, sub-task counter, then the job
// counter. It is the only place that decrements either counter.
func (e *Executor) settle(ctx context.Context, item collector.WorkItem, outcome job.JobTaskStatus, stats job.TaskStats, cause error) error {
	ctx = context.WithoutCancel(ctx)
	jobTasksTotal.WithLabelValues(string(outcome)).Inc()

	var err error
	switch {
	case outcome == job.JobTaskStatusCanceled:
		_, err = e.jobs.CancelTask(ctx, item.JobTaskID, item.JobID)
	case cause != nil:
		zap.L().Error("work item failed",
			zap.String("job_id", item.JobID),
			zap.String("job_task_id", item.JobTaskID),
			zap.Error(cause),
		)
		_, err = e.jobs.FailTask(ctx, item.JobTaskID, item.JobID, cause, stats)
	default:
		_, err = e.jobs.FinishTask(ctx, item.JobTaskID, outcome, stats)
	}
	if err != nil {
		zap.L().Error("failed to finish job task", zap.String("job_task_id", item.JobTaskID), zap.Error(err))
		if errors.Is(err, job.ErrRemainedTasksUnderflow) {
			return nil
		}
	}

	if _, err := e.jobs.DecreaseRemainedTasks(ctx, item.JobID, outcome); err != nil {
		zap.L().Error("failed to decrease remained tasks", zap.String("job_id", item.JobID), zap.Error(err))
		return err
	}
	return nil
}

package job

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/errutil"
	"inventory-collector/pkg/gen"
)

// Manager owns every status and counter change of jobs and job tasks.
type Manager struct {
	repo     Repository
	events   EventPublisher
	gen      gen.IDGenerator
	errLimit int
	now      func() time.Time
}

type Params struct {
	fx.In

	Repository Repository
	Events     EventPublisher `optional:"true"`
	Generator  gen.IDGenerator
	Config     *config.Config
}

func NewManager(p Params) *Manager {
	events := p.Events
	if events == nil {
		events = NopPublisher{}
	}
	limit := 0
	if p.Config != nil {
		limit = p.Config.Collector.ErrorMessageLimit
	}
	return &Manager{
		repo:     p.Repository,
		events:   events,
		gen:      p.Generator,
		errLimit: limit,
		now:      time.Now,
	}
}

// TaskSpec describes one secret to collect and how many sub-tasks it is split into.
type TaskSpec struct {
	SecretID         string
	ServiceAccountID string
	ProjectID        string
	SubTasks         int
}

type CreateParams struct {
	CollectorID     string
	PluginID        string
	DomainID        string
	WorkspaceID     string
	RequestSecretID string
	Tasks           []TaskSpec
}

// CreateJob stores a job and its tasks together. A job without tasks finishes
// as SUCCESS straight away.
func (m *Manager) CreateJob(ctx context.Context, p CreateParams) (*Job, []JobTask, error) {
	job := &Job{
		JobID:           m.gen.NewID(gen.PrefixJob),
		CollectorID:     p.CollectorID,
		PluginID:        p.PluginID,
		DomainID:        p.DomainID,
		WorkspaceID:     p.WorkspaceID,
		RequestSecretID: p.RequestSecretID,
		Status:          JobStatusCreated,
	}

	tasks := make([]JobTask, 0, len(p.Tasks))
	for _, spec := range p.Tasks {
		units := spec.SubTasks
		if units <= 0 {
			units = 1
		}
		job.TotalTasks += units
		tasks = append(tasks, JobTask{
			JobTaskID:        m.gen.NewID(gen.PrefixJobTask),
			JobID:            job.JobID,
			CollectorID:      p.CollectorID,
			SecretID:         spec.SecretID,
			ServiceAccountID: spec.ServiceAccountID,
			ProjectID:        spec.ProjectID,
			DomainID:         p.DomainID,
			WorkspaceID:      p.WorkspaceID,
			Status:           JobTaskStatusPending,
			TotalSubTasks:    units,
			RemainedSubTasks: units,
		})
	}
	job.RemainedTasks = job.TotalTasks

	if err := m.repo.CreateJob(ctx, job, tasks); err != nil {
		return nil, nil, errutil.Internal("failed to create job", err)
	}

	zap.L().Info("job created",
		zap.String("job_id", job.JobID),
		zap.String("collector_id", job.CollectorID),
		zap.Int("total_tasks", job.TotalTasks),
	)

	if job.TotalTasks == 0 {
		done, err := m.repo.UpdateJobStatus(ctx, job.JobID, JobStatusSuccess, true)
		if err != nil {
			return nil, nil, m.transitionFailed(job.JobID, err)
		}
		m.publish(ctx, done)
		return done, nil, nil
	}
	return job, tasks, nil
}

func (m *Manager) Get(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.repo.GetJob(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("job not found", err)
	}
	return job, err
}

func (m *Manager) GetTask(ctx context.Context, jobTaskID string) (*JobTask, error) {
	task, err := m.repo.GetJobTask(ctx, jobTaskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("job task not found", err)
	}
	return task, err
}

func (m *Manager) ListTasks(ctx context.Context, jobID string) ([]JobTask, error) {
	return m.repo.ListJobTasks(ctx, jobID)
}

// CountRunningSubTasks reports how many work items of the collector are
// executing in the job right now.
func (m *Manager) CountRunningSubTasks(ctx context.Context, collectorID, jobID string) (int64, error) {
	return m.repo.CountRunningSubTasks(ctx, collectorID, jobID)
}

func (m *Manager) MarkInProgress(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.repo.UpdateJobStatus(ctx, jobID, JobStatusInProgress, false)
	if err != nil {
		return nil, m.transitionFailed(jobID, err)
	}
	return job, nil
}

func (m *Manager) Cancel(ctx context.Context, jobID string) (*Job, error) {
	job, err := m.repo.UpdateJobStatus(ctx, jobID, JobStatusCanceled, false)
	if err != nil {
		return nil, m.transitionFailed(jobID, err)
	}
	zap.L().Info("job canceled", zap.String("job_id", jobID))
	return job, nil
}

// CancelDuplicates cancels every other unfinished job for the same collector,
// workspace and requested secret. It returns the canceled job IDs.
func (m *Manager) CancelDuplicates(ctx context.Context, filter LiveJobFilter) ([]string, error) {
	jobs, err := m.repo.ListLiveJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	var canceled []string
	for _, j := range jobs {
		if _, err := m.Cancel(ctx, j.JobID); err != nil {
			if IsInvalidStateTransition(err) {
				continue
			}
			return canceled, err
		}
		canceled = append(canceled, j.JobID)
	}
	return canceled, nil
}

// MarkFailure records cause on the job and moves it to FAILURE. The job still
// finishes only when its remaining-task counter reaches zero.
func (m *Manager) MarkFailure(ctx context.Context, jobID string, cause error) (*Job, error) {
	if cause != nil {
		if err := m.AddError(ctx, jobID, cause); err != nil {
			return nil, err
		}
	}
	job, err := m.repo.UpdateJobStatus(ctx, jobID, JobStatusFailure, false)
	if err != nil {
		return nil, m.transitionFailed(jobID, err)
	}
	return job, nil
}

func (m *Manager) AddError(ctx context.Context, jobID string, cause error) error {
	return m.repo.AddJobError(ctx, &JobError{
		JobID:   jobID,
		Code:    string(errutil.CodeOf(cause)),
		Message: errutil.Truncate(cause.Error(), m.errLimit),
	})
}

// DecreaseRemainedTasks accounts for one finished unit of work. Exactly one
// call per unit is expected; the call reaching zero finishes the job.
func (m *Manager) DecreaseRemainedTasks(ctx context.Context, jobID string, outcome JobTaskStatus) (*Job, error) {
	dec, err := m.repo.DecrementRemainedTasks(ctx, jobID, outcome)
	if err != nil {
		if errors.Is(err, ErrRemainedTasksUnderflow) {
			zap.L().Error("job remained tasks already zero", zap.String("job_id", jobID), zap.String("outcome", string(outcome)))
			return nil, err
		}
		return nil, m.transitionFailed(jobID, err)
	}
	if dec.ReachedZero {
		zap.L().Info("job finished",
			zap.String("job_id", jobID),
			zap.String("status", string(dec.Record.Status)),
			zap.Int("success_tasks", dec.Record.SuccessTasks),
			zap.Int("failure_tasks", dec.Record.FailureTasks),
		)
		m.publish(ctx, dec.Record)
	}
	return dec.Record, nil
}

func (m *Manager) StartTask(ctx context.Context, jobTaskID string) (*JobTask, error) {
	task, err := m.repo.UpdateJobTaskStatus(ctx, jobTaskID, JobTaskStatusInProgress)
	if err != nil {
		return nil, m.transitionFailed(jobTaskID, err)
	}
	return task, nil
}

// FinishTask records one work item of a task with its outcome and counters.
func (m *Manager) FinishTask(ctx context.Context, jobTaskID string, outcome JobTaskStatus, stats TaskStats) (*JobTask, error) {
	dec, err := m.repo.DecrementSubTasks(ctx, jobTaskID, outcome, stats)
	if err != nil {
		if errors.Is(err, ErrRemainedTasksUnderflow) {
			zap.L().Error("job task remained sub tasks already zero", zap.String("job_task_id", jobTaskID))
			return nil, err
		}
		return nil, m.transitionFailed(jobTaskID, err)
	}
	if dec.ReachedZero {
		zap.L().Info("job task finished",
			zap.String("job_task_id", jobTaskID),
			zap.String("status", string(dec.Record.Status)),
			zap.Int("created_count", dec.Record.CreatedCount),
			zap.Int("updated_count", dec.Record.UpdatedCount),
			zap.Int("failure_count", dec.Record.FailureCount),
		)
	}
	return dec.Record, nil
}

// CancelTask finishes one work item of a task as CANCELED with an
// ERROR_COLLECT_CANCELED entry.
func (m *Manager) CancelTask(ctx context.Context, jobTaskID, jobID string) (*JobTask, error) {
	cause := errutil.New(errutil.StatusCollectCanceled, "job "+jobID+" was canceled")
	if err := m.AddTaskError(ctx, TaskError{JobTaskID: jobTaskID, JobID: jobID, Err: cause}); err != nil {
		return nil, err
	}
	return m.FinishTask(ctx, jobTaskID, JobTaskStatusCanceled, TaskStats{})
}

// FailTask records cause and finishes one work item of a task as FAILURE.
func (m *Manager) FailTask(ctx context.Context, jobTaskID, jobID string, cause error, stats TaskStats) (*JobTask, error) {
	if err := m.AddTaskError(ctx, TaskError{JobTaskID: jobTaskID, JobID: jobID, Err: cause}); err != nil {
		return nil, err
	}
	return m.FinishTask(ctx, jobTaskID, JobTaskStatusFailure, stats)
}

// TaskError is a failure recorded against a job task, optionally tied to a resource.
type TaskError struct {
	JobTaskID      string
	JobID          string
	ResourceType   string
	ResourceID     string
	AdditionalInfo map[string]any
	Err            error
}

func (m *Manager) AddTaskError(ctx context.Context, e TaskError) error {
	row := &JobTaskError{
		JobTaskID:    e.JobTaskID,
		JobID:        e.JobID,
		Code:         string(errutil.CodeOf(e.Err)),
		Message:      errutil.Truncate(e.Err.Error(), m.errLimit),
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
	}
	if len(e.AdditionalInfo) > 0 {
		row.AdditionalInfo = datatypes.JSONMap(e.AdditionalInfo)
	}
	return m.repo.AddJobTaskError(ctx, row)
}

// SweepTimedOut fails unfinished jobs created more than threshold ago.
func (m *Manager) SweepTimedOut(ctx context.Context, threshold time.Duration) (int, error) {
	jobs, err := m.repo.ListStaleJobs(ctx, m.now().Add(-threshold))
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, j := range jobs {
		cause := errutil.New(errutil.StatusJobTimeout, "job timed out after "+threshold.String())
		if err := m.AddError(ctx, j.JobID, cause); err != nil {
			return swept, err
		}
		done, err := m.repo.UpdateJobStatus(ctx, j.JobID, JobStatusFailure, true)
		if err != nil {
			return swept, err
		}
		zap.L().Warn("job timed out", zap.String("job_id", j.JobID), zap.Time("created_at", j.CreatedAt))
		m.publish(ctx, done)
		swept++
	}
	return swept, nil
}

func (m *Manager) DeleteByCollector(ctx context.Context, collectorID string) error {
	return m.repo.DeleteByCollector(ctx, collectorID)
}

// transitionFailed logs state machine violations. The stored status is kept as is.
func (m *Manager) transitionFailed(id string, err error) error {
	var invalid *InvalidStateTransitionError
	if errors.As(err, &invalid) {
		zap.L().Warn("invalid state transition",
			zap.String("id", id),
			zap.String("action", invalid.Action),
			zap.String("current", invalid.Current),
		)
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errutil.NotFound("record not found: "+id, err)
	}
	return err
}

func (m *Manager) publish(ctx context.Context, j *Job) {
	if j == nil {
		return
	}
	if err := m.events.Publish(ctx, newEvent(j)); err != nil {
		zap.L().Warn("failed to publish job event", zap.String("job_id", j.JobID), zap.Error(err))
	}
}

package job

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRemainedTasksUnderflow signals a decrement on a counter that is already zero.
// It is a defect in the caller, never retried.
var ErrRemainedTasksUnderflow = errors.New("job: remained tasks underflow")

// LiveJobFilter selects unfinished jobs that share a collector, workspace and requested secret.
type LiveJobFilter struct {
	CollectorID  string
	WorkspaceID  string
	SecretID     string
	ExcludeJobID string
}

// Decrement is the outcome of removing one unit from a job or task counter.
type Decrement[T any] struct {
	Record      *T
	ReachedZero bool
}

type Repository interface {
	CreateJob(ctx context.Context, job *Job, tasks []JobTask) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	GetJobTask(ctx context.Context, jobTaskID string) (*JobTask, error)
	ListJobTasks(ctx context.Context, jobID string) ([]JobTask, error)
	ListLiveJobs(ctx context.Context, filter LiveJobFilter) ([]Job, error)
	ListStaleJobs(ctx context.Context, before time.Time) ([]Job, error)
	CountRunningSubTasks(ctx context.Context, collectorID, jobID string) (int64, error)
	UpdateJobStatus(ctx context.Context, jobID string, target JobStatus, finished bool) (*Job, error)
	UpdateJobTaskStatus(ctx context.Context, jobTaskID string, target JobTaskStatus) (*JobTask, error)
	DecrementRemainedTasks(ctx context.Context, jobID string, outcome JobTaskStatus) (Decrement[Job], error)
	DecrementSubTasks(ctx context.Context, jobTaskID string, outcome JobTaskStatus, stats TaskStats) (Decrement[JobTask], error)
	AddJobError(ctx context.Context, e *JobError) error
	AddJobTaskError(ctx context.Context, e *JobTaskError) error
	DeleteByCollector(ctx context.Context, collectorID string) error
}

type gormRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, now: time.Now}
}

func (r *gormRepository) CreateJob(ctx context.Context, job *Job, tasks []JobTask) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(job).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Omit(clause.Associations).Create(&tasks).Error
	})
}

func (r *gormRepository) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var job Job
	err := r.db.WithContext(ctx).
		Preload("Errors", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("job_id = ?", jobID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *gormRepository) GetJobTask(ctx context.Context, jobTaskID string) (*JobTask, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var task JobTask
	err := r.db.WithContext(ctx).
		Preload("Errors", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("job_task_id = ?", jobTaskID).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *gormRepository) ListJobTasks(ctx context.Context, jobID string) ([]JobTask, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var tasks []JobTask
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").Order("job_task_id ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *gormRepository) ListLiveJobs(ctx context.Context, filter LiveJobFilter) ([]Job, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	query := r.db.WithContext(ctx).Model(&Job{}).
		Where("collector_id = ? AND workspace_id = ? AND request_secret_id = ?", filter.CollectorID, filter.WorkspaceID, filter.SecretID).
		Where("status IN ?", []JobStatus{JobStatusCreated, JobStatusInProgress})
	if filter.ExcludeJobID != "" {
		query = query.Where("job_id <> ?", filter.ExcludeJobID)
	}
	var jobs []Job
	err := query.Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

func (r *gormRepository) ListStaleJobs(ctx context.Context, before time.Time) ([]Job, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var jobs []Job
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", []JobStatus{JobStatusCreated, JobStatusInProgress}, before).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// CountRunningSubTasks sums the started but unfinished work items of a
// collector's tasks in one job.
func (r *gormRepository) CountRunningSubTasks(ctx context.Context, collectorID, jobID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&JobTask{}).
		Select("COALESCE(SUM(running_sub_tasks), 0)").
		Where("collector_id = ? AND job_id = ? AND status = ?", collectorID, jobID, JobTaskStatusInProgress).
		Scan(&count).Error
	return count, err
}

// UpdateJobStatus applies a status change guarded by the job transition table.
// On an invalid transition the stored status is left untouched.
func (r *gormRepository) UpdateJobStatus(ctx context.Context, jobID string, target JobStatus, finished bool) (*Job, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var job Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ?", jobID).
			First(&job).Error; err != nil {
			return err
		}
		next, err := NextJobStatus(job.JobID, job.Status, target)
		if err != nil {
			return err
		}
		updates := map[string]any{"status": next}
		if finished {
			now := r.now().UTC()
			updates["finished_at"] = now
			job.FinishedAt = &now
		}
		if err := tx.Model(&Job{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		job.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *gormRepository) UpdateJobTaskStatus(ctx context.Context, jobTaskID string, target JobTaskStatus) (*JobTask, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var task JobTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_task_id = ?", jobTaskID).
			First(&task).Error; err != nil {
			return err
		}
		next, err := NextJobTaskStatus(task.JobTaskID, task.Status, target)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		updates := map[string]any{"status": next}
		if next == JobTaskStatusInProgress {
			updates["running_sub_tasks"] = gorm.Expr("running_sub_tasks + 1")
			task.RunningSubTasks++
		}
		switch {
		case next == JobTaskStatusInProgress && task.StartedAt == nil:
			updates["started_at"] = now
			task.StartedAt = &now
		case next.IsTerminal():
			updates["finished_at"] = now
			task.FinishedAt = &now
		}
		if err := tx.Model(&JobTask{}).Where("job_task_id = ?", jobTaskID).Updates(updates).Error; err != nil {
			return err
		}
		task.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// DecrementRemainedTasks removes one unit from the job counter and records its outcome.
// The call that brings the counter to zero also applies the terminal status.
func (r *gormRepository) DecrementRemainedTasks(ctx context.Context, jobID string, outcome JobTaskStatus) (Decrement[Job], error) {
	if r == nil || r.db == nil {
		return Decrement[Job]{}, gorm.ErrInvalidDB
	}
	var out Decrement[Job]
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ?", jobID).
			First(&job).Error; err != nil {
			return err
		}
		if job.RemainedTasks <= 0 {
			return ErrRemainedTasksUnderflow
		}

		updates := map[string]any{"remained_tasks": gorm.Expr("remained_tasks - 1")}
		job.RemainedTasks--
		switch outcome {
		case JobTaskStatusSuccess:
			updates["success_tasks"] = gorm.Expr("success_tasks + 1")
			job.SuccessTasks++
		case JobTaskStatusFailure:
			updates["failure_tasks"] = gorm.Expr("failure_tasks + 1")
			job.FailureTasks++
		case JobTaskStatusCanceled:
			updates["canceled_tasks"] = gorm.Expr("canceled_tasks + 1")
			job.CanceledTasks++
		}

		if job.RemainedTasks == 0 {
			target := terminalJobStatus(job.Status, job.FailureTasks, job.CanceledTasks)
			if target != job.Status {
				next, err := NextJobStatus(job.JobID, job.Status, target)
				if err != nil {
					return err
				}
				updates["status"] = next
				job.Status = next
			}
			now := r.now().UTC()
			updates["finished_at"] = now
			job.FinishedAt = &now
			out.ReachedZero = true
		}

		res := tx.Model(&Job{}).Where("job_id = ? AND remained_tasks > 0", jobID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRemainedTasksUnderflow
		}
		out.Record = &job
		return nil
	})
	if err != nil {
		return Decrement[Job]{}, err
	}
	return out, nil
}

// DecrementSubTasks records one finished work item on its task. When the last
// sub-task reports, the task moves to its terminal status.
func (r *gormRepository) DecrementSubTasks(ctx context.Context, jobTaskID string, outcome JobTaskStatus, stats TaskStats) (Decrement[JobTask], error) {
	if r == nil || r.db == nil {
		return Decrement[JobTask]{}, gorm.ErrInvalidDB
	}
	var out Decrement[JobTask]
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task JobTask
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_task_id = ?", jobTaskID).
			First(&task).Error; err != nil {
			return err
		}
		if task.RemainedSubTasks <= 0 {
			return ErrRemainedTasksUnderflow
		}

		updates := map[string]any{
			"remained_sub_tasks": gorm.Expr("remained_sub_tasks - 1"),
			"created_count":      gorm.Expr("created_count + ?", stats.Created),
			"updated_count":      gorm.Expr("updated_count + ?", stats.Updated),
			"failure_count":      gorm.Expr("failure_count + ?", stats.Failure),
		}
		task.RemainedSubTasks--
		task.CreatedCount += stats.Created
		task.UpdatedCount += stats.Updated
		task.FailureCount += stats.Failure
		if stats.Started && task.RunningSubTasks > 0 {
			updates["running_sub_tasks"] = gorm.Expr("running_sub_tasks - 1")
			task.RunningSubTasks--
		}
		switch outcome {
		case JobTaskStatusFailure:
			updates["failed_sub_tasks"] = gorm.Expr("failed_sub_tasks + 1")
			task.FailedSubTasks++
		case JobTaskStatusCanceled:
			updates["canceled_sub_tasks"] = gorm.Expr("canceled_sub_tasks + 1")
			task.CanceledSubTasks++
		}

		if task.RemainedSubTasks == 0 {
			target := terminalJobTaskStatus(&task)
			if target != task.Status {
				next, err := NextJobTaskStatus(task.JobTaskID, task.Status, target)
				if err != nil {
					return err
				}
				updates["status"] = next
				task.Status = next
			}
			now := r.now().UTC()
			updates["finished_at"] = now
			task.FinishedAt = &now
			out.ReachedZero = true
		}

		res := tx.Model(&JobTask{}).Where("job_task_id = ? AND remained_sub_tasks > 0", jobTaskID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRemainedTasksUnderflow
		}
		out.Record = &task
		return nil
	})
	if err != nil {
		return Decrement[JobTask]{}, err
	}
	return out, nil
}

func (r *gormRepository) AddJobError(ctx context.Context, e *JobError) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *gormRepository) AddJobTaskError(ctx context.Context, e *JobTaskError) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(e).Error
}

// DeleteByCollector removes every job, task and error row of a collector.
func (r *gormRepository) DeleteByCollector(ctx context.Context, collectorID string) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		jobIDs := tx.Model(&Job{}).Select("job_id").Where("collector_id = ?", collectorID)
		if err := tx.Where("job_id IN (?)", jobIDs).Delete(&JobTaskError{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_id IN (?)", jobIDs).Delete(&JobError{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collector_id = ?", collectorID).Delete(&JobTask{}).Error; err != nil {
			return err
		}
		return tx.Where("collector_id = ?", collectorID).Delete(&Job{}).Error
	})
}

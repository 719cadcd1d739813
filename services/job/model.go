package job

import (
	"time"

	"gorm.io/datatypes"
)

// Job is one collect invocation for a collector.
type Job struct {
	JobID           string     `gorm:"column:job_id;primaryKey;type:varchar(64)"`
	CollectorID     string     `gorm:"column:collector_id;index;type:varchar(64);not null"`
	PluginID        string     `gorm:"column:plugin_id;type:varchar(64)"`
	DomainID        string     `gorm:"column:domain_id;index;type:varchar(64);not null"`
	WorkspaceID     string     `gorm:"column:workspace_id;index;type:varchar(64)"`
	RequestSecretID string     `gorm:"column:request_secret_id;type:varchar(64)"`
	Status          JobStatus  `gorm:"column:status;type:varchar(20);index;not null"`
	TotalTasks      int        `gorm:"column:total_tasks;not null;default:0"`
	RemainedTasks   int        `gorm:"column:remained_tasks;not null;default:0"`
	SuccessTasks    int        `gorm:"column:success_tasks;not null;default:0"`
	FailureTasks    int        `gorm:"column:failure_tasks;not null;default:0"`
	CanceledTasks   int        `gorm:"column:canceled_tasks;not null;default:0"`
	Errors          []JobError `gorm:"foreignKey:JobID;references:JobID"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
	FinishedAt      *time.Time `gorm:"column:finished_at"`
}

// JobTask is one unit of collection work: a secret, optionally split into sub-tasks.
type JobTask struct {
	JobTaskID        string         `gorm:"column:job_task_id;primaryKey;type:varchar(64)"`
	JobID            string         `gorm:"column:job_id;index;type:varchar(64);not null"`
	CollectorID      string         `gorm:"column:collector_id;index:idx_job_tasks_collector_status;type:varchar(64);not null"`
	SecretID         string         `gorm:"column:secret_id;type:varchar(64)"`
	ServiceAccountID string         `gorm:"column:service_account_id;type:varchar(64)"`
	ProjectID        string         `gorm:"column:project_id;type:varchar(64)"`
	DomainID         string         `gorm:"column:domain_id;type:varchar(64);not null"`
	WorkspaceID      string         `gorm:"column:workspace_id;type:varchar(64)"`
	Status           JobTaskStatus  `gorm:"column:status;index:idx_job_tasks_collector_status;type:varchar(20);not null"`
	TotalSubTasks    int            `gorm:"column:total_sub_tasks;not null;default:1"`
	RemainedSubTasks int            `gorm:"column:remained_sub_tasks;not null;default:1"`
	FailedSubTasks   int            `gorm:"column:failed_sub_tasks;not null;default:0"`
	CanceledSubTasks int            `gorm:"column:canceled_sub_tasks;not null;default:0"`
	RunningSubTasks  int            `gorm:"column:running_sub_tasks;not null;default:0"`
	CreatedCount     int            `gorm:"column:created_count;not null;default:0"`
	UpdatedCount     int            `gorm:"column:updated_count;not null;default:0"`
	FailureCount     int            `gorm:"column:failure_count;not null;default:0"`
	Errors           []JobTaskError `gorm:"foreignKey:JobTaskID;references:JobTaskID"`
	CreatedAt        time.Time      `gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime"`
	StartedAt        *time.Time     `gorm:"column:started_at"`
	FinishedAt       *time.Time     `gorm:"column:finished_at"`
}

// JobError rows are insert-only so concurrent writers never overwrite each other.
type JobError struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	JobID     string    `gorm:"column:job_id;index;type:varchar(64);not null"`
	Code      string    `gorm:"column:code;type:varchar(64);not null"`
	Message   string    `gorm:"column:message;type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

type JobTaskError struct {
	ID             int64             `gorm:"column:id;primaryKey;autoIncrement"`
	JobTaskID      string            `gorm:"column:job_task_id;index;type:varchar(64);not null"`
	JobID          string            `gorm:"column:job_id;index;type:varchar(64);not null"`
	Code           string            `gorm:"column:code;type:varchar(64);not null"`
	Message        string            `gorm:"column:message;type:text"`
	ResourceType   string            `gorm:"column:resource_type;type:varchar(64)"`
	ResourceID     string            `gorm:"column:resource_id;type:varchar(64)"`
	AdditionalInfo datatypes.JSONMap `gorm:"column:additional_info"`
	CreatedAt      time.Time         `gorm:"autoCreateTime"`
}

// TaskStats are the per-resource counters a work item accumulates.
type TaskStats struct {
	Created int
	Updated int
	Failure int
	// Started marks a work item that went through StartTask and holds a
	// running slot until it finishes.
	Started bool
}

// Models lists the tables owned by this package for migrations.
func Models() []any {
	return []any{&Job{}, &JobTask{}, &JobError{}, &JobTaskError{}}
}

package collector

import (
	"fmt"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"

	"inventory-collector/pkg/rediskey"
	"inventory-collector/pkg/taskname"
	"inventory-collector/services/plugin"
)

// SecretInfo is the non-sensitive part of a secret carried on a work item.
type SecretInfo struct {
	SecretID         string `json:"secret_id"`
	ServiceAccountID string `json:"service_account_id,omitempty"`
	ProjectID        string `json:"project_id,omitempty"`
	WorkspaceID      string `json:"workspace_id,omitempty"`
	Provider         string `json:"provider,omitempty"`
}

// WorkItem is the queue payload for one unit of collection.
type WorkItem struct {
	JobID       string         `json:"job_id"`
	JobTaskID   string         `json:"job_task_id"`
	CollectorID string         `json:"collector_id"`
	DomainID    string         `json:"domain_id"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	PluginInfo  plugin.Info    `json:"plugin_info"`
	TaskOptions map[string]any `json:"task_options,omitempty"`
	SecretInfo  SecretInfo     `json:"secret_info"`
	// SecretData is only ever filled in memory by the worker.
	SecretData map[string]any `json:"secret_data,omitempty"`
	IsSubTask  bool           `json:"is_sub_task"`
	// Seq numbers the sub-tasks of one job task.
	Seq int `json:"seq"`
	// Attempt counts concurrency requeues.
	Attempt int `json:"attempt,omitempty"`
}

// NewCollectTask builds the asynq task for item. Retries are driven by the
// worker, so asynq itself never retries.
func NewCollectTask(item WorkItem, queue string) (*asynq.Task, error) {
	scrubbed := item
	scrubbed.SecretData = nil
	payload, err := jsoniter.Marshal(scrubbed)
	if err != nil {
		return nil, fmt.Errorf("encode work item: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.TaskID(rediskey.BuildWorkItemID(item.JobTaskID, item.Seq, item.Attempt)),
	}
	if queue != "" {
		opts = append(opts, asynq.Queue(queue))
	}
	return asynq.NewTask(taskname.CollectorCollect, payload, opts...), nil
}

func DecodeWorkItem(payload []byte) (WorkItem, error) {
	var item WorkItem
	if err := jsoniter.Unmarshal(payload, &item); err != nil {
		return item, fmt.Errorf("decode work item: %w", err)
	}
	return item, nil
}

package rediskey

import "fmt"

const (
	JobTaskPrefix = "collect:job_task"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildWorkItemID returns "collect:job_task:{jobTaskID}:{seq}:{attempt}".
// seq distinguishes sub-tasks, attempt distinguishes requeues.
func BuildWorkItemID(jobTaskID string, seq, attempt int) string {
	return NamespaceKey(JobTaskPrefix, fmt.Sprintf("%s:%d:%d", jobTaskID, seq, attempt))
}

package job

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"

	"inventory-collector/pkg/config"
	"inventory-collector/pkg/kafka"
)

// Event is emitted once a job reaches a terminal status.
type Event struct {
	JobID        string     `json:"job_id"`
	CollectorID  string     `json:"collector_id"`
	DomainID     string     `json:"domain_id"`
	WorkspaceID  string     `json:"workspace_id,omitempty"`
	Status       JobStatus  `json:"status"`
	TotalTasks   int        `json:"total_tasks"`
	SuccessTasks int        `json:"success_tasks"`
	FailureTasks int        `json:"failure_tasks"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func newEvent(j *Job) Event {
	return Event{
		JobID:        j.JobID,
		CollectorID:  j.CollectorID,
		DomainID:     j.DomainID,
		WorkspaceID:  j.WorkspaceID,
		Status:       j.Status,
		TotalTasks:   j.TotalTasks,
		SuccessTasks: j.SuccessTasks,
		FailureTasks: j.FailureTasks,
		FinishedAt:   j.FinishedAt,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type kafkaPublisher struct {
	producer kafka.Producer
	topic    string
}

func NewEventPublisher(p kafka.Producer, cfg *config.Config) EventPublisher {
	return &kafkaPublisher{producer: p, topic: cfg.Kafka.JobEventsTopic}
}

func (k *kafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := jsoniter.Marshal(e)
	if err != nil {
		return err
	}
	return k.producer.Produce(ctx, k.topic, []byte(e.JobID), b)
}

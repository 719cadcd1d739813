package collecting

import "github.com/prometheus/client_golang/prometheus"

var (
	jobTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_job_tasks_total",
		Help: "Work items of job tasks handled, by status.",
	}, []string{"status"})

	resourcesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_resources_total",
		Help: "Collected resources, by type and upsert outcome.",
	}, []string{"resource_type", "outcome"})

	requeuesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_concurrency_requeues_total",
		Help: "Work items requeued by the concurrency gate.",
	})

	jobTaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "collector_job_task_duration_seconds",
		Help:    "Time spent collecting one work item of a job task.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{jobTasksTotal, resourcesTotal, requeuesTotal, jobTaskDuration}
}

package taskname

const (
	// Collector tasks
	CollectorCollect = "collector:collect"
)

package errutil

// CoreStatus is the stable error code stored on jobs and job tasks.
type CoreStatus string

const (
	StatusPluginInvocationFailed  CoreStatus = "ERROR_PLUGIN_INVOCATION_FAILED"
	StatusPluginResourceFailure   CoreStatus = "ERROR_PLUGIN_RESOURCE_FAILURE"
	StatusNoMatchRule             CoreStatus = "ERROR_NO_MATCH_RULE"
	StatusTooManyMatches          CoreStatus = "ERROR_TOO_MANY_MATCHES"
	StatusUnsupportedResourceType CoreStatus = "ERROR_UNSUPPORTED_RESOURCE_TYPE"
	StatusCollectCanceled         CoreStatus = "ERROR_COLLECT_CANCELED"
	StatusInvalidStateTransition  CoreStatus = "ERROR_INVALID_STATE_TRANSITION"
	StatusUnknownUpsertFailure    CoreStatus = "ERROR_UNKNOWN_UPSERT_FAILURE"
	StatusJobTimeout              CoreStatus = "ERROR_JOB_TIMEOUT"
	StatusEnqueueFailed           CoreStatus = "ERROR_ENQUEUE_FAILED"
	StatusNotFound                CoreStatus = "ERROR_NOT_FOUND"
	StatusInvalidArgument         CoreStatus = "ERROR_INVALID_ARGUMENT"
	StatusInternal                CoreStatus = "ERROR_INTERNAL"
)

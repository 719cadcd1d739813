package job

import (
	"errors"
	"fmt"

	"inventory-collector/pkg/errutil"
)

type JobStatus string

const (
	JobStatusCreated    JobStatus = "CREATED"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusFailure    JobStatus = "FAILURE"
	JobStatusCanceled   JobStatus = "CANCELED"
	JobStatusTimeout    JobStatus = "TIMEOUT"
)

type JobTaskStatus string

const (
	JobTaskStatusPending    JobTaskStatus = "PENDING"
	JobTaskStatusInProgress JobTaskStatus = "IN_PROGRESS"
	JobTaskStatusSuccess    JobTaskStatus = "SUCCESS"
	JobTaskStatusFailure    JobTaskStatus = "FAILURE"
	JobTaskStatusCanceled   JobTaskStatus = "CANCELED"
)

// jobTransitions maps a target status to the statuses it may be entered from.
// A nil entry means any current status is accepted.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusInProgress: {JobStatusCreated, JobStatusInProgress, JobStatusSuccess},
	JobStatusCanceled:   {JobStatusCreated, JobStatusInProgress},
	JobStatusSuccess:    {JobStatusCreated, JobStatusInProgress, JobStatusSuccess},
	JobStatusTimeout:    {JobStatusCreated, JobStatusInProgress},
	JobStatusFailure:    nil,
}

var jobTaskTransitions = map[JobTaskStatus][]JobTaskStatus{
	JobTaskStatusInProgress: {JobTaskStatusPending, JobTaskStatusInProgress},
	JobTaskStatusSuccess:    {JobTaskStatusInProgress},
	JobTaskStatusFailure:    nil,
	JobTaskStatusCanceled:   nil,
}

// InvalidStateTransitionError is returned when a requested status change is
// not allowed from the current status.
type InvalidStateTransitionError struct {
	ID      string
	Action  string
	Current string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: cannot %s from %s", e.ID, e.Action, e.Current)
}

func (e *InvalidStateTransitionError) Status() errutil.CoreStatus {
	return errutil.StatusInvalidStateTransition
}

// IsInvalidStateTransition reports whether err wraps an InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var target *InvalidStateTransitionError
	return errors.As(err, &target)
}

// NextJobStatus validates moving job id from current to target.
func NextJobStatus(id string, current, target JobStatus) (JobStatus, error) {
	allowed, ok := jobTransitions[target]
	if !ok {
		return current, &InvalidStateTransitionError{ID: id, Action: string(target), Current: string(current)}
	}
	if allowed == nil {
		return target, nil
	}
	for _, s := range allowed {
		if s == current {
			return target, nil
		}
	}
	return current, &InvalidStateTransitionError{ID: id, Action: string(target), Current: string(current)}
}

// NextJobTaskStatus validates moving job task id from current to target.
func NextJobTaskStatus(id string, current, target JobTaskStatus) (JobTaskStatus, error) {
	allowed, ok := jobTaskTransitions[target]
	if !ok {
		return current, &InvalidStateTransitionError{ID: id, Action: string(target), Current: string(current)}
	}
	if allowed == nil {
		return target, nil
	}
	for _, s := range allowed {
		if s == current {
			return target, nil
		}
	}
	return current, &InvalidStateTransitionError{ID: id, Action: string(target), Current: string(current)}
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailure, JobStatusCanceled, JobStatusTimeout:
		return true
	}
	return false
}

func (s JobTaskStatus) IsTerminal() bool {
	switch s {
	case JobTaskStatusSuccess, JobTaskStatusFailure, JobTaskStatusCanceled:
		return true
	}
	return false
}

// terminalJobStatus decides the final job status once every unit has reported.
// Failure wins over cancellation, which wins over success.
func terminalJobStatus(current JobStatus, failures, canceled int) JobStatus {
	switch {
	case failures > 0 || current == JobStatusFailure:
		return JobStatusFailure
	case canceled > 0 || current == JobStatusCanceled:
		return JobStatusCanceled
	default:
		return JobStatusSuccess
	}
}

// terminalJobTaskStatus decides the final task status once every sub-task has reported.
func terminalJobTaskStatus(t *JobTask) JobTaskStatus {
	switch {
	case t.FailedSubTasks > 0 || t.FailureCount > 0:
		return JobTaskStatusFailure
	case t.CanceledSubTasks > 0:
		return JobTaskStatusCanceled
	default:
		return JobTaskStatusSuccess
	}
}

package tracker

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned by a StatusChecker when the indexer does not
// know the task.
var ErrTaskNotFound = errors.New("task not found at indexer")

// TaskStatusUnknownError is returned when a task could not be resolved
// within the check budget and was moved to unknown.
type TaskStatusUnknownError struct {
	TaskID    string
	SessionID string
	Attempts  int
	Err       error
}

func (e *TaskStatusUnknownError) Error() string {
	msg := fmt.Sprintf("task %s (session %s) unresolved after %d checks", e.TaskID, e.SessionID, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TaskStatusUnknownError) Unwrap() error {
	return e.Err
}

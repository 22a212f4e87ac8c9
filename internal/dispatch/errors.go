package dispatch

import (
	"errors"
	"fmt"
)

// ErrNothingToDispatch is returned when every file of a content item is
// already indexed.
var ErrNothingToDispatch = errors.New("no files to dispatch")

// DispatchError is returned when submission to the indexer failed after
// retries. The content's indexing status is set to error.
type DispatchError struct {
	ContentID string
	SessionID string
	Attempts  int
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch content %s (session %s) failed after %d attempts: %v",
		e.ContentID, e.SessionID, e.Attempts, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// DispatchConflictError is returned when the session already has a
// submitted task or another dispatch holds it.
type DispatchConflictError struct {
	SessionID    string
	ActiveTaskID string
}

func (e *DispatchConflictError) Error() string {
	if e.ActiveTaskID != "" {
		return fmt.Sprintf("session %s already has submitted task %s", e.SessionID, e.ActiveTaskID)
	}
	return fmt.Sprintf("session %s is being dispatched", e.SessionID)
}

package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// TaskStatus is the lifecycle state of an IndexingTask.
type TaskStatus string

const (
	TaskSubmitted TaskStatus = "submitted"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
	TaskUnknown   TaskStatus = "unknown"
)

var ErrInvalidTransition = goerr.New("invalid task status transition")

// IsValid reports whether s is one of the defined statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskSubmitted, TaskCompleted, TaskError, TaskUnknown:
		return true
	default:
		return false
	}
}

// IsFinal reports whether no further transition is allowed from s.
// Unknown is final as well: reconciliation after it requires a new dispatch.
func (s TaskStatus) IsFinal() bool {
	return s == TaskCompleted || s == TaskError || s == TaskUnknown
}

func (s TaskStatus) String() string {
	return string(s)
}

// IndexingStatus maps a task status onto the owning content's indexing status.
func (s TaskStatus) IndexingStatus() IndexingStatus {
	switch s {
	case TaskSubmitted:
		return IndexingSubmitted
	case TaskCompleted:
		return IndexingIndexed
	case TaskError:
		return IndexingError
	default:
		return IndexingUnknown
	}
}

// FileRef is one entry of an indexing payload's file list.
type FileRef struct {
	FileID   string         `json:"file_id" firestore:"FileID"`
	Filename string         `json:"filename" firestore:"Filename"`
	MIMEType string         `json:"mime_type" firestore:"MIMEType"`
	URL      string         `json:"url" firestore:"URL"`
	Metadata map[string]any `json:"metadata" firestore:"Metadata"`
}

// IndexingTask is a unit of asynchronous indexing work for one session.
type IndexingTask struct {
	TaskID        string     `json:"task_id" firestore:"TaskID"`
	SessionID     string     `json:"session_id" firestore:"SessionID"`
	FileList      []FileRef  `json:"file_list" firestore:"FileList"`
	Status        TaskStatus `json:"status" firestore:"Status"`
	Message       string     `json:"message,omitempty" firestore:"Message"`
	SubmittedAt   time.Time  `json:"submitted_at" firestore:"SubmittedAt"`
	LastCheckedAt time.Time  `json:"last_checked_at" firestore:"LastCheckedAt"`
	Attempts      int        `json:"attempts" firestore:"Attempts"`
}

// Transition moves the task to the given status. Only submitted tasks may
// change, and only to completed, error or unknown.
func (t *IndexingTask) Transition(to TaskStatus, at time.Time) error {
	if !to.IsValid() {
		return goerr.Wrap(ErrInvalidTransition, "unknown status",
			goerr.V("task_id", t.TaskID), goerr.V("to", to))
	}
	if t.Status != TaskSubmitted || to == TaskSubmitted {
		return goerr.Wrap(ErrInvalidTransition, "task status cannot change",
			goerr.V("task_id", t.TaskID), goerr.V("from", t.Status), goerr.V("to", to))
	}
	t.Status = to
	t.LastCheckedAt = at
	return nil
}

// FileIDs returns the ids of the task's files in payload order.
func (t *IndexingTask) FileIDs() []string {
	ids := make([]string, len(t.FileList))
	for i, f := range t.FileList {
		ids[i] = f.FileID
	}
	return ids
}

// Copy returns a deep copy of the task.
func (t *IndexingTask) Copy() *IndexingTask {
	copied := *t
	copied.FileList = make([]FileRef, len(t.FileList))
	for i, f := range t.FileList {
		copied.FileList[i] = f
		if f.Metadata != nil {
			m := make(map[string]any, len(f.Metadata))
			for k, v := range f.Metadata {
				m[k] = v
			}
			copied.FileList[i].Metadata = m
		}
	}
	return &copied
}

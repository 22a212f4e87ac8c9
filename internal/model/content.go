// Package model defines the entities shared by the indexing and RAG pipeline.
package model

import (
	"slices"
	"time"
)

// IndexingStatus is the indexing state recorded on a Content item.
type IndexingStatus string

const (
	IndexingPending   IndexingStatus = "pending"
	IndexingSubmitted IndexingStatus = "submitted"
	IndexingIndexed   IndexingStatus = "indexed"
	IndexingError     IndexingStatus = "error"
	IndexingUnknown   IndexingStatus = "unknown"
)

// Content is one conference item (talk, workshop, keynote) and its uploaded files.
type Content struct {
	ID             string         `json:"id" firestore:"ID"`
	Title          string         `json:"title" firestore:"Title"`
	Metadata       Metadata       `json:"metadata" firestore:"Metadata"`
	FileIDs        []string       `json:"file_ids" firestore:"FileIDs"`
	IndexingStatus IndexingStatus `json:"indexing_status" firestore:"IndexingStatus"`
	IndexedFileIDs []string       `json:"indexed_file_ids,omitempty" firestore:"IndexedFileIDs"`
	Tasks          []TaskRef      `json:"tasks,omitempty" firestore:"Tasks"`
	CreatedAt      time.Time      `json:"created_at" firestore:"CreatedAt"`
	UpdatedAt      time.Time      `json:"updated_at" firestore:"UpdatedAt"`
}

// TaskRef is one entry of a content item's task history.
type TaskRef struct {
	TaskID      string     `json:"task_id" firestore:"TaskID"`
	Status      TaskStatus `json:"status" firestore:"Status"`
	SubmittedAt time.Time  `json:"submitted_at" firestore:"SubmittedAt"`
	UpdatedAt   time.Time  `json:"updated_at" firestore:"UpdatedAt"`
}

// IsIndexed reports whether the file was part of a completed indexing task.
func (c *Content) IsIndexed(fileID string) bool {
	return slices.Contains(c.IndexedFileIDs, fileID)
}

// RecordTask adds or updates the task history entry for ref.TaskID.
func (c *Content) RecordTask(ref TaskRef) {
	for i := range c.Tasks {
		if c.Tasks[i].TaskID == ref.TaskID {
			if ref.SubmittedAt.IsZero() {
				ref.SubmittedAt = c.Tasks[i].SubmittedAt
			}
			c.Tasks[i] = ref
			return
		}
	}
	c.Tasks = append(c.Tasks, ref)
}

// MarkIndexed adds file ids to IndexedFileIDs, skipping ones already present.
func (c *Content) MarkIndexed(fileIDs ...string) {
	for _, id := range fileIDs {
		if !c.IsIndexed(id) {
			c.IndexedFileIDs = append(c.IndexedFileIDs, id)
		}
	}
}

// Copy returns a deep copy of the content.
func (c *Content) Copy() *Content {
	copied := *c
	copied.Metadata = c.Metadata.Copy()
	copied.FileIDs = slices.Clone(c.FileIDs)
	copied.IndexedFileIDs = slices.Clone(c.IndexedFileIDs)
	copied.Tasks = slices.Clone(c.Tasks)
	return &copied
}

// SourceFile is an uploaded file owned by a Content item. Immutable once created.
type SourceFile struct {
	ID         string `json:"id" firestore:"ID"`
	ContentID  string `json:"content_id" firestore:"ContentID"`
	Filename   string `json:"filename" firestore:"Filename"`
	MIMEType   string `json:"mime_type" firestore:"MIMEType"`
	StorageURI string `json:"storage_uri" firestore:"StorageURI"`
}

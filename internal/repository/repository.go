// Package repository defines the metadata store used by the dispatcher and
// tracker. Implementations live in the memory and firestore subpackages.
package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
)

var (
	ErrNotFound    = goerr.New("not found")
	ErrSessionBusy = goerr.New("session is busy")
	ErrClaimLost   = goerr.New("session claim lost")
)

// Repository groups the stores of the indexing pipeline.
type Repository interface {
	Content() ContentRepository
	Files() FileRepository
	Tasks() TaskRepository
	Sessions() SessionRepository
	Close() error
}

// ContentRepository stores Content records. Contents are never deleted here.
type ContentRepository interface {
	Get(ctx context.Context, id string) (*model.Content, error)
	// Put creates or replaces a content, setting CreatedAt on first write.
	Put(ctx context.Context, content *model.Content) (*model.Content, error)
	List(ctx context.Context) ([]*model.Content, error)
	// Update applies fn to the stored content atomically.
	Update(ctx context.Context, id string, fn func(*model.Content) error) (*model.Content, error)
}

// FileRepository stores SourceFile records.
type FileRepository interface {
	Get(ctx context.Context, id string) (*model.SourceFile, error)
	Put(ctx context.Context, file *model.SourceFile) error
	ListByContent(ctx context.Context, contentID string) ([]*model.SourceFile, error)
}

// TaskRepository stores IndexingTask records.
type TaskRepository interface {
	Get(ctx context.Context, taskID string) (*model.IndexingTask, error)
	Create(ctx context.Context, task *model.IndexingTask) error
	// Update applies fn to the stored task atomically.
	Update(ctx context.Context, taskID string, fn func(*model.IndexingTask) error) (*model.IndexingTask, error)
	ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.IndexingTask, error)
	ListBySession(ctx context.Context, sessionID string) ([]*model.IndexingTask, error)
}

// SessionRepository is the conditional-write lock behind the
// one-submitted-task-per-session rule.
type SessionRepository interface {
	Get(ctx context.Context, sessionID string) (*model.Session, error)
	// Claim reserves the session for claimID until now+ttl. It returns
	// ErrSessionBusy, together with the current session, when the session
	// has an active task or another live claim.
	Claim(ctx context.Context, sessionID, claimID string, now time.Time, ttl time.Duration) (*model.Session, error)
	// Activate replaces claimID with the submitted task. It returns
	// ErrClaimLost when the claim is no longer held.
	Activate(ctx context.Context, sessionID, claimID, taskID string, now time.Time) error
	// Release drops claimID if it is still held.
	Release(ctx context.Context, sessionID, claimID string) error
	// ClearActive drops taskID as the active task if it still is.
	ClearActive(ctx context.Context, sessionID, taskID string) error
}

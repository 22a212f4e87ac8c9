// Package firestore stores contents, files, tasks and session locks in Cloud Firestore.
package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/repository"
)

type Firestore struct {
	client   *firestore.Client
	content  *contentRepository
	files    *fileRepository
	tasks    *taskRepository
	sessions *sessionRepository
}

var _ repository.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix isolates collections, e.g. per test run.
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.content.collection = prefixed(prefix, "contents")
		f.files.collection = prefixed(prefix, "source_files")
		f.tasks.collection = prefixed(prefix, "indexing_tasks")
		f.sessions.collection = prefixed(prefix, "sessions")
	}
}

func prefixed(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// New connects to Firestore. An empty databaseID uses the default database.
func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:   client,
		content:  &contentRepository{client: client, collection: "contents"},
		files:    &fileRepository{client: client, collection: "source_files"},
		tasks:    &taskRepository{client: client, collection: "indexing_tasks"},
		sessions: &sessionRepository{client: client, collection: "sessions"},
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Content() repository.ContentRepository {
	return f.content
}

func (f *Firestore) Files() repository.FileRepository {
	return f.files
}

func (f *Firestore) Tasks() repository.TaskRepository {
	return f.tasks
}

func (f *Firestore) Sessions() repository.SessionRepository {
	return f.sessions
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

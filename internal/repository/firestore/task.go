package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type taskRepository struct {
	client     *firestore.Client
	collection string
}

func (r *taskRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *taskRepository) Get(ctx context.Context, taskID string) (*model.IndexingTask, error) {
	doc, err := r.doc(taskID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
		}
		return nil, goerr.Wrap(err, "failed to get task", goerr.V("task_id", taskID))
	}

	var task model.IndexingTask
	if err := doc.DataTo(&task); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal task", goerr.V("task_id", taskID))
	}
	return &task, nil
}

func (r *taskRepository) Create(ctx context.Context, task *model.IndexingTask) error {
	if task.TaskID == "" {
		return goerr.New("task id is required")
	}
	if _, err := r.doc(task.TaskID).Create(ctx, task); err != nil {
		return goerr.Wrap(err, "failed to create task", goerr.V("task_id", task.TaskID))
	}
	return nil
}

func (r *taskRepository) Update(ctx context.Context, taskID string, fn func(*model.IndexingTask) error) (*model.IndexingTask, error) {
	var updated *model.IndexingTask
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.doc(taskID)
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
			}
			return goerr.Wrap(err, "failed to get task", goerr.V("task_id", taskID))
		}

		var task model.IndexingTask
		if err := doc.DataTo(&task); err != nil {
			return goerr.Wrap(err, "failed to unmarshal task", goerr.V("task_id", taskID))
		}
		if err := fn(&task); err != nil {
			return err
		}
		task.TaskID = taskID

		updated = &task
		return tx.Set(ref, &task)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, s model.TaskStatus) ([]*model.IndexingTask, error) {
	return r.query(ctx, r.client.Collection(r.collection).Where("Status", "==", string(s)))
}

func (r *taskRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.IndexingTask, error) {
	return r.query(ctx, r.client.Collection(r.collection).Where("SessionID", "==", sessionID))
}

// query returns tasks ordered by submission time, then id. Sorting happens
// client-side so no composite index is required.
func (r *taskRepository) query(ctx context.Context, q firestore.Query) ([]*model.IndexingTask, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var tasks []*model.IndexingTask
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate tasks")
		}

		var task model.IndexingTask
		if err := doc.DataTo(&task); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal task", goerr.V("docID", doc.Ref.ID))
		}
		tasks = append(tasks, &task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].SubmittedAt.Equal(tasks[j].SubmittedAt) {
			return tasks[i].SubmittedAt.Before(tasks[j].SubmittedAt)
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
	return tasks, nil
}

func sortFiles(files []*model.SourceFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type taskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*model.IndexingTask
}

func newTaskRepository() *taskRepository {
	return &taskRepository{
		tasks: make(map[string]*model.IndexingTask),
	}
}

func (r *taskRepository) Get(ctx context.Context, taskID string) (*model.IndexingTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
	}
	return task.Copy(), nil
}

func (r *taskRepository) Create(ctx context.Context, task *model.IndexingTask) error {
	if task.TaskID == "" {
		return goerr.New("task id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.TaskID]; exists {
		return goerr.New("task already exists", goerr.V("task_id", task.TaskID))
	}
	r.tasks[task.TaskID] = task.Copy()
	return nil
}

func (r *taskRepository) Update(ctx context.Context, taskID string, fn func(*model.IndexingTask) error) (*model.IndexingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.tasks[taskID]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
	}

	updated := existing.Copy()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.TaskID = taskID

	r.tasks[taskID] = updated
	return updated.Copy(), nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.IndexingTask, error) {
	return r.list(func(t *model.IndexingTask) bool { return t.Status == status }), nil
}

func (r *taskRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.IndexingTask, error) {
	return r.list(func(t *model.IndexingTask) bool { return t.SessionID == sessionID }), nil
}

// list returns matching tasks ordered by submission time, then id.
func (r *taskRepository) list(match func(*model.IndexingTask) bool) []*model.IndexingTask {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tasks []*model.IndexingTask
	for _, t := range r.tasks {
		if match(t) {
			tasks = append(tasks, t.Copy())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].SubmittedAt.Equal(tasks[j].SubmittedAt) {
			return tasks[i].SubmittedAt.Before(tasks[j].SubmittedAt)
		}
		return tasks[i].TaskID < tasks[j].TaskID
	})
	return tasks
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type taskRepository struct {
	db *sql.DB
}

func (r *taskRepository) Get(ctx context.Context, taskID string) (*model.IndexingTask, error) {
	var task model.IndexingTask
	found, err := load(ctx, r.db, &task, `SELECT data FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get task", goerr.V("task_id", taskID))
	}
	if !found {
		return nil, goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
	}
	return &task, nil
}

func (r *taskRepository) Create(ctx context.Context, task *model.IndexingTask) error {
	if task.TaskID == "" {
		return goerr.New("task id is required")
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE task_id = ?`, task.TaskID).Scan(&exists)
		switch {
		case err == nil:
			return goerr.New("task already exists", goerr.V("task_id", task.TaskID))
		case !errors.Is(err, sql.ErrNoRows):
			return goerr.Wrap(err, "failed to check task", goerr.V("task_id", task.TaskID))
		}

		data, err := encode(task)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (task_id, session_id, status, submitted_at, data) VALUES (?, ?, ?, ?, ?)`,
			task.TaskID, task.SessionID, string(task.Status), task.SubmittedAt.UnixNano(), data)
		if err != nil {
			return goerr.Wrap(err, "failed to create task", goerr.V("task_id", task.TaskID))
		}
		return nil
	})
}

func (r *taskRepository) Update(ctx context.Context, taskID string, fn func(*model.IndexingTask) error) (*model.IndexingTask, error) {
	var updated model.IndexingTask
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		found, err := load(ctx, tx, &updated, `SELECT data FROM tasks WHERE task_id = ?`, taskID)
		if err != nil {
			return goerr.Wrap(err, "failed to get task", goerr.V("task_id", taskID))
		}
		if !found {
			return goerr.Wrap(repository.ErrNotFound, "task not found", goerr.V("task_id", taskID))
		}

		if err := fn(&updated); err != nil {
			return err
		}
		updated.TaskID = taskID

		data, err := encode(&updated)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET session_id = ?, status = ?, submitted_at = ?, data = ? WHERE task_id = ?`,
			updated.SessionID, string(updated.Status), updated.SubmittedAt.UnixNano(), data, taskID)
		if err != nil {
			return goerr.Wrap(err, "failed to update task", goerr.V("task_id", taskID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, status model.TaskStatus) ([]*model.IndexingTask, error) {
	tasks, err := loadAll[model.IndexingTask](ctx, r.db,
		`SELECT data FROM tasks WHERE status = ? ORDER BY submitted_at, task_id`, string(status))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tasks", goerr.V("status", status))
	}
	return tasks, nil
}

func (r *taskRepository) ListBySession(ctx context.Context, sessionID string) ([]*model.IndexingTask, error) {
	tasks, err := loadAll[model.IndexingTask](ctx, r.db,
		`SELECT data FROM tasks WHERE session_id = ? ORDER BY submitted_at, task_id`, sessionID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tasks", goerr.V("session_id", sessionID))
	}
	return tasks, nil
}

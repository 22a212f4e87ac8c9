// Package tracker resolves the status of indexing tasks and records it on
// the task, its content and an optional local result log.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/retry"
)

// DefaultMaxChecks is how many failed or unrecognised checks a task gets
// before it is marked unknown.
const DefaultMaxChecks = 10

// DefaultMaxPending is how long a task may stay in progress at the indexer,
// measured from submission, before it is marked unknown.
const DefaultMaxPending = 6 * time.Hour

// Options configures a Tracker.
type Options struct {
	MaxChecks int
	// MaxPending bounds the time a task may be reported in progress.
	MaxPending  time.Duration
	Retry       retry.Policy
	ResultLog   *ResultLog
	Concurrency int
	Logger      *slog.Logger
}

// Tracker drives tasks from submitted to completed, error or unknown.
type Tracker struct {
	repo        repository.Repository
	checker     StatusChecker
	maxChecks   int
	maxPending  time.Duration
	retry       retry.Policy
	log         *ResultLog
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

func New(repo repository.Repository, checker StatusChecker, opts Options) *Tracker {
	if opts.MaxChecks <= 0 {
		opts.MaxChecks = DefaultMaxChecks
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		repo:        repo,
		checker:     checker,
		maxChecks:   opts.MaxChecks,
		maxPending:  opts.MaxPending,
		retry:       opts.Retry,
		log:         opts.ResultLog,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Check queries the indexer once for a submitted task and persists the
// outcome. Final tasks return their stored status without a remote call.
// A task that ends up unknown is reported with *TaskStatusUnknownError.
func (t *Tracker) Check(ctx context.Context, taskID string) (model.TaskStatus, error) {
	task, err := t.repo.Tasks().Get(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task.Status.IsFinal() {
		return task.Status, unknownError(task, nil)
	}

	var remote *RemoteStatus
	_, checkErr := t.retry.Do(ctx, func(ctx context.Context) error {
		r, err := t.checker.Status(ctx, taskID)
		if err != nil {
			return err
		}
		remote = r
		return nil
	})
	if checkErr != nil && ctx.Err() != nil {
		return task.Status, fmt.Errorf("check task %s cancelled: %w", taskID, ctx.Err())
	}

	// counted marks checks that spend the MaxChecks budget.
	next, message, counted := model.TaskSubmitted, "", false
	switch {
	case errors.Is(checkErr, ErrTaskNotFound):
		next, message, counted = model.TaskUnknown, checkErr.Error(), true
	case checkErr != nil:
		message, counted = checkErr.Error(), true
		t.logger.Warn("task status check failed", "task_id", taskID, "error", checkErr)
	default:
		message = remote.Message
		switch remote.Phase() {
		case PhaseCompleted:
			next = model.TaskCompleted
		case PhaseError:
			next = model.TaskError
		case PhaseInProgress:
		default:
			counted = true
			if message == "" {
				message = fmt.Sprintf("unrecognised indexer status %q", remote.Status)
			}
			t.logger.Warn("unrecognised task status", "task_id", taskID, "status", remote.Status)
		}
	}

	now := t.now()
	updated, err := t.repo.Tasks().Update(ctx, taskID, func(task *model.IndexingTask) error {
		if task.Status.IsFinal() {
			// Resolved by a concurrent check.
			return nil
		}
		task.LastCheckedAt = now
		task.Message = message
		if counted {
			task.Attempts++
		}
		to := next
		if to == model.TaskSubmitted {
			switch {
			case counted && task.Attempts >= t.maxChecks:
			case !counted && now.Sub(task.SubmittedAt) >= t.maxPending:
				task.Message = fmt.Sprintf("still in progress after %s", t.maxPending)
			default:
				return nil
			}
			to = model.TaskUnknown
		}
		return task.Transition(to, now)
	})
	if err != nil {
		return task.Status, fmt.Errorf("persist task %s: %w", taskID, err)
	}

	if updated.Status.IsFinal() {
		if err := t.resolveContent(ctx, updated, now); err != nil {
			return updated.Status, err
		}
	}
	t.appendResult(ctx, updated)

	t.logger.Debug("task checked",
		"task_id", taskID, "status", updated.Status, "attempts", updated.Attempts)
	return updated.Status, unknownError(updated, checkErr)
}

func unknownError(task *model.IndexingTask, cause error) error {
	if task.Status != model.TaskUnknown {
		return nil
	}
	return &TaskStatusUnknownError{
		TaskID:    task.TaskID,
		SessionID: task.SessionID,
		Attempts:  task.Attempts,
		Err:       cause,
	}
}

// resolveContent mirrors a final task status onto its content and frees
// the session for the next dispatch.
func (t *Tracker) resolveContent(ctx context.Context, task *model.IndexingTask, now time.Time) error {
	_, err := t.repo.Content().Update(ctx, task.SessionID, func(c *model.Content) error {
		c.RecordTask(model.TaskRef{
			TaskID:      task.TaskID,
			Status:      task.Status,
			SubmittedAt: task.SubmittedAt,
			UpdatedAt:   now,
		})
		c.IndexingStatus = task.Status.IndexingStatus()
		if task.Status == model.TaskCompleted {
			c.MarkIndexed(task.FileIDs()...)
		}
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("record task %s on content %s: %w", task.TaskID, task.SessionID, err)
	}

	if err := t.repo.Sessions().ClearActive(ctx, task.SessionID, task.TaskID); err != nil {
		return fmt.Errorf("clear session %s: %w", task.SessionID, err)
	}

	t.logger.Info("task resolved",
		"task_id", task.TaskID, "session_id", task.SessionID, "status", task.Status)
	return nil
}

func (t *Tracker) appendResult(ctx context.Context, task *model.IndexingTask) {
	if t.log == nil {
		return
	}
	err := t.log.Append(ctx, Entry{
		TaskID:    task.TaskID,
		SessionID: task.SessionID,
		Status:    task.Status,
		Attempts:  task.Attempts,
		Message:   task.Message,
		CheckedAt: task.LastCheckedAt,
	})
	if err != nil {
		t.logger.Warn("failed to append task result", "task_id", task.TaskID, "error", err)
	}
}

// Result is the outcome of one check in Reconcile.
type Result struct {
	TaskID string
	Status model.TaskStatus
	// Cached is set when the status came from the result log.
	Cached bool
	Err    error
}

// Reconcile checks the given tasks, or every submitted task when ids is
// empty. Tasks already final in the result log are not queried again.
func (t *Tracker) Reconcile(ctx context.Context, taskIDs []string) ([]Result, error) {
	if len(taskIDs) == 0 {
		tasks, err := t.repo.Tasks().ListByStatus(ctx, model.TaskSubmitted)
		if err != nil {
			return nil, fmt.Errorf("list submitted tasks: %w", err)
		}
		for _, task := range tasks {
			taskIDs = append(taskIDs, task.TaskID)
		}
	}

	resolved := map[string]model.TaskStatus{}
	if t.log != nil {
		r, err := t.log.Resolved(ctx)
		if err != nil {
			return nil, err
		}
		resolved = r
	}

	results := make([]Result, len(taskIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, id := range taskIDs {
		if status, ok := resolved[id]; ok {
			results[i] = Result{TaskID: id, Status: status, Cached: true}
			continue
		}
		g.Go(func() error {
			status, err := t.Check(gctx, id)
			results[i] = Result{TaskID: id, Status: status, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if len(taskIDs) > 0 {
		t.logger.Info("tasks reconciled", "count", len(taskIDs))
	}
	return results, nil
}

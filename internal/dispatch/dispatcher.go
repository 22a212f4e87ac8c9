// Package dispatch submits the unindexed files of a content item to the
// external indexer as one task per session.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bull/confrag/internal/blob"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/retry"
)

// DefaultClaimTTL bounds how long a crashed dispatcher can block a session.
const DefaultClaimTTL = 5 * time.Minute

// Options configures a Dispatcher.
type Options struct {
	Retry retry.Policy
	// SubmitInterval is the minimum gap between consecutive submissions.
	SubmitInterval time.Duration
	ClaimTTL       time.Duration
	Concurrency    int
	Logger         *slog.Logger
}

// Dispatcher builds and submits indexing payloads. At most one submitted
// task exists per session; a second dispatch is rejected with
// *DispatchConflictError until the tracker resolves the first.
type Dispatcher struct {
	repo        repository.Repository
	submitter   TaskSubmitter
	retry       retry.Policy
	limiter     *rate.Limiter
	claimTTL    time.Duration
	concurrency int
	locks       *keyedMutex
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a dispatcher.
func New(repo repository.Repository, submitter TaskSubmitter, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = DefaultClaimTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.SubmitInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.SubmitInterval), 1)
	}

	d := &Dispatcher{
		repo:        repo,
		submitter:   submitter,
		retry:       opts.Retry,
		limiter:     limiter,
		claimTTL:    opts.ClaimTTL,
		concurrency: opts.Concurrency,
		locks:       newKeyedMutex(),
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if d.retry.OnRetry == nil {
		d.retry.OnRetry = func(err error, wait time.Duration) {
			d.logger.Warn("indexer submission failed, retrying", "wait", wait, "error", err)
		}
	}
	return d
}

// Dispatch submits every not-yet-indexed file of the content as one task
// and returns its id. The session id is the content id.
func (d *Dispatcher) Dispatch(ctx context.Context, contentID string) (string, error) {
	sessionID := contentID
	unlock := d.locks.Lock(sessionID)
	defer unlock()

	content, err := d.repo.Content().Get(ctx, contentID)
	if err != nil {
		return "", fmt.Errorf("load content %s: %w", contentID, err)
	}
	files, err := d.pendingFiles(ctx, content)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("content %s: %w", contentID, ErrNothingToDispatch)
	}

	claimID := uuid.NewString()
	if err := d.claim(ctx, sessionID, claimID); err != nil {
		return "", err
	}

	payload := BuildPayload(content, files)

	if err := d.limiter.Wait(ctx); err != nil {
		d.release(ctx, sessionID, claimID)
		return "", fmt.Errorf("wait for submit slot: %w", err)
	}

	var result *SubmitResult
	attempts, err := d.retry.Do(ctx, func(ctx context.Context) error {
		r, err := d.submitter.Submit(ctx, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		d.release(ctx, sessionID, claimID)
		if ctx.Err() != nil {
			return "", fmt.Errorf("dispatch content %s cancelled: %w", contentID, ctx.Err())
		}
		d.markFailed(ctx, contentID)
		d.logger.Error("dispatch failed",
			"content_id", contentID, "attempts", attempts, "error", err)
		return "", &DispatchError{ContentID: contentID, SessionID: sessionID, Attempts: attempts, Err: err}
	}

	// The task now exists at the indexer; record it even if the caller
	// has gone away.
	if err := d.record(context.WithoutCancel(ctx), content.ID, sessionID, claimID, result.TaskID, payload); err != nil {
		return result.TaskID, err
	}

	d.logger.Info("content dispatched",
		"content_id", contentID, "task_id", result.TaskID, "files", len(payload.FileList), "attempts", attempts)
	return result.TaskID, nil
}

// claim takes the session lock and double-checks the task store for a
// submitted task that the session record does not know about.
func (d *Dispatcher) claim(ctx context.Context, sessionID, claimID string) error {
	session, err := d.repo.Sessions().Claim(ctx, sessionID, claimID, d.now(), d.claimTTL)
	if err != nil {
		if errors.Is(err, repository.ErrSessionBusy) {
			conflict := &DispatchConflictError{SessionID: sessionID}
			if session != nil {
				conflict.ActiveTaskID = session.ActiveTaskID
			}
			return conflict
		}
		return fmt.Errorf("claim session %s: %w", sessionID, err)
	}

	tasks, err := d.repo.Tasks().ListBySession(ctx, sessionID)
	if err != nil {
		d.release(ctx, sessionID, claimID)
		return fmt.Errorf("list tasks of session %s: %w", sessionID, err)
	}
	for _, t := range tasks {
		if t.Status == model.TaskSubmitted {
			d.release(ctx, sessionID, claimID)
			return &DispatchConflictError{SessionID: sessionID, ActiveTaskID: t.TaskID}
		}
	}
	return nil
}

func (d *Dispatcher) release(ctx context.Context, sessionID, claimID string) {
	if err := d.repo.Sessions().Release(context.WithoutCancel(ctx), sessionID, claimID); err != nil {
		d.logger.Warn("failed to release session claim", "session_id", sessionID, "error", err)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, contentID string) {
	_, err := d.repo.Content().Update(context.WithoutCancel(ctx), contentID, func(c *model.Content) error {
		c.IndexingStatus = model.IndexingError
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to set content status", "content_id", contentID, "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, contentID, sessionID, claimID, taskID string, payload Payload) error {
	now := d.now()
	task := &model.IndexingTask{
		TaskID:      taskID,
		SessionID:   sessionID,
		FileList:    payload.FileList,
		Status:      model.TaskSubmitted,
		SubmittedAt: now,
	}
	if err := d.repo.Tasks().Create(ctx, task); err != nil {
		// Nothing local refers to the task, so free the session for a
		// later dispatch.
		d.release(ctx, sessionID, claimID)
		d.markFailed(ctx, contentID)
		d.logger.Error("submitted task could not be recorded, orphaned at indexer",
			"content_id", contentID, "task_id", taskID, "error", err)
		return fmt.Errorf("persist task %s: %w", taskID, err)
	}
	if err := d.repo.Sessions().Activate(ctx, sessionID, claimID, taskID, now); err != nil {
		// The task record alone still blocks new dispatches.
		d.logger.Warn("failed to activate session", "session_id", sessionID, "task_id", taskID, "error", err)
	}
	_, err := d.repo.Content().Update(ctx, contentID, func(c *model.Content) error {
		c.IndexingStatus = model.IndexingSubmitted
		c.RecordTask(model.TaskRef{TaskID: taskID, Status: model.TaskSubmitted, SubmittedAt: now, UpdatedAt: now})
		return nil
	})
	if err != nil {
		return fmt.Errorf("record task %s on content %s: %w", taskID, contentID, err)
	}
	return nil
}

// pendingFiles returns the content's files that are not indexed yet, in
// FileIDs order without duplicates. A file id without a record is an error.
func (d *Dispatcher) pendingFiles(ctx context.Context, content *model.Content) ([]*model.SourceFile, error) {
	stored, err := d.repo.Files().ListByContent(ctx, content.ID)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", content.ID, err)
	}
	byID := make(map[string]*model.SourceFile, len(stored))
	for _, f := range stored {
		byID[f.ID] = f
	}

	ids := content.FileIDs
	if len(ids) == 0 {
		for _, f := range stored {
			ids = append(ids, f.ID)
		}
	}

	seen := make(map[string]bool, len(ids))
	var files []*model.SourceFile
	for _, id := range ids {
		if seen[id] || content.IsIndexed(id) {
			continue
		}
		seen[id] = true
		f, ok := byID[id]
		if !ok {
			if f, err = d.repo.Files().Get(ctx, id); err != nil {
				return nil, fmt.Errorf("load file %s of %s: %w", id, content.ID, err)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

// BuildPayload builds the indexer payload for a session. Files keep their
// order; gs:// URIs become HTTPS URLs.
func BuildPayload(content *model.Content, files []*model.SourceFile) Payload {
	payload := Payload{
		SessionID: content.ID,
		FileList:  make([]model.FileRef, 0, len(files)),
	}
	for _, f := range files {
		payload.FileList = append(payload.FileList, model.FileRef{
			FileID:   f.ID,
			Filename: f.Filename,
			MIMEType: f.MIMEType,
			URL:      blob.PublicURL(f.StorageURI),
			Metadata: fileMetadata(content),
		})
	}
	return payload
}

func fileMetadata(content *model.Content) map[string]any {
	m := map[string]any{
		"content_id": content.ID,
		"title":      content.Title,
	}
	for id, v := range content.Metadata {
		switch v.Type {
		case model.FieldTypeMultiSelect:
			m[id] = content.Metadata.Strings(id)
		default:
			m[id] = v.Value
		}
	}
	return m
}

// Result is the outcome of one dispatch in DispatchAll.
type Result struct {
	ContentID string
	TaskID    string
	Err       error
}

// DispatchAll dispatches contents concurrently, bounded by the configured
// concurrency. Results are returned in input order.
func (d *Dispatcher) DispatchAll(ctx context.Context, contentIDs []string) []Result {
	results := make([]Result, len(contentIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, id := range contentIDs {
		g.Go(func() error {
			taskID, err := d.Dispatch(ctx, id)
			results[i] = Result{ContentID: id, TaskID: taskID, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

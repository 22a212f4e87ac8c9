package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository/memory"
	"github.com/bull/confrag/internal/retry"
)

type fakeChecker struct {
	mu       sync.Mutex
	statuses map[string]*RemoteStatus
	err      error
	calls    int
}

func (f *fakeChecker) Status(_ context.Context, taskID string) (*RemoteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.statuses[taskID]; ok {
		return s, nil
	}
	return nil, ErrTaskNotFound
}

func (f *fakeChecker) set(taskID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses == nil {
		f.statuses = map[string]*RemoteStatus{}
	}
	f.statuses[taskID] = &RemoteStatus{TaskID: taskID, Status: status}
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

// seedTask stores a content with two files and a submitted task for it, the
// state the dispatcher leaves behind.
func seedTask(t *testing.T, repo *memory.Memory, contentID, taskID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := repo.Content().Put(ctx, &model.Content{
		ID:             contentID,
		Title:          "Talk",
		FileIDs:        []string{"f1", "f2"},
		IndexingStatus: model.IndexingSubmitted,
		Tasks:          []model.TaskRef{{TaskID: taskID, Status: model.TaskSubmitted, SubmittedAt: now}},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Tasks().Create(ctx, &model.IndexingTask{
		TaskID:      taskID,
		SessionID:   contentID,
		FileList:    []model.FileRef{{FileID: "f1"}, {FileID: "f2"}},
		Status:      model.TaskSubmitted,
		SubmittedAt: now,
	}))
	_, err = repo.Sessions().Claim(ctx, contentID, "claim", now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Sessions().Activate(ctx, contentID, "claim", taskID, now))
}

func TestCheck_Completed(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-1", "task-1")

	checker := &fakeChecker{}
	checker.set("task-1", "completed")
	tr := New(repo, checker, Options{Retry: testPolicy()})

	status, err := tr.Check(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, status)

	content, err := repo.Content().Get(ctx, "conf-1")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingIndexed, content.IndexingStatus)
	assert.ElementsMatch(t, []string{"f1", "f2"}, content.IndexedFileIDs)
	require.Len(t, content.Tasks, 1)
	assert.Equal(t, model.TaskCompleted, content.Tasks[0].Status)

	session, err := repo.Sessions().Get(ctx, "conf-1")
	require.NoError(t, err)
	assert.Empty(t, session.ActiveTaskID)
}

func TestCheck_ErrorStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-2", "task-2")

	checker := &fakeChecker{}
	checker.set("task-2", "failed")
	tr := New(repo, checker, Options{Retry: testPolicy()})

	status, err := tr.Check(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, model.TaskError, status)

	content, err := repo.Content().Get(ctx, "conf-2")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingError, content.IndexingStatus)
	assert.Empty(t, content.IndexedFileIDs)
}

func TestCheck_FinalStatusIsSticky(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-3", "task-3")

	checker := &fakeChecker{}
	checker.set("task-3", "completed")
	tr := New(repo, checker, Options{Retry: testPolicy()})

	_, err := tr.Check(ctx, "task-3")
	require.NoError(t, err)
	calls := checker.calls

	checker.set("task-3", "error")
	status, err := tr.Check(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, status)
	assert.Equal(t, calls, checker.calls, "final task must not be queried again")
}

func TestCheck_UnrecognisedStatusBecomesUnknown(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-4", "task-4")

	checker := &fakeChecker{}
	checker.set("task-4", "paused")
	tr := New(repo, checker, Options{MaxChecks: 3, Retry: testPolicy()})

	for i := 0; i < 2; i++ {
		status, err := tr.Check(ctx, "task-4")
		require.NoError(t, err)
		assert.Equal(t, model.TaskSubmitted, status)
	}

	status, err := tr.Check(ctx, "task-4")
	assert.Equal(t, model.TaskUnknown, status)
	var unknown *TaskStatusUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "task-4", unknown.TaskID)
	assert.Equal(t, "conf-4", unknown.SessionID)
	assert.Equal(t, 3, unknown.Attempts)

	content, err := repo.Content().Get(ctx, "conf-4")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingUnknown, content.IndexingStatus)
}

type sessionSubmitter struct{}

func (sessionSubmitter) Submit(_ context.Context, payload dispatch.Payload) (*dispatch.SubmitResult, error) {
	return &dispatch.SubmitResult{TaskID: "task-" + payload.SessionID, Status: model.TaskSubmitted}, nil
}

func TestCheck_InProgressKeepsSessionBusy(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	require.NoError(t, repo.Files().Put(ctx, &model.SourceFile{
		ID: "f1", ContentID: "conf-10", Filename: "slides.pdf",
		MIMEType: "application/pdf", StorageURI: "https://cdn.example.com/slides.pdf",
	}))
	_, err := repo.Content().Put(ctx, &model.Content{ID: "conf-10", Title: "Talk", FileIDs: []string{"f1"}})
	require.NoError(t, err)

	d := dispatch.New(repo, sessionSubmitter{}, dispatch.Options{Retry: testPolicy()})
	taskID, err := d.Dispatch(ctx, "conf-10")
	require.NoError(t, err)

	checker := &fakeChecker{}
	checker.set(taskID, "processing")
	tr := New(repo, checker, Options{MaxChecks: 3, Retry: testPolicy()})

	for i := 0; i < 3; i++ {
		status, err := tr.Check(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, model.TaskSubmitted, status)
	}

	task, err := repo.Tasks().Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskSubmitted, task.Status)
	assert.Zero(t, task.Attempts)
	assert.False(t, task.LastCheckedAt.IsZero())

	_, err = d.Dispatch(ctx, "conf-10")
	var conflict *dispatch.DispatchConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, taskID, conflict.ActiveTaskID)
}

func TestCheck_InProgressPastMaxPendingBecomesUnknown(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-11", "task-11")

	checker := &fakeChecker{}
	checker.set("task-11", "running")
	tr := New(repo, checker, Options{MaxChecks: 3, MaxPending: time.Hour, Retry: testPolicy()})

	status, err := tr.Check(ctx, "task-11")
	require.NoError(t, err)
	assert.Equal(t, model.TaskSubmitted, status)

	tr.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	status, err = tr.Check(ctx, "task-11")
	assert.Equal(t, model.TaskUnknown, status)
	var unknown *TaskStatusUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.Zero(t, unknown.Attempts)

	session, err := repo.Sessions().Get(ctx, "conf-11")
	require.NoError(t, err)
	assert.Empty(t, session.ActiveTaskID)
}

func TestCheck_NotFoundBecomesUnknown(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-5", "task-5")

	checker := &fakeChecker{}
	tr := New(repo, checker, Options{MaxChecks: 10, Retry: testPolicy()})

	status, err := tr.Check(ctx, "task-5")
	assert.Equal(t, model.TaskUnknown, status)
	var unknown *TaskStatusUnknownError
	require.ErrorAs(t, err, &unknown)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	// Not found is permanent, so no retry within the check.
	assert.Equal(t, 1, checker.calls)

	content, err := repo.Content().Get(ctx, "conf-5")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingUnknown, content.IndexingStatus)
}

func TestRemoteStatus_Phase(t *testing.T) {
	cases := map[string]Phase{
		"completed":   PhaseCompleted,
		"Done":        PhaseCompleted,
		"failed":      PhaseError,
		"processing":  PhaseInProgress,
		"submitted":   PhaseInProgress,
		"IN_PROGRESS": PhaseInProgress,
		"paused":      PhaseUnrecognised,
		"":            PhaseUnrecognised,
	}
	for status, want := range cases {
		s := &RemoteStatus{Status: status}
		assert.Equal(t, want, s.Phase(), status)
	}
}

func TestCheck_TransientFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-6", "task-6")

	checker := &fakeChecker{err: &retry.HTTPStatusError{StatusCode: 502}}
	tr := New(repo, checker, Options{MaxChecks: 5, Retry: testPolicy()})

	status, err := tr.Check(ctx, "task-6")
	require.NoError(t, err)
	assert.Equal(t, model.TaskSubmitted, status)
	assert.Equal(t, 2, checker.calls)

	task, err := repo.Tasks().Get(ctx, "task-6")
	require.NoError(t, err)
	assert.Equal(t, 1, task.Attempts)
	assert.NotEmpty(t, task.Message)
}

func TestReconcile_SkipsResolvedTasks(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-7", "task-7")
	seedTask(t, repo, "conf-8", "task-8")

	log, err := OpenResultLog(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer log.Close()

	checker := &fakeChecker{}
	checker.set("task-7", "completed")
	checker.set("task-8", "completed")
	tr := New(repo, checker, Options{Retry: testPolicy(), ResultLog: log, Concurrency: 2})

	results, err := tr.Reconcile(ctx, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, model.TaskCompleted, r.Status)
		assert.False(t, r.Cached)
	}
	assert.Equal(t, 2, checker.calls)

	// A second offline run resumes from the log.
	results, err = tr.Reconcile(ctx, []string{"task-7", "task-8"})
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Cached)
		assert.Equal(t, model.TaskCompleted, r.Status)
	}
	assert.Equal(t, 2, checker.calls)
}

func TestResultLog(t *testing.T) {
	ctx := context.Background()
	log, err := OpenResultLog(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Latest(ctx, "task-1")
	require.ErrorIs(t, err, ErrNoResult)

	checked := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, log.Append(ctx, Entry{TaskID: "task-1", SessionID: "s1", Status: model.TaskSubmitted, Attempts: 1, CheckedAt: checked}))
	require.NoError(t, log.Append(ctx, Entry{TaskID: "task-1", SessionID: "s1", Status: model.TaskCompleted, Attempts: 1, CheckedAt: checked.Add(time.Minute)}))
	require.NoError(t, log.Append(ctx, Entry{TaskID: "task-2", SessionID: "s2", Status: model.TaskSubmitted, Attempts: 1}))

	latest, err := log.Latest(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, latest.Status)
	assert.True(t, latest.CheckedAt.Equal(checked.Add(time.Minute)))

	resolved, err := log.Resolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]model.TaskStatus{"task-1": model.TaskCompleted}, resolved)
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/index/task-1":
			_, _ = w.Write([]byte(`{"task_id":"task-1","status":"completed","message":"3 files"}`))
		case "/api/index/task-busy":
			http.Error(w, "busy", http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL+"/api/index/", nil)

	status, err := c.Status(context.Background(), "task-1")
	require.NoError(t, err)
	resolved, ok := status.Resolved()
	assert.True(t, ok)
	assert.Equal(t, model.TaskCompleted, resolved)
	assert.Equal(t, "3 files", status.Message)

	_, err = c.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.False(t, retry.IsTransient(err))

	_, err = c.Status(context.Background(), "task-busy")
	var statusErr *retry.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.True(t, retry.IsTransient(err))
}

func TestNewWorker_DefaultsNonPositiveInterval(t *testing.T) {
	tr := New(memory.New(), &fakeChecker{}, Options{Retry: testPolicy()})
	for _, interval := range []time.Duration{0, -time.Second} {
		w := NewWorker(tr, interval, nil)
		assert.Equal(t, DefaultPollInterval, w.interval)
	}

	w := NewWorker(tr, 0, nil)
	w.Start(context.Background())
	w.Stop()
}

func TestWorker_ReconcilesOnInterval(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedTask(t, repo, "conf-9", "task-9")

	checker := &fakeChecker{}
	checker.set("task-9", "completed")
	w := NewWorker(New(repo, checker, Options{Retry: testPolicy()}), 5*time.Millisecond, nil)
	w.Start(ctx)

	require.Eventually(t, func() bool {
		task, err := repo.Tasks().Get(ctx, "task-9")
		return err == nil && task.Status == model.TaskCompleted
	}, time.Second, 5*time.Millisecond)
	w.Stop()
}

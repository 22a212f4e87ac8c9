package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/repository/memory"
	"github.com/bull/confrag/internal/retry"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	failures int
	err      error
	delay    time.Duration
	calls    int
	payloads []Payload
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload Payload) (*SubmitResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.payloads = append(f.payloads, payload)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if call <= f.failures {
		return nil, f.err
	}
	return &SubmitResult{TaskID: "task-" + payload.SessionID, Status: model.TaskSubmitted}, nil
}

func testPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func seedContent(t *testing.T, repo *memory.Memory, id string, files ...*model.SourceFile) {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, len(files))
	for i, f := range files {
		f.ContentID = id
		require.NoError(t, repo.Files().Put(ctx, f))
		ids[i] = f.ID
	}
	_, err := repo.Content().Put(ctx, &model.Content{
		ID:    id,
		Title: "Scaling Vector Search",
		Metadata: model.Metadata{
			model.FieldTrack: model.SelectValue("ai"),
			model.FieldTags:  model.MultiSelectValue("rag", "search"),
		},
		FileIDs: ids,
	})
	require.NoError(t, err)
}

func twoFiles() []*model.SourceFile {
	return []*model.SourceFile{
		{ID: "file-slides", Filename: "slides.pptx", MIMEType: "application/vnd.openxmlformats-officedocument.presentationml.presentation", StorageURI: "gs://conf-bucket/2025/slides.pptx"},
		{ID: "file-notes", Filename: "notes.pdf", MIMEType: "application/pdf", StorageURI: "https://cdn.example.com/notes.pdf"},
	}
}

func TestDispatch_SubmitsAllFiles(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-001", twoFiles()...)

	sub := &fakeSubmitter{}
	d := New(repo, sub, Options{Retry: testPolicy(3)})

	taskID, err := d.Dispatch(ctx, "conf-2025-001")
	require.NoError(t, err)
	assert.Equal(t, "task-conf-2025-001", taskID)

	require.Len(t, sub.payloads, 1)
	payload := sub.payloads[0]
	assert.Equal(t, "conf-2025-001", payload.SessionID)
	require.Len(t, payload.FileList, 2)
	assert.Equal(t, "file-slides", payload.FileList[0].FileID)
	assert.Equal(t, "https://storage.googleapis.com/conf-bucket/2025/slides.pptx", payload.FileList[0].URL)
	assert.Equal(t, "https://cdn.example.com/notes.pdf", payload.FileList[1].URL)
	assert.Equal(t, "ai", payload.FileList[0].Metadata[model.FieldTrack])
	assert.Equal(t, []string{"rag", "search"}, payload.FileList[0].Metadata[model.FieldTags])

	task, err := repo.Tasks().Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskSubmitted, task.Status)
	assert.Equal(t, "conf-2025-001", task.SessionID)
	assert.False(t, task.SubmittedAt.IsZero())

	content, err := repo.Content().Get(ctx, "conf-2025-001")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingSubmitted, content.IndexingStatus)
	require.Len(t, content.Tasks, 1)
	assert.Equal(t, taskID, content.Tasks[0].TaskID)

	session, err := repo.Sessions().Get(ctx, "conf-2025-001")
	require.NoError(t, err)
	assert.Equal(t, taskID, session.ActiveTaskID)
}

func TestDispatch_SkipsIndexedFiles(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-002", twoFiles()...)
	_, err := repo.Content().Update(ctx, "conf-2025-002", func(c *model.Content) error {
		c.MarkIndexed("file-slides")
		return nil
	})
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	d := New(repo, sub, Options{Retry: testPolicy(1)})

	_, err = d.Dispatch(ctx, "conf-2025-002")
	require.NoError(t, err)
	require.Len(t, sub.payloads[0].FileList, 1)
	assert.Equal(t, "file-notes", sub.payloads[0].FileList[0].FileID)
}

func TestDispatch_NothingToDispatch(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-003", twoFiles()...)
	_, err := repo.Content().Update(ctx, "conf-2025-003", func(c *model.Content) error {
		c.MarkIndexed("file-slides", "file-notes")
		return nil
	})
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	d := New(repo, sub, Options{Retry: testPolicy(1)})

	_, err = d.Dispatch(ctx, "conf-2025-003")
	require.ErrorIs(t, err, ErrNothingToDispatch)
	assert.Zero(t, sub.calls)
}

func TestDispatch_ConcurrentCallsSubmitOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-001", twoFiles()...)

	sub := &fakeSubmitter{delay: 20 * time.Millisecond}
	d := New(repo, sub, Options{Retry: testPolicy(1), Concurrency: 4})

	results := d.DispatchAll(ctx, []string{"conf-2025-001", "conf-2025-001", "conf-2025-001"})
	require.Len(t, results, 3)

	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
			continue
		}
		var conflict *DispatchConflictError
		require.ErrorAs(t, r.Err, &conflict)
		assert.Equal(t, "task-conf-2025-001", conflict.ActiveTaskID)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, sub.calls)

	tasks, err := repo.Tasks().ListBySession(ctx, "conf-2025-001")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestDispatch_ConflictAcrossDispatchers(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-004", twoFiles()...)

	first := New(repo, &fakeSubmitter{}, Options{Retry: testPolicy(1)})
	second := New(repo, &fakeSubmitter{}, Options{Retry: testPolicy(1)})

	_, err := first.Dispatch(ctx, "conf-2025-004")
	require.NoError(t, err)

	_, err = second.Dispatch(ctx, "conf-2025-004")
	var conflict *DispatchConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "conf-2025-004", conflict.SessionID)
}

func TestDispatch_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-005", twoFiles()...)

	sub := &fakeSubmitter{failures: 100, err: &retry.HTTPStatusError{StatusCode: 503}}
	d := New(repo, sub, Options{Retry: testPolicy(3)})

	_, err := d.Dispatch(ctx, "conf-2025-005")
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, 3, dispatchErr.Attempts)
	assert.Equal(t, 3, sub.calls)

	content, err := repo.Content().Get(ctx, "conf-2025-005")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingError, content.IndexingStatus)

	// The failed dispatch must not leave the session locked.
	sub.failures = 0
	_, err = d.Dispatch(ctx, "conf-2025-005")
	require.NoError(t, err)
}

func TestDispatch_ClientErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	seedContent(t, repo, "conf-2025-006", twoFiles()...)

	sub := &fakeSubmitter{failures: 100, err: &retry.HTTPStatusError{StatusCode: 400, Body: "bad payload"}}
	d := New(repo, sub, Options{Retry: testPolicy(5)})

	_, err := d.Dispatch(ctx, "conf-2025-006")
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, 1, dispatchErr.Attempts)
}

func TestDispatch_MissingContent(t *testing.T) {
	d := New(memory.New(), &fakeSubmitter{}, Options{Retry: testPolicy(1)})
	_, err := d.Dispatch(context.Background(), "does-not-exist")
	require.Error(t, err)
}

func TestHTTPSubmitter(t *testing.T) {
	var received Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"idx-42","status":"submitted"}`))
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL, nil)
	result, err := s.Submit(context.Background(), Payload{
		SessionID: "conf-2025-001",
		FileList:  []model.FileRef{{FileID: "f1", URL: "https://x/y.pdf"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "idx-42", result.TaskID)
	assert.Equal(t, "conf-2025-001", received.SessionID)
	require.Len(t, received.FileList, 1)
}

func TestHTTPSubmitter_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSubmitter(srv.URL, nil).Submit(context.Background(), Payload{SessionID: "s"})
	var statusErr *retry.HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, retry.IsTransient(err))
}

func TestBuildPayload_KeepsFileOrder(t *testing.T) {
	content := &model.Content{ID: "c1", Title: "Talk"}
	files := []*model.SourceFile{
		{ID: "b", StorageURI: "file:///tmp/b.md"},
		{ID: "a", StorageURI: "gs://bucket/a.pdf"},
	}
	payload := BuildPayload(content, files)
	require.Len(t, payload.FileList, 2)
	assert.Equal(t, "b", payload.FileList[0].FileID)
	assert.Equal(t, "a", payload.FileList[1].FileID)
	assert.Equal(t, "https://storage.googleapis.com/bucket/a.pdf", payload.FileList[1].URL)
	assert.Equal(t, "c1", payload.FileList[0].Metadata["content_id"])
}

type failingTasks struct {
	repository.TaskRepository
	err error
}

func (f *failingTasks) Create(ctx context.Context, task *model.IndexingTask) error {
	if f.err != nil {
		return f.err
	}
	return f.TaskRepository.Create(ctx, task)
}

type failingTaskRepo struct {
	*memory.Memory
	tasks *failingTasks
}

func (r *failingTaskRepo) Tasks() repository.TaskRepository {
	return r.tasks
}

func TestDispatch_TaskRecordFailureFreesSession(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	seedContent(t, mem, "conf-9", twoFiles()...)
	repo := &failingTaskRepo{Memory: mem, tasks: &failingTasks{TaskRepository: mem.Tasks(), err: errors.New("disk full")}}

	sub := &fakeSubmitter{}
	d := New(repo, sub, Options{Retry: testPolicy(1)})

	taskID, err := d.Dispatch(ctx, "conf-9")
	require.Error(t, err)
	assert.Equal(t, "task-conf-9", taskID)

	content, err := mem.Content().Get(ctx, "conf-9")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingError, content.IndexingStatus)

	session, err := mem.Sessions().Get(ctx, "conf-9")
	require.NoError(t, err)
	assert.Empty(t, session.ClaimID)
	assert.Empty(t, session.ActiveTaskID)

	repo.tasks.err = nil
	taskID, err = d.Dispatch(ctx, "conf-9")
	require.NoError(t, err)
	assert.Equal(t, "task-conf-9", taskID)
	assert.Equal(t, 2, sub.calls)
}

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/retry"
)

// RemoteStatus is the indexer's view of a task.
type RemoteStatus struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Phase classifies a remote status string.
type Phase int

const (
	// PhaseUnrecognised covers status strings the indexer should not send.
	PhaseUnrecognised Phase = iota
	// PhaseInProgress means the indexer accepted the task and is still working.
	PhaseInProgress
	PhaseCompleted
	PhaseError
)

// Phase maps the remote status onto a Phase.
func (s *RemoteStatus) Phase() Phase {
	switch strings.ToLower(s.Status) {
	case "completed", "complete", "success", "done":
		return PhaseCompleted
	case "error", "failed", "failure":
		return PhaseError
	case "submitted", "queued", "pending", "processing", "running", "in_progress":
		return PhaseInProgress
	default:
		return PhaseUnrecognised
	}
}

// Resolved maps the remote status onto a final task status. ok is false
// while the indexer is still working on the task or the status is not
// recognised.
func (s *RemoteStatus) Resolved() (model.TaskStatus, bool) {
	switch s.Phase() {
	case PhaseCompleted:
		return model.TaskCompleted, true
	case PhaseError:
		return model.TaskError, true
	default:
		return "", false
	}
}

// StatusChecker asks the indexer for a task's status.
type StatusChecker interface {
	Status(ctx context.Context, taskID string) (*RemoteStatus, error)
}

// HTTPChecker queries GET {endpoint}/{task_id}.
type HTTPChecker struct {
	endpoint string
	client   *http.Client
}

func NewHTTPChecker(endpoint string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPChecker{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (c *HTTPChecker) Status(ctx context.Context, taskID string) (*RemoteStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read status response: %w", err))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var status RemoteStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	if status.TaskID == "" {
		status.TaskID = taskID
	}
	return &status, nil
}

// NoopChecker reports every task as completed. It pairs with the noop
// submitter when no indexer is configured.
type NoopChecker struct{}

func (NoopChecker) Status(_ context.Context, taskID string) (*RemoteStatus, error) {
	return &RemoteStatus{TaskID: taskID, Status: string(model.TaskCompleted)}, nil
}

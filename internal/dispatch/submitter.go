package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/retry"
)

// Payload is the body posted to the indexer endpoint.
type Payload struct {
	SessionID string          `json:"session_id"`
	FileList  []model.FileRef `json:"file_list"`
}

// SubmitResult is the indexer's acknowledgement.
type SubmitResult struct {
	TaskID string           `json:"task_id"`
	Status model.TaskStatus `json:"status,omitempty"`
}

// TaskSubmitter hands a payload to the external indexer.
type TaskSubmitter interface {
	Submit(ctx context.Context, payload Payload) (*SubmitResult, error)
}

// HTTPSubmitter posts payloads as JSON to the indexer endpoint.
type HTTPSubmitter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSubmitter creates a submitter. A nil client uses a default one.
func NewHTTPSubmitter(endpoint string, client *http.Client) *HTTPSubmitter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPSubmitter{endpoint: endpoint, client: client}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, payload Payload) (*SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to indexer: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read indexer response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	var result SubmitResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode indexer response: %w", err)
	}
	if result.TaskID == "" {
		return nil, fmt.Errorf("indexer response has no task_id")
	}
	return &result, nil
}

// NoopSubmitter logs payloads and returns generated task ids. It stands in
// for the indexer when no endpoint is configured.
type NoopSubmitter struct {
	logger *slog.Logger
}

func NewNoopSubmitter(logger *slog.Logger) *NoopSubmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSubmitter{logger: logger}
}

func (s *NoopSubmitter) Submit(ctx context.Context, payload Payload) (*SubmitResult, error) {
	taskID := uuid.NewString()
	s.logger.Info("indexer disabled, payload not sent",
		"task_id", taskID,
		"session_id", payload.SessionID,
		"files", len(payload.FileList))
	return &SubmitResult{TaskID: taskID, Status: model.TaskSubmitted}, nil
}

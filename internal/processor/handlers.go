package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/indexer"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/tracker"
)

const maxBodyBytes = 4 << 20

// ProcessRequest is the body of POST /api/process.
type ProcessRequest struct {
	ContentID   string         `json:"content_id"`
	FileID      string         `json:"file_id,omitempty"`
	GCSPath     string         `json:"gcs_path,omitempty"`
	FileURL     string         `json:"file_url,omitempty"`
	FileName    string         `json:"file_name"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ProcessResponse is the reply of POST /api/process.
type ProcessResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	ContentID string `json:"content_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload dispatch.Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload: " + err.Error()})
		return
	}
	if payload.SessionID == "" || len(payload.FileList) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id and file_list are required"})
		return
	}
	for _, f := range payload.FileList {
		if f.FileID == "" || f.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "every file needs file_id and url"})
			return
		}
	}

	taskID, err := s.enqueue(payload)
	if errors.Is(err, ErrQueueFull) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("indexing task queued",
		"task_id", taskID, "session_id", payload.SessionID, "files", len(payload.FileList))
	writeJSON(w, http.StatusAccepted, dispatch.SubmitResult{TaskID: taskID, Status: model.TaskSubmitted})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	j, ok := s.jobs.get(taskID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, tracker.RemoteStatus{TaskID: j.TaskID, Status: j.Status, Message: j.Message})
}

// handleProcess indexes one file synchronously.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ProcessResponse{Status: "error", Message: "invalid request: " + err.Error()})
		return
	}
	uri := req.GCSPath
	if uri == "" {
		uri = req.FileURL
	}
	if req.ContentID == "" || uri == "" {
		writeJSON(w, http.StatusBadRequest, ProcessResponse{
			Status: "error", Message: "content_id and gcs_path or file_url are required", ContentID: req.ContentID,
		})
		return
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(uri)).String()
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["title"]; !ok && req.FileName != "" {
		metadata["title"] = req.FileName
	}

	content, files := indexer.FromFileRefs(req.ContentID, []model.FileRef{{
		FileID:   fileID,
		Filename: req.FileName,
		MIMEType: req.ContentType,
		URL:      uri,
		Metadata: metadata,
	}})

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.JobTimeout)
	defer cancel()

	result, err := s.indexer.IndexFiles(ctx, content, files)
	if err != nil {
		s.logger.Error("process failed", "content_id", req.ContentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ProcessResponse{Status: "error", Message: err.Error(), ContentID: req.ContentID})
		return
	}
	if len(result.FailedFiles) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, ProcessResponse{
			Status: "error", Message: strings.TrimSpace(result.FailedFiles[0].Reason), ContentID: req.ContentID,
		})
		return
	}
	writeJSON(w, http.StatusOK, ProcessResponse{
		Status:    "success",
		Message:   "indexed " + req.FileName,
		ContentID: req.ContentID,
	})
}

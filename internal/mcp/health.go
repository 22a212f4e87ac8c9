package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bull/confrag/internal/service"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store"`
	Points      uint64 `json:"points"`
	Embeddings  bool   `json:"embeddings"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// HealthChecker is implemented by service.Service.
type HealthChecker interface {
	Health(ctx context.Context) service.Health
}

// NewHealthHandler creates an HTTP handler for the /health endpoint.
// An unreachable vector store yields 503.
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		h := checker.Health(ctx)
		response := HealthResponse{
			Status:      h.Status,
			VectorStore: h.VectorStore,
			Points:      h.Points,
			Embeddings:  h.Embeddings,
			Error:       h.Error,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}

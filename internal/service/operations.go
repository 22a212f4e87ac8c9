package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bull/confrag/internal/dispatch"
	"github.com/bull/confrag/internal/indexer"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/tracker"
	"github.com/bull/confrag/internal/vectorquery"
)

// FileInput describes one uploaded file of an imported content item.
type FileInput struct {
	ID       string `yaml:"id" json:"id"`
	Filename string `yaml:"filename" json:"filename"`
	MIMEType string `yaml:"mime_type" json:"mime_type"`
	URI      string `yaml:"uri" json:"uri"`
}

// ImportRequest creates or replaces a content item and its files.
type ImportRequest struct {
	ID       string         `yaml:"id" json:"id"`
	Title    string         `yaml:"title" json:"title"`
	Metadata map[string]any `yaml:"metadata" json:"metadata"`
	Files    []FileInput    `yaml:"files" json:"files"`
}

// ImportContent validates req against the metadata schema and stores it.
// Re-importing keeps the indexing history of the content.
func (s *Service) ImportContent(ctx context.Context, req ImportRequest) (*model.Content, error) {
	if req.ID == "" {
		return nil, errors.New("content id is required")
	}
	metadata, err := s.buildMetadata(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("content %s: %w", req.ID, err)
	}
	if err := s.validator.Validate(metadata); err != nil {
		return nil, fmt.Errorf("content %s: %w", req.ID, err)
	}

	fileIDs := make([]string, 0, len(req.Files))
	for i, f := range req.Files {
		if f.URI == "" {
			return nil, fmt.Errorf("content %s: file %d has no uri", req.ID, i)
		}
		id := f.ID
		if id == "" {
			id = fmt.Sprintf("%s-f%d", req.ID, i+1)
		}
		if err := s.repo.Files().Put(ctx, &model.SourceFile{
			ID:         id,
			ContentID:  req.ID,
			Filename:   f.Filename,
			MIMEType:   f.MIMEType,
			StorageURI: f.URI,
		}); err != nil {
			return nil, fmt.Errorf("store file %s: %w", id, err)
		}
		fileIDs = append(fileIDs, id)
	}

	content := &model.Content{
		ID:             req.ID,
		Title:          req.Title,
		Metadata:       metadata,
		FileIDs:        fileIDs,
		IndexingStatus: model.IndexingPending,
	}
	if existing, err := s.repo.Content().Get(ctx, req.ID); err == nil {
		content.IndexingStatus = existing.IndexingStatus
		content.IndexedFileIDs = existing.IndexedFileIDs
		content.Tasks = existing.Tasks
	}
	stored, err := s.repo.Content().Put(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("store content %s: %w", req.ID, err)
	}
	s.logger.Info("content imported", "content_id", req.ID, "files", len(fileIDs))
	return stored, nil
}

// buildMetadata types raw values using the schema. Unknown fields are
// stored as text when they are strings and dropped otherwise.
func (s *Service) buildMetadata(raw map[string]any) (model.Metadata, error) {
	out := make(model.Metadata, len(raw))
	types := make(map[string]model.FieldType)
	for _, fd := range s.cfg.Metadata.Fields {
		types[fd.ID] = fd.Type
	}
	for id, v := range raw {
		typ, known := types[id]
		if !known {
			if str, ok := v.(string); ok {
				out[id] = model.TextValue(str)
			}
			continue
		}
		switch typ {
		case model.FieldTypeMultiSelect:
			switch val := v.(type) {
			case string:
				out[id] = model.MultiSelectValue(splitList(val)...)
			case []any:
				values := make([]string, 0, len(val))
				for _, item := range val {
					str, ok := item.(string)
					if !ok {
						return nil, fmt.Errorf("field %s: %v is not a string", id, item)
					}
					values = append(values, str)
				}
				out[id] = model.MultiSelectValue(values...)
			case []string:
				out[id] = model.MultiSelectValue(val...)
			default:
				return nil, fmt.Errorf("field %s: expected a list, got %T", id, v)
			}
		case model.FieldTypeNumber:
			switch val := v.(type) {
			case int:
				out[id] = model.NumberValue(float64(val))
			case float64:
				out[id] = model.NumberValue(val)
			default:
				out[id] = model.FieldValue{Type: typ, Value: v}
			}
		case model.FieldTypeDate:
			if t, ok := v.(time.Time); ok {
				out[id] = model.DateValue(t)
			} else {
				out[id] = model.FieldValue{Type: typ, Value: v}
			}
		default:
			out[id] = model.FieldValue{Type: typ, Value: v}
		}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Extract reads one stored file and returns its chunks without embedding them.
func (s *Service) Extract(ctx context.Context, fileID string) ([]model.ContentChunk, error) {
	file, err := s.repo.Files().Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", fileID, err)
	}
	data, err := s.blobs.Read(ctx, file.StorageURI)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.StorageURI, err)
	}
	return s.registry.Extract(ctx, *file, data)
}

// Embed embeds free-form texts.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	return s.embedder.Embed(ctx, texts)
}

// EmbedChunks embeds chunks in order.
func (s *Service) EmbedChunks(ctx context.Context, chunks []model.ContentChunk) ([]model.Embedding, error) {
	if s.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	return s.embedder.EmbedChunks(ctx, chunks)
}

// Dispatch submits the pending files of one content item to the indexer.
func (s *Service) Dispatch(ctx context.Context, contentID string) (string, error) {
	return s.dispatcher.Dispatch(ctx, contentID)
}

// DispatchAll dispatches every listed content item. With no ids it
// dispatches every content that is not indexed or already submitted.
func (s *Service) DispatchAll(ctx context.Context, contentIDs []string) ([]dispatch.Result, error) {
	if len(contentIDs) == 0 {
		contents, err := s.repo.Content().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list contents: %w", err)
		}
		for _, c := range contents {
			switch c.IndexingStatus {
			case model.IndexingIndexed, model.IndexingSubmitted:
				continue
			}
			contentIDs = append(contentIDs, c.ID)
		}
	}
	return s.dispatcher.DispatchAll(ctx, contentIDs), nil
}

// Check polls the indexer once for a task.
func (s *Service) Check(ctx context.Context, taskID string) (model.TaskStatus, error) {
	return s.tracker.Check(ctx, taskID)
}

// Task returns a stored indexing task.
func (s *Service) Task(ctx context.Context, taskID string) (*model.IndexingTask, error) {
	return s.repo.Tasks().Get(ctx, taskID)
}

// Reconcile checks the given tasks, or every submitted task when ids is empty.
func (s *Service) Reconcile(ctx context.Context, taskIDs []string) ([]tracker.Result, error) {
	return s.tracker.Reconcile(ctx, taskIDs)
}

// QueryRequest is a similarity query over free text.
type QueryRequest struct {
	Text    string
	TopK    int
	Filters model.Filters
	Mode    vectorquery.Mode
}

// Query embeds the text and returns the best matching chunks.
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]model.Match, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("query text is required")
	}
	if s.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	vectors, err := s.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.RAG.TopK
	}
	return s.querier.Query(ctx, vectors[0], topK, req.Filters, req.Mode)
}

// Ask answers a question from the indexed materials.
func (s *Service) Ask(ctx context.Context, q model.RagQuery) (*model.RagResponse, error) {
	if s.answerer == nil {
		return nil, ErrEmbeddingUnavailable
	}
	return s.answerer.Ask(ctx, q)
}

// Index runs the local indexing pipeline for one content item.
func (s *Service) Index(ctx context.Context, contentID string, opts indexer.ContentOptions) (*indexer.IndexResult, error) {
	if s.embedder == nil {
		return nil, ErrEmbeddingUnavailable
	}
	return s.pipeline.IndexContent(ctx, contentID, opts)
}

// Health reports the status of the vector index.
type Health struct {
	Status      string `json:"status"`
	VectorStore string `json:"vector_store"`
	Collection  string `json:"collection,omitempty"`
	Points      uint64 `json:"points"`
	Embeddings  bool   `json:"embeddings"`
	Error       string `json:"error,omitempty"`
}

// Health checks the vector index and collection.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: "ok", VectorStore: s.cfg.VectorStore.Type, Embeddings: s.embedder != nil}
	if err := s.index.Health(ctx); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		return h
	}
	info, err := s.index.GetCollectionInfo(ctx)
	if err != nil {
		h.Status = "degraded"
		h.Error = err.Error()
		return h
	}
	if s.cfg.VectorStore.Type == "qdrant" {
		h.Collection = s.cfg.VectorStore.Collection
	}
	h.Points = info.PointsCount
	return h
}

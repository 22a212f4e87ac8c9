package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/confrag/internal/model"
)

const vectorName = "content"

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client     *qdrant.Client
	host       string
	port       int
	collection string
	dimension  int
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(ctx context.Context, host string, port int, collection string, dimension int) (*QdrantStorage, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		host:       host,
		port:       port,
		collection: collection,
		dimension:  dimension,
	}

	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return s.Health(ctx)
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
// Returns nil if Qdrant is healthy, error otherwise.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// EnsureCollection creates the chunk collection (cosine distance) and its
// payload indexes if it does not exist. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	return nil
}

// createPayloadIndexes creates indexes for all filterable fields.
// Without these indexes filtered search scans the whole collection.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		"content_id",
		"file_id",
		"track",
		"tags",
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// UpsertPoints stores chunks with their embeddings. Point ids are chunk ids,
// so re-indexing unchanged files overwrites in place.
// Points are batched in groups of 100 for performance.
func (s *QdrantStorage) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, p.Chunk.ChunkID, len(p.Vector), s.dimension)
		}
	}

	batchSize := 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))

		batch := points[i:end]
		structs := make([]*qdrant.PointStruct, len(batch))
		for j, p := range batch {
			structs[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(p.Chunk.ChunkID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(p.Vector...),
				}),
				Payload: qdrant.NewValueMap(pointPayload(p)),
			}
		}

		if err := s.upsertWithRetry(ctx, structs); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

func pointPayload(p Point) map[string]any {
	// NewValueMap handles []any but not []string.
	tags := make([]any, len(p.Tags))
	for i, tag := range p.Tags {
		tags[i] = tag
	}

	payload := map[string]any{
		"content_id": p.Chunk.ContentID,
		"file_id":    p.Chunk.FileID,
		"chunk_id":   p.Chunk.ChunkID,
		"ordinal":    p.Chunk.Ordinal,
		"title":      p.Chunk.Title,
		"text":       p.Chunk.Text,
		"file_type":  string(p.Chunk.FileType),
		"track":      p.Track,
		"tags":       tags,
	}
	if p.Chunk.SlideIndex != nil {
		payload["slide_index"] = *p.Chunk.SlideIndex
	}
	if p.Chunk.PageIndex != nil {
		payload["page_index"] = *p.Chunk.PageIndex
	}
	return payload
}

// Search performs vector similarity search. Filters are Qdrant Must
// conditions, so they restrict the candidates before ranking.
func (s *QdrantStorage) Search(ctx context.Context, embedding []float32, limit int, filters model.Filters) ([]model.Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	name := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &name,
		Filter:         buildFilter(filters),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	matches := make([]model.Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload

		match := model.Match{
			ChunkID:   result.Id.GetUuid(),
			ContentID: payload["content_id"].GetStringValue(),
			FileID:    payload["file_id"].GetStringValue(),
			Score:     float64(result.Score),
			Ordinal:   int(payload["ordinal"].GetIntegerValue()),
			Title:     payload["title"].GetStringValue(),
			Text:      payload["text"].GetStringValue(),
		}
		if v, ok := payload["slide_index"]; ok {
			match.SlideIndex = model.IntPtr(int(v.GetIntegerValue()))
		}
		if v, ok := payload["page_index"]; ok {
			match.PageIndex = model.IntPtr(int(v.GetIntegerValue()))
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func buildFilter(filters model.Filters) *qdrant.Filter {
	if filters.IsZero() {
		return nil
	}
	var must []*qdrant.Condition
	if filters.ContentID != "" {
		must = append(must, qdrant.NewMatch("content_id", filters.ContentID))
	}
	if len(filters.Tracks) > 0 {
		must = append(must, qdrant.NewMatchKeywords("track", filters.Tracks...))
	}
	if len(filters.Tags) > 0 {
		must = append(must, qdrant.NewMatchKeywords("tags", filters.Tags...))
	}
	return &qdrant.Filter{Must: must}
}

// DeleteContent removes every point of a content item.
func (s *QdrantStorage) DeleteContent(ctx context.Context, contentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("content_id", contentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete content %s: %w", contentID, err)
	}
	return nil
}

// GetCollectionInfo retrieves collection statistics including total points count.
func (s *QdrantStorage) GetCollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	collection, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return &CollectionInfo{
		PointsCount: collection.GetPointsCount(),
	}, nil
}

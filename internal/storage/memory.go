package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/vectorquery"
)

// MemoryStorage is an in-process vector index with brute-force cosine search.
type MemoryStorage struct {
	mu        sync.RWMutex
	points    map[string]Point
	dimension int
}

// NewMemoryStorage creates an empty index. dimension <= 0 accepts the
// length of the first vector stored.
func NewMemoryStorage(dimension int) *MemoryStorage {
	return &MemoryStorage{
		points:    make(map[string]Point),
		dimension: dimension,
	}
}

func (s *MemoryStorage) UpsertPoints(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if s.dimension <= 0 {
			s.dimension = len(p.Vector)
		}
		if len(p.Vector) != s.dimension {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, p.Chunk.ChunkID, len(p.Vector), s.dimension)
		}
	}
	for _, p := range points {
		s.points[p.Chunk.ChunkID] = p
	}
	return nil
}

// Search filters first, then ranks the remaining points.
func (s *MemoryStorage) Search(ctx context.Context, embedding []float32, limit int, filters model.Filters) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	matches := make([]model.Match, 0)
	for _, p := range s.points {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !p.matches(filters) {
			continue
		}
		matches = append(matches, p.toMatch(vectorquery.Cosine(embedding, p.Vector)))
	}

	vectorquery.SortMatches(matches)
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStorage) DeleteContent(_ context.Context, contentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if p.Chunk.ContentID == contentID {
			delete(s.points, id)
		}
	}
	return nil
}

func (s *MemoryStorage) Health(context.Context) error { return nil }

func (s *MemoryStorage) GetCollectionInfo(context.Context) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &CollectionInfo{PointsCount: uint64(len(s.points))}, nil
}

func (s *MemoryStorage) Close() error { return nil }

package storage

import (
	"context"

	"github.com/bull/confrag/internal/model"
)

// Index is a vector index of chunk points.
type Index interface {
	UpsertPoints(ctx context.Context, points []Point) error
	Search(ctx context.Context, embedding []float32, limit int, filters model.Filters) ([]model.Match, error)
	DeleteContent(ctx context.Context, contentID string) error
	Health(ctx context.Context) error
	GetCollectionInfo(ctx context.Context) (*CollectionInfo, error)
	Close() error
}

var (
	_ Index = (*QdrantStorage)(nil)
	_ Index = (*MemoryStorage)(nil)
)

//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/model"
)

// setupTestStorage creates a test storage instance on a fresh collection.
// Skips test if Qdrant is not running.
func setupTestStorage(t *testing.T, dimension int) *QdrantStorage {
	collection := "test_" + uuid.NewString()[:8]
	storage, err := NewQdrantStorage(context.Background(), "localhost", 6334, collection, dimension)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = storage.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")

	t.Cleanup(func() {
		_ = storage.client.DeleteCollection(context.Background(), collection)
		storage.Close()
	})
	return storage
}

func qdrantPoint(contentID string, ordinal int, track string, tags []string, vector ...float32) Point {
	return Point{
		Chunk: model.ContentChunk{
			ChunkID:    model.ChunkID(contentID, "f1", ordinal),
			ContentID:  contentID,
			FileID:     "f1",
			Ordinal:    ordinal,
			SlideIndex: model.IntPtr(ordinal),
			Title:      "Slide",
			Text:       "text",
			FileType:   model.FileTypePPTX,
		},
		Vector: vector,
		Track:  track,
		Tags:   tags,
	}
}

func TestQdrant_SearchRoundTrip(t *testing.T) {
	storage := setupTestStorage(t, 3)
	ctx := context.Background()

	err := storage.UpsertPoints(ctx, []Point{
		qdrantPoint("talk-1", 0, "cloud", []string{"k8s"}, 1, 0, 0),
		qdrantPoint("talk-1", 1, "cloud", []string{"k8s"}, 0, 1, 0),
		qdrantPoint("talk-2", 0, "ai", []string{"llm"}, 0.9, 0.1, 0),
	})
	require.NoError(t, err)

	matches, err := storage.Search(ctx, []float32{1, 0, 0}, 2, model.Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, model.ChunkID("talk-1", "f1", 0), matches[0].ChunkID)
	assert.Equal(t, "talk-1", matches[0].ContentID)
	require.NotNil(t, matches[0].SlideIndex)
	assert.Equal(t, 0, *matches[0].SlideIndex)
	assert.Nil(t, matches[0].PageIndex)
	assert.Equal(t, "Slide", matches[0].Title)
}

func TestQdrant_Filters(t *testing.T) {
	storage := setupTestStorage(t, 3)
	ctx := context.Background()

	require.NoError(t, storage.UpsertPoints(ctx, []Point{
		qdrantPoint("talk-1", 0, "cloud", []string{"k8s"}, 1, 0, 0),
		qdrantPoint("talk-2", 0, "ai", []string{"llm"}, 0, 1, 0),
	}))

	matches, err := storage.Search(ctx, []float32{1, 0, 0}, 5, model.Filters{Tracks: []string{"ai"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "talk-2", matches[0].ContentID)

	matches, err = storage.Search(ctx, []float32{1, 0, 0}, 5, model.Filters{ContentID: "talk-1", Tags: []string{"k8s"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestQdrant_DeleteContent(t *testing.T) {
	storage := setupTestStorage(t, 3)
	ctx := context.Background()

	require.NoError(t, storage.UpsertPoints(ctx, []Point{
		qdrantPoint("talk-1", 0, "", nil, 1, 0, 0),
		qdrantPoint("talk-2", 0, "", nil, 0, 1, 0),
	}))
	require.NoError(t, storage.DeleteContent(ctx, "talk-1"))

	matches, err := storage.Search(ctx, []float32{1, 0, 0}, 5, model.Filters{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "talk-2", matches[0].ContentID)
}

func TestQdrant_DimensionValidation(t *testing.T) {
	storage := setupTestStorage(t, 3)

	err := storage.UpsertPoints(context.Background(), []Point{qdrantPoint("talk-1", 0, "", nil, 1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = storage.Search(context.Background(), []float32{1}, 1, model.Filters{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

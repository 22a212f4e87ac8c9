package storage

import (
	"slices"

	"github.com/bull/confrag/internal/model"
)

// Point is a chunk with its embedding and the content metadata used for filtering.
type Point struct {
	Chunk  model.ContentChunk
	Vector []float32
	Track  string
	Tags   []string
}

// NewPoints pairs chunks with their embeddings by chunk id. Chunks without
// an embedding are skipped. Track and tags come from the content metadata.
func NewPoints(content *model.Content, chunks []model.ContentChunk, embeddings []model.Embedding) []Point {
	vectors := make(map[string][]float32, len(embeddings))
	for _, e := range embeddings {
		vectors[e.ChunkID] = e.Vector
	}

	var track string
	var tags []string
	if content != nil {
		track = content.Metadata.Text(model.FieldTrack)
		tags = content.Metadata.Strings(model.FieldTags)
	}

	points := make([]Point, 0, len(embeddings))
	for _, c := range chunks {
		v, ok := vectors[c.ChunkID]
		if !ok {
			continue
		}
		points = append(points, Point{Chunk: c, Vector: v, Track: track, Tags: tags})
	}
	return points
}

// matches reports whether p passes filters.
func (p Point) matches(filters model.Filters) bool {
	if filters.ContentID != "" && p.Chunk.ContentID != filters.ContentID {
		return false
	}
	if len(filters.Tracks) > 0 && !slices.Contains(filters.Tracks, p.Track) {
		return false
	}
	if len(filters.Tags) > 0 && !slices.ContainsFunc(p.Tags, func(tag string) bool {
		return slices.Contains(filters.Tags, tag)
	}) {
		return false
	}
	return true
}

func (p Point) toMatch(score float64) model.Match {
	return model.Match{
		ChunkID:    p.Chunk.ChunkID,
		ContentID:  p.Chunk.ContentID,
		FileID:     p.Chunk.FileID,
		Score:      score,
		Ordinal:    p.Chunk.Ordinal,
		SlideIndex: p.Chunk.SlideIndex,
		PageIndex:  p.Chunk.PageIndex,
		Title:      p.Chunk.Title,
		Text:       p.Chunk.Text,
	}
}

// DefaultCollection is the Qdrant collection for conference chunks.
const DefaultCollection = "conference_chunks"

// DefaultDimension is the embedding size for text-embedding-3-small.
const DefaultDimension = 1536

// CollectionInfo contains collection statistics
type CollectionInfo struct {
	PointsCount uint64
}

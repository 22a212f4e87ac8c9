// Package indexer runs the indexing pipeline: read each file from blob
// storage, extract chunks, embed them and upsert them into the vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bull/confrag/internal/blob"
	"github.com/bull/confrag/internal/embedding"
	"github.com/bull/confrag/internal/extract"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
	"github.com/bull/confrag/internal/storage"
)

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	ContentID       string
	TotalFiles      int
	SuccessfulFiles int
	TotalChunks     int
	FailedFiles     []FailedFile
	Duration        time.Duration
}

// IndexedFileIDs returns the ids of files that were fully indexed.
func (r *IndexResult) IndexedFileIDs(files []model.SourceFile) []string {
	var ids []string
	for _, f := range files {
		if !slices.ContainsFunc(r.FailedFiles, func(ff FailedFile) bool { return ff.FileID == f.ID }) {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// FailedFile represents a file that failed to index.
type FailedFile struct {
	FileID   string
	Filename string
	Reason   string
}

// ChunkEmbedder embeds chunks; *embedding.Embedder satisfies it.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []model.ContentChunk) ([]model.Embedding, error)
}

// Index is the vector index written to.
type Index interface {
	UpsertPoints(ctx context.Context, points []storage.Point) error
	DeleteContent(ctx context.Context, contentID string) error
}

// Pipeline orchestrates indexing from blob storage to the vector index.
type Pipeline struct {
	repo     repository.Repository
	blobs    blob.Reader
	pool     *extract.Pool
	embedder ChunkEmbedder
	index    Index
	logger   *slog.Logger
}

// NewPipeline creates a new indexing pipeline with the given components.
// repo may be nil when only IndexFiles is used.
func NewPipeline(
	repo repository.Repository,
	blobs blob.Reader,
	pool *extract.Pool,
	embedder ChunkEmbedder,
	index Index,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repo:     repo,
		blobs:    blobs,
		pool:     pool,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// ContentOptions selects what IndexContent indexes.
type ContentOptions struct {
	// FileIDs restricts indexing to these files; empty means all files.
	FileIDs []string
	// Replace deletes the content's existing points first.
	Replace bool
}

// IndexContent indexes the files of a stored content item and records the
// outcome on it: indexed when every file succeeded, error otherwise.
func (p *Pipeline) IndexContent(ctx context.Context, contentID string, opts ContentOptions) (*IndexResult, error) {
	if p.repo == nil {
		return nil, errors.New("pipeline has no repository")
	}
	content, err := p.repo.Content().Get(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("load content %s: %w", contentID, err)
	}

	stored, err := p.repo.Files().ListByContent(ctx, contentID)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", contentID, err)
	}
	files := orderFiles(content, stored, opts.FileIDs)

	if opts.Replace {
		if err := p.index.DeleteContent(ctx, contentID); err != nil {
			return nil, fmt.Errorf("delete points of %s: %w", contentID, err)
		}
	}

	result, err := p.IndexFiles(ctx, content, files)
	if err != nil {
		return nil, err
	}

	indexed := result.IndexedFileIDs(files)
	_, err = p.repo.Content().Update(context.WithoutCancel(ctx), contentID, func(c *model.Content) error {
		c.MarkIndexed(indexed...)
		if len(result.FailedFiles) == 0 {
			c.IndexingStatus = model.IndexingIndexed
		} else {
			c.IndexingStatus = model.IndexingError
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("update content %s: %w", contentID, err)
	}
	return result, nil
}

// IndexFiles reads, extracts, embeds and upserts files belonging to content.
// Per-file failures are collected in the result; only cancellation and
// index write failures return an error.
func (p *Pipeline) IndexFiles(ctx context.Context, content *model.Content, files []model.SourceFile) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{ContentID: content.ID, TotalFiles: len(files)}
	p.logger.Info("Starting indexing", "content_id", content.ID, "files", len(files))

	fail := func(f model.SourceFile, err error) {
		p.logger.Warn("Failed to index file", "content_id", content.ID, "file_id", f.ID, "error", err)
		result.FailedFiles = append(result.FailedFiles, FailedFile{FileID: f.ID, Filename: f.Filename, Reason: err.Error()})
	}

	// 1. Read blobs
	jobs := make([]extract.Job, 0, len(files))
	for _, f := range files {
		data, err := p.blobs.Read(ctx, f.StorageURI)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			fail(f, fmt.Errorf("read: %w", err))
			continue
		}
		jobs = append(jobs, extract.Job{File: f, Data: data})
	}

	// 2. Extract on the CPU pool
	extracted, err := p.pool.ExtractAll(ctx, jobs)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	var chunks []model.ContentChunk
	fileOf := make(map[string]model.SourceFile)
	for _, r := range extracted {
		if r.Err != nil {
			fail(r.File, fmt.Errorf("extract: %w", r.Err))
			continue
		}
		for _, c := range r.Chunks {
			fileOf[c.ChunkID] = r.File
		}
		chunks = append(chunks, r.Chunks...)
	}

	// 3. Embed; a partial failure fails only the files it touched
	embeddings, err := p.embedder.EmbedChunks(ctx, chunks)
	if err != nil {
		var embErr *embedding.EmbeddingError
		if !errors.As(err, &embErr) || ctx.Err() != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		failedFiles := map[string]bool{}
		for _, id := range embErr.FailedIDs {
			f := fileOf[id]
			if !failedFiles[f.ID] {
				failedFiles[f.ID] = true
				fail(f, fmt.Errorf("embeddings: %w", embErr.Err))
			}
		}
		embeddings = slices.DeleteFunc(embeddings, func(e model.Embedding) bool {
			return failedFiles[fileOf[e.ChunkID].ID]
		})
		chunks = slices.DeleteFunc(chunks, func(c model.ContentChunk) bool {
			return failedFiles[fileOf[c.ChunkID].ID]
		})
	}

	// 4. Upsert
	points := storage.NewPoints(content, chunks, embeddings)
	if err := p.index.UpsertPoints(ctx, points); err != nil {
		return nil, fmt.Errorf("store points: %w", err)
	}

	result.TotalChunks = len(points)
	result.SuccessfulFiles = result.TotalFiles - len(result.FailedFiles)
	result.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		"content_id", content.ID,
		"successful", result.SuccessfulFiles,
		"failed", len(result.FailedFiles),
		"chunks", result.TotalChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// orderFiles returns the stored files in the content's FileIDs order,
// followed by any stored file FileIDs does not list. only restricts the set.
func orderFiles(content *model.Content, stored []*model.SourceFile, only []string) []model.SourceFile {
	byID := make(map[string]*model.SourceFile, len(stored))
	for _, f := range stored {
		byID[f.ID] = f
	}

	var ids []string
	seen := map[string]bool{}
	for _, id := range append(slices.Clone(content.FileIDs), storedIDs(stored)...) {
		if seen[id] || byID[id] == nil {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, id) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	files := make([]model.SourceFile, len(ids))
	for i, id := range ids {
		files[i] = *byID[id]
	}
	return files
}

func storedIDs(files []*model.SourceFile) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

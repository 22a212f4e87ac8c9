package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/confrag/internal/blob"
	"github.com/bull/confrag/internal/embedding"
	"github.com/bull/confrag/internal/extract"
	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository/memory"
	"github.com/bull/confrag/internal/storage"
)

// fakeEmbedder returns a fixed vector per chunk and fails every chunk of
// failFile with an EmbeddingError.
type fakeEmbedder struct {
	mu       sync.Mutex
	failFile string
	chunks   int
}

func (f *fakeEmbedder) EmbedChunks(_ context.Context, chunks []model.ContentChunk) ([]model.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks += len(chunks)

	var out []model.Embedding
	var failed []string
	for _, c := range chunks {
		if c.FileID == f.failFile {
			failed = append(failed, c.ChunkID)
			continue
		}
		out = append(out, model.Embedding{ChunkID: c.ChunkID, ModelID: "fake", Vector: []float32{1, float32(c.Ordinal)}})
	}
	if len(failed) > 0 {
		return out, &embedding.EmbeddingError{Model: "fake", FailedIDs: failed, Err: assert.AnError}
	}
	return out, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type fixture struct {
	repo     *memory.Memory
	index    *storage.MemoryStorage
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	f := &fixture{
		repo:     memory.New(),
		index:    storage.NewMemoryStorage(2),
		embedder: &fakeEmbedder{},
	}
	f.pipeline = NewPipeline(f.repo, blob.NewMux(), extract.NewPool(extract.NewDefaultRegistry(), 2, nil), f.embedder, f.index, nil)

	files := []*model.SourceFile{
		{ID: "notes", ContentID: "conf-1", Filename: "notes.txt", MIMEType: "text/plain",
			StorageURI: writeFile(t, dir, "notes.txt", "page one\fpage two\fpage three")},
		{ID: "abstract", ContentID: "conf-1", Filename: "abstract.md", MIMEType: "text/markdown",
			StorageURI: writeFile(t, dir, "abstract.md", "# Abstract\n\nRetrieval at scale.\n")},
	}
	for _, file := range files {
		require.NoError(t, f.repo.Files().Put(ctx, file))
	}
	_, err := f.repo.Content().Put(ctx, &model.Content{
		ID:       "conf-1",
		Title:    "RAG at scale",
		FileIDs:  []string{"notes", "abstract"},
		Metadata: model.Metadata{model.FieldTrack: model.SelectValue("ai")},
	})
	require.NoError(t, err)
	return f
}

func TestIndexContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.pipeline.IndexContent(ctx, "conf-1", ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 2, result.SuccessfulFiles)
	assert.Empty(t, result.FailedFiles)
	assert.GreaterOrEqual(t, result.TotalChunks, 4)

	info, err := f.index.GetCollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(result.TotalChunks), info.PointsCount)

	matches, err := f.index.Search(ctx, []float32{1, 0}, 10, model.Filters{Tracks: []string{"ai"}})
	require.NoError(t, err)
	assert.Len(t, matches, result.TotalChunks)

	content, err := f.repo.Content().Get(ctx, "conf-1")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingIndexed, content.IndexingStatus)
	assert.ElementsMatch(t, []string{"notes", "abstract"}, content.IndexedFileIDs)
}

func TestIndexContent_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.pipeline.IndexContent(ctx, "conf-1", ContentOptions{})
	require.NoError(t, err)
	_, err = f.pipeline.IndexContent(ctx, "conf-1", ContentOptions{Replace: true})
	require.NoError(t, err)

	info, err := f.index.GetCollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(first.TotalChunks), info.PointsCount)
}

func TestIndexContent_PartialEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.failFile = "notes"

	result, err := f.pipeline.IndexContent(ctx, "conf-1", ContentOptions{})
	require.NoError(t, err)
	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "notes", result.FailedFiles[0].FileID)
	assert.Equal(t, 1, result.SuccessfulFiles)

	content, err := f.repo.Content().Get(ctx, "conf-1")
	require.NoError(t, err)
	assert.Equal(t, model.IndexingError, content.IndexingStatus)
	assert.Equal(t, []string{"abstract"}, content.IndexedFileIDs)
}

func TestIndexContent_UnreadableFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.repo.Files().Put(ctx, &model.SourceFile{
		ID: "missing", ContentID: "conf-1", Filename: "gone.txt", MIMEType: "text/plain",
		StorageURI: filepath.Join(t.TempDir(), "gone.txt"),
	}))

	result, err := f.pipeline.IndexContent(ctx, "conf-1", ContentOptions{FileIDs: []string{"missing", "notes"}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalFiles)
	require.Len(t, result.FailedFiles, 1)
	assert.Equal(t, "missing", result.FailedFiles[0].FileID)
	assert.Equal(t, 3, result.TotalChunks)
}

func TestFromFileRefs(t *testing.T) {
	content, files := FromFileRefs("conf-9", []model.FileRef{
		{FileID: "f1", Filename: "a.pdf", MIMEType: "application/pdf", URL: "https://x/a.pdf",
			Metadata: map[string]any{"title": "Talk", "track": "infra", "tags": []any{"k8s", "go"}}},
		{FileID: "f2", Filename: "b.pdf", URL: "https://x/b.pdf"},
	})
	assert.Equal(t, "conf-9", content.ID)
	assert.Equal(t, "Talk", content.Title)
	assert.Equal(t, "infra", content.Metadata.Text(model.FieldTrack))
	assert.Equal(t, []string{"k8s", "go"}, content.Metadata.Strings(model.FieldTags))
	require.Len(t, files, 2)
	assert.Equal(t, "https://x/b.pdf", files[1].StorageURI)
	assert.Equal(t, "conf-9", files[1].ContentID)
}

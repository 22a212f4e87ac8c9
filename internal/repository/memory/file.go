package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type fileRepository struct {
	mu    sync.RWMutex
	files map[string]*model.SourceFile
}

func newFileRepository() *fileRepository {
	return &fileRepository{
		files: make(map[string]*model.SourceFile),
	}
}

func (r *fileRepository) Get(ctx context.Context, id string) (*model.SourceFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	file, exists := r.files[id]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "file not found", goerr.V("file_id", id))
	}
	copied := *file
	return &copied, nil
}

func (r *fileRepository) Put(ctx context.Context, file *model.SourceFile) error {
	if file.ID == "" {
		return goerr.New("file id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *file
	r.files[file.ID] = &copied
	return nil
}

func (r *fileRepository) ListByContent(ctx context.Context, contentID string) ([]*model.SourceFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var files []*model.SourceFile
	for _, f := range r.files {
		if f.ContentID == contentID {
			copied := *f
			files = append(files, &copied)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

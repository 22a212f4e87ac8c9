package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type contentRepository struct {
	mu       sync.RWMutex
	contents map[string]*model.Content
}

func newContentRepository() *contentRepository {
	return &contentRepository{
		contents: make(map[string]*model.Content),
	}
}

func (r *contentRepository) Get(ctx context.Context, id string) (*model.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, exists := r.contents[id]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
	}
	return content.Copy(), nil
}

func (r *contentRepository) Put(ctx context.Context, content *model.Content) (*model.Content, error) {
	if content.ID == "" {
		return nil, goerr.New("content id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := content.Copy()
	if existing, ok := r.contents[content.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.IndexingStatus == "" {
		stored.IndexingStatus = model.IndexingPending
	}
	stored.UpdatedAt = now

	r.contents[stored.ID] = stored
	return stored.Copy(), nil
}

func (r *contentRepository) List(ctx context.Context) ([]*model.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	contents := make([]*model.Content, 0, len(r.contents))
	for _, c := range r.contents {
		contents = append(contents, c.Copy())
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].ID < contents[j].ID })
	return contents, nil
}

func (r *contentRepository) Update(ctx context.Context, id string, fn func(*model.Content) error) (*model.Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.contents[id]
	if !exists {
		return nil, goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
	}

	updated := existing.Copy()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.ID = id
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	r.contents[id] = updated
	return updated.Copy(), nil
}

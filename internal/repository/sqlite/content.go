package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

const upsertContent = `INSERT INTO contents (id, data) VALUES (?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data`

type contentRepository struct {
	db *sql.DB
}

func (r *contentRepository) Get(ctx context.Context, id string) (*model.Content, error) {
	var content model.Content
	found, err := load(ctx, r.db, &content, `SELECT data FROM contents WHERE id = ?`, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get content", goerr.V("content_id", id))
	}
	if !found {
		return nil, goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
	}
	return &content, nil
}

func (r *contentRepository) Put(ctx context.Context, content *model.Content) (*model.Content, error) {
	if content.ID == "" {
		return nil, goerr.New("content id is required")
	}

	stored := content.Copy()
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var existing model.Content
		found, err := load(ctx, tx, &existing, `SELECT data FROM contents WHERE id = ?`, content.ID)
		if err != nil {
			return err
		}
		if found {
			stored.CreatedAt = existing.CreatedAt
		} else if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.IndexingStatus == "" {
			stored.IndexingStatus = model.IndexingPending
		}
		stored.UpdatedAt = now

		data, err := encode(stored)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, upsertContent, stored.ID, data)
		return err
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to put content", goerr.V("content_id", content.ID))
	}
	return stored, nil
}

func (r *contentRepository) List(ctx context.Context) ([]*model.Content, error) {
	contents, err := loadAll[model.Content](ctx, r.db, `SELECT data FROM contents ORDER BY id`)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list contents")
	}
	if contents == nil {
		contents = []*model.Content{}
	}
	return contents, nil
}

func (r *contentRepository) Update(ctx context.Context, id string, fn func(*model.Content) error) (*model.Content, error) {
	var updated model.Content
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		found, err := load(ctx, tx, &updated, `SELECT data FROM contents WHERE id = ?`, id)
		if err != nil {
			return goerr.Wrap(err, "failed to get content", goerr.V("content_id", id))
		}
		if !found {
			return goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
		}

		createdAt := updated.CreatedAt
		if err := fn(&updated); err != nil {
			return err
		}
		updated.ID = id
		updated.CreatedAt = createdAt
		updated.UpdatedAt = time.Now().UTC()

		data, err := encode(&updated)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertContent, id, data); err != nil {
			return goerr.Wrap(err, "failed to update content", goerr.V("content_id", id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

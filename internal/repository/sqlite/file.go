package sqlite

import (
	"context"
	"database/sql"

	"github.com/m-mizutani/goerr/v2"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type fileRepository struct {
	db *sql.DB
}

func (r *fileRepository) Get(ctx context.Context, id string) (*model.SourceFile, error) {
	var file model.SourceFile
	found, err := load(ctx, r.db, &file, `SELECT data FROM files WHERE id = ?`, id)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get file", goerr.V("file_id", id))
	}
	if !found {
		return nil, goerr.Wrap(repository.ErrNotFound, "file not found", goerr.V("file_id", id))
	}
	return &file, nil
}

func (r *fileRepository) Put(ctx context.Context, file *model.SourceFile) error {
	if file.ID == "" {
		return goerr.New("file id is required")
	}

	data, err := encode(file)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO files (id, content_id, data) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET content_id = excluded.content_id, data = excluded.data`,
		file.ID, file.ContentID, data)
	if err != nil {
		return goerr.Wrap(err, "failed to put file", goerr.V("file_id", file.ID))
	}
	return nil
}

func (r *fileRepository) ListByContent(ctx context.Context, contentID string) ([]*model.SourceFile, error) {
	files, err := loadAll[model.SourceFile](ctx, r.db,
		`SELECT data FROM files WHERE content_id = ? ORDER BY id`, contentID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list files", goerr.V("content_id", contentID))
	}
	return files, nil
}

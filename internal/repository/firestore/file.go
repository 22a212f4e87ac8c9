package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type fileRepository struct {
	client     *firestore.Client
	collection string
}

func (r *fileRepository) Get(ctx context.Context, id string) (*model.SourceFile, error) {
	doc, err := r.client.Collection(r.collection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(repository.ErrNotFound, "file not found", goerr.V("file_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get file", goerr.V("file_id", id))
	}

	var file model.SourceFile
	if err := doc.DataTo(&file); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal file", goerr.V("file_id", id))
	}
	return &file, nil
}

func (r *fileRepository) Put(ctx context.Context, file *model.SourceFile) error {
	if file.ID == "" {
		return goerr.New("file id is required")
	}
	if _, err := r.client.Collection(r.collection).Doc(file.ID).Set(ctx, file); err != nil {
		return goerr.Wrap(err, "failed to put file", goerr.V("file_id", file.ID))
	}
	return nil
}

func (r *fileRepository) ListByContent(ctx context.Context, contentID string) ([]*model.SourceFile, error) {
	iter := r.client.Collection(r.collection).
		Where("ContentID", "==", contentID).
		Documents(ctx)
	defer iter.Stop()

	var files []*model.SourceFile
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate files", goerr.V("content_id", contentID))
		}

		var file model.SourceFile
		if err := doc.DataTo(&file); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal file", goerr.V("docID", doc.Ref.ID))
		}
		files = append(files, &file)
	}
	sortFiles(files)
	return files, nil
}

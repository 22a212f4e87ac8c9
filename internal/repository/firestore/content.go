package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bull/confrag/internal/model"
	"github.com/bull/confrag/internal/repository"
)

type contentRepository struct {
	client     *firestore.Client
	collection string
}

func (r *contentRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(id)
}

func (r *contentRepository) Get(ctx context.Context, id string) (*model.Content, error) {
	doc, err := r.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get content", goerr.V("content_id", id))
	}

	var content model.Content
	if err := doc.DataTo(&content); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal content", goerr.V("content_id", id))
	}
	return &content, nil
}

func (r *contentRepository) Put(ctx context.Context, content *model.Content) (*model.Content, error) {
	if content.ID == "" {
		return nil, goerr.New("content id is required")
	}

	var stored *model.Content
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.doc(content.ID)
		now := time.Now().UTC()
		stored = content.Copy()

		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			var existing model.Content
			if err := doc.DataTo(&existing); err != nil {
				return goerr.Wrap(err, "failed to unmarshal content")
			}
			stored.CreatedAt = existing.CreatedAt
		case status.Code(err) == codes.NotFound:
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
		default:
			return goerr.Wrap(err, "failed to get content")
		}
		if stored.IndexingStatus == "" {
			stored.IndexingStatus = model.IndexingPending
		}
		stored.UpdatedAt = now
		return tx.Set(ref, stored)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to put content", goerr.V("content_id", content.ID))
	}
	return stored, nil
}

func (r *contentRepository) List(ctx context.Context) ([]*model.Content, error) {
	iter := r.client.Collection(r.collection).OrderBy("ID", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var contents []*model.Content
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate contents")
		}

		var content model.Content
		if err := doc.DataTo(&content); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal content", goerr.V("docID", doc.Ref.ID))
		}
		contents = append(contents, &content)
	}
	return contents, nil
}

func (r *contentRepository) Update(ctx context.Context, id string, fn func(*model.Content) error) (*model.Content, error) {
	var updated *model.Content
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := r.doc(id)
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(repository.ErrNotFound, "content not found", goerr.V("content_id", id))
			}
			return goerr.Wrap(err, "failed to get content", goerr.V("content_id", id))
		}

		var content model.Content
		if err := doc.DataTo(&content); err != nil {
			return goerr.Wrap(err, "failed to unmarshal content", goerr.V("content_id", id))
		}
		createdAt := content.CreatedAt
		if err := fn(&content); err != nil {
			return err
		}
		content.ID = id
		content.CreatedAt = createdAt
		content.UpdatedAt = time.Now().UTC()

		updated = &content
		return tx.Set(ref, &content)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

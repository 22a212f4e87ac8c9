package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSReader reads gs://bucket/object URIs.
type GCSReader struct {
	client *storage.Client
}

// NewGCSReader creates a reader using application default credentials.
func NewGCSReader(ctx context.Context) (*GCSReader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSReader{client: client}, nil
}

func (r *GCSReader) Read(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := splitBucketPath(uri, "gs")
	if err != nil {
		return nil, err
	}

	reader, err := r.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// List lists objects whose name starts with the prefix path.
func (r *GCSReader) List(ctx context.Context, prefix string) ([]Object, error) {
	bucket, objectPrefix, err := splitBucketPath(prefix, "gs")
	if err != nil {
		return nil, err
	}

	it := r.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: objectPrefix})
	var objects []Object
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		if attrs.Name == "" || attrs.Name[len(attrs.Name)-1] == '/' {
			continue
		}
		objects = append(objects, Object{
			URI:         "gs://" + bucket + "/" + attrs.Name,
			Name:        path.Base(attrs.Name),
			ContentType: attrs.ContentType,
			Size:        attrs.Size,
		})
	}
	return objects, nil
}

func (r *GCSReader) Close() error {
	return r.client.Close()
}

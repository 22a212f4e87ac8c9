// Package blob reads source file bytes by storage URI.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when the object does not exist.
var ErrNotFound = errors.New("blob not found")

// Object describes a listed blob.
type Object struct {
	URI         string
	Name        string
	ContentType string
	Size        int64
}

// Reader reads whole objects.
type Reader interface {
	Read(ctx context.Context, uri string) ([]byte, error)
}

// Lister lists objects under a URI prefix.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Object, error)
}

// UnsupportedSchemeError is returned for URIs no backend is registered for.
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported storage scheme %q", e.Scheme)
}

// Mux routes URIs to backends by scheme. URIs without a scheme are local paths.
type Mux struct {
	readers map[string]Reader
}

// NewMux creates a mux with the local file backend registered.
func NewMux() *Mux {
	m := &Mux{readers: make(map[string]Reader)}
	m.Register("file", NewFileReader())
	return m
}

// Register sets the backend for a scheme.
func (m *Mux) Register(scheme string, r Reader) {
	m.readers[strings.ToLower(scheme)] = r
}

func (m *Mux) backend(uri string) (Reader, error) {
	scheme := Scheme(uri)
	r, ok := m.readers[scheme]
	if !ok {
		return nil, &UnsupportedSchemeError{Scheme: scheme}
	}
	return r, nil
}

func (m *Mux) Read(ctx context.Context, uri string) ([]byte, error) {
	r, err := m.backend(uri)
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, uri)
}

// List lists objects when the backend for prefix supports it.
func (m *Mux) List(ctx context.Context, prefix string) ([]Object, error) {
	r, err := m.backend(prefix)
	if err != nil {
		return nil, err
	}
	l, ok := r.(Lister)
	if !ok {
		return nil, fmt.Errorf("listing is not supported for %q", Scheme(prefix))
	}
	return l.List(ctx, prefix)
}

// Scheme returns the lower-case URI scheme, or "file" for plain paths.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	// Single-letter schemes are Windows drive letters.
	if err != nil || len(u.Scheme) <= 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// PublicURL converts a storage URI into an HTTPS URL an external indexer can
// fetch. gs:// URIs map to storage.googleapis.com; other URIs are returned as is.
func PublicURL(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "gs://"); ok {
		return "https://storage.googleapis.com/" + rest
	}
	return uri
}

// splitBucketPath parses "scheme://bucket/path" into bucket and path.
func splitBucketPath(uri, scheme string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("not a %s URI: %q", scheme, uri)
	}
	bucket, path, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", uri)
	}
	return bucket, path, nil
}

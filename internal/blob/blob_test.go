package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheme(t *testing.T) {
	assert.Equal(t, "gs", Scheme("gs://bucket/a.pdf"))
	assert.Equal(t, "github", Scheme("github://owner/repo/slides.pptx"))
	assert.Equal(t, "https", Scheme("HTTPS://example.com/a"))
	assert.Equal(t, "file", Scheme("/tmp/a.pdf"))
	assert.Equal(t, "file", Scheme("relative/a.pdf"))
	assert.Equal(t, "file", Scheme(`C:\slides\a.pptx`))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://storage.googleapis.com/conf-bucket/2025/keynote.pdf",
		PublicURL("gs://conf-bucket/2025/keynote.pdf"))
	assert.Equal(t, "https://example.com/a.pdf", PublicURL("https://example.com/a.pdf"))
}

func TestMux_FileReadAndList(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("# A"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o600))

	m := NewMux()
	data, err := m.Read(context.Background(), "file://"+filepath.ToSlash(filepath.Join(dir, "a.md")))
	require.NoError(t, err)
	assert.Equal(t, "# A", string(data))

	objects, err := m.List(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "a.md", objects[0].Name)
	assert.Equal(t, "b.txt", objects[1].Name)

	_, err = m.Read(context.Background(), filepath.Join(dir, "missing.pdf"))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMux_UnsupportedScheme(t *testing.T) {
	_, err := NewMux().Read(context.Background(), "s3://bucket/a.pdf")
	var schemeErr *UnsupportedSchemeError
	require.ErrorAs(t, err, &schemeErr)
	assert.Equal(t, "s3", schemeErr.Scheme)
}

func TestHTTPReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("slide bytes"))
	}))
	defer srv.Close()

	m := NewMux()
	m.Register("http", NewHTTPReader(srv.Client()))

	data, err := m.Read(context.Background(), srv.URL+"/deck.pptx")
	require.NoError(t, err)
	assert.Equal(t, "slide bytes", string(data))

	_, err = m.Read(context.Background(), srv.URL+"/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestParseGitHubURI(t *testing.T) {
	loc, err := parseGitHubURI("github://acme/conf-2025/slides/keynote.pptx@v1")
	require.NoError(t, err)
	assert.Equal(t, "acme", loc.owner)
	assert.Equal(t, "conf-2025", loc.repo)
	assert.Equal(t, "slides/keynote.pptx", loc.path)
	assert.Equal(t, "v1", loc.ref)
	assert.Equal(t, "github://acme/conf-2025/slides/b.pdf@v1", loc.uri("slides/b.pdf"))

	_, err = parseGitHubURI("github://acme")
	assert.Error(t, err)
}

func TestSplitBucketPath(t *testing.T) {
	bucket, path, err := splitBucketPath("gs://conf/2025/a.pdf", "gs")
	require.NoError(t, err)
	assert.Equal(t, "conf", bucket)
	assert.Equal(t, "2025/a.pdf", path)

	_, _, err = splitBucketPath("gs:///a.pdf", "gs")
	assert.Error(t, err)
}

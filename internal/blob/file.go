package blob

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileReader reads local files from file:// URIs or plain paths.
type FileReader struct{}

func NewFileReader() *FileReader {
	return &FileReader{}
}

func localPath(uri string) string {
	if strings.HasPrefix(uri, "file://") {
		if u, err := url.Parse(uri); err == nil {
			return filepath.FromSlash(u.Path)
		}
		return strings.TrimPrefix(uri, "file://")
	}
	return uri
}

func (r *FileReader) Read(ctx context.Context, uri string) ([]byte, error) {
	data, err := os.ReadFile(localPath(uri))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Join(ErrNotFound, err)
	}
	return data, err
}

// List walks a local directory recursively, skipping hidden entries.
func (r *FileReader) List(ctx context.Context, prefix string) ([]Object, error) {
	root := localPath(prefix)
	var objects []Object
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			URI:         path,
			Name:        d.Name(),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].URI < objects[j].URI })
	return objects, nil
}

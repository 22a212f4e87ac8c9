package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// GitHubReader reads files from repositories. URIs have the form
// github://owner/repo/path/to/file, with an optional @ref suffix.
type GitHubReader struct {
	client *github.Client
}

// NewGitHubReader creates a GitHub client with optional authentication and rate limiting.
// If token is set, the client will be authenticated.
// Rate limiting is automatically handled by waiting out the limit window.
func NewGitHubReader(token string) (*GitHubReader, error) {
	// Create rate limit handler with default configuration
	// This handles both primary rate limits (5000 req/hour authenticated, 60 unauthenticated)
	// and secondary rate limits (abuse detection) with automatic retry
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}

	ghClient := github.NewClient(rateLimiter)
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}

	return &GitHubReader{client: ghClient}, nil
}

type githubLocation struct {
	owner string
	repo  string
	path  string
	ref   string
}

func parseGitHubURI(uri string) (githubLocation, error) {
	rest, ok := strings.CutPrefix(uri, "github://")
	if !ok {
		return githubLocation{}, fmt.Errorf("not a github URI: %q", uri)
	}
	var loc githubLocation
	rest, loc.ref, _ = strings.Cut(rest, "@")
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return githubLocation{}, fmt.Errorf("github URI needs owner and repo: %q", uri)
	}
	loc.owner, loc.repo = parts[0], parts[1]
	if len(parts) == 3 {
		loc.path = strings.Trim(parts[2], "/")
	}
	return loc, nil
}

func (l githubLocation) uri(p string) string {
	u := fmt.Sprintf("github://%s/%s/%s", l.owner, l.repo, p)
	if l.ref != "" {
		u += "@" + l.ref
	}
	return u
}

func (l githubLocation) options() *github.RepositoryContentGetOptions {
	if l.ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: l.ref}
}

// Read downloads one file. DownloadContents handles files above the 1 MB
// limit of the contents API.
func (r *GitHubReader) Read(ctx context.Context, uri string) ([]byte, error) {
	loc, err := parseGitHubURI(uri)
	if err != nil {
		return nil, err
	}

	rc, resp, err := r.client.Repositories.DownloadContents(ctx, loc.owner, loc.repo, loc.path, loc.options())
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, errors.Join(ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to get content of %s: %w", uri, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read content of %s: %w", uri, err)
	}
	return data, nil
}

// List recursively lists all files under the directory of prefix.
func (r *GitHubReader) List(ctx context.Context, prefix string) ([]Object, error) {
	loc, err := parseGitHubURI(prefix)
	if err != nil {
		return nil, err
	}
	return r.listRecursive(ctx, loc, loc.path)
}

// listRecursive recursively traverses directories to find all files
func (r *GitHubReader) listRecursive(ctx context.Context, loc githubLocation, dir string) ([]Object, error) {
	_, dirContents, _, err := r.client.Repositories.GetContents(ctx, loc.owner, loc.repo, dir, loc.options())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", dir, err)
	}

	var objects []Object
	for _, item := range dirContents {
		if item.Type == nil || item.Name == nil || item.Path == nil {
			continue
		}

		switch *item.Type {
		case "file":
			objects = append(objects, Object{
				URI:         loc.uri(*item.Path),
				Name:        *item.Name,
				ContentType: mime.TypeByExtension(path.Ext(*item.Name)),
				Size:        int64(item.GetSize()),
			})
		case "dir":
			sub, err := r.listRecursive(ctx, loc, *item.Path)
			if err != nil {
				return nil, err
			}
			objects = append(objects, sub...)
		}
	}
	return objects, nil
}

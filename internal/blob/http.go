package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxSize bounds HTTP downloads.
const DefaultMaxSize = 200 << 20

// HTTPReader downloads http(s) URLs.
type HTTPReader struct {
	client  *http.Client
	maxSize int64
}

func NewHTTPReader(client *http.Client) *HTTPReader {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPReader{client: client, maxSize: DefaultMaxSize}
}

func (r *HTTPReader) Read(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: status %d", uri, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	if int64(len(data)) > r.maxSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", uri, r.maxSize)
	}
	return data, nil
}

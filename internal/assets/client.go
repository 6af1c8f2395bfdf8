// Package assets fetches result tables, templates and fonts from HTTP or the local filesystem.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrUnavailable wraps every fetch failure.
var ErrUnavailable = errors.New("asset unavailable")

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 32 << 20

// Fetcher loads an asset by URL or path.
type Fetcher interface {
	Fetch(ctx context.Context, source string) ([]byte, error)
}

// Client fetches http(s) sources over HTTP and anything else from disk.
type Client struct {
	HTTP *http.Client
	// MaxBytes rejects larger remote assets. Zero means DefaultMaxBytes.
	MaxBytes int64
}

// New creates a client with configurable timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// Fetch returns the asset bytes.
func (c *Client) Fetch(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrUnavailable)
	}
	if IsRemote(source) {
		return c.fetchHTTP(ctx, source)
	}
	return readFile(strings.TrimPrefix(source, "file://"))
}

func (c *Client) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %w", ErrUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnavailable, url, resp.Status)
	}

	limit := c.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUnavailable, url, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s: asset too large (over %d bytes)", ErrUnavailable, url, limit)
	}
	return body, nil
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return b, nil
}

// IsRemote reports whether source is an http(s) URL.
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

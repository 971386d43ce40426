package sample

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strumlab/strum"
)

// maxPayloadBytes caps how much of a response body is read; anything larger
// than this is not a chord sample.
const maxPayloadBytes = 32 << 20

// Fetcher retrieves a resource by URL, returning the payload and the content
// type the server declared. Implementations must honor the context.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (data []byte, contentType string, err error)
}

// HTTPFetcher fetches resources over HTTP with a bounded timeout per request.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request for %v: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %v: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, "", fmt.Errorf("%v: %w", url, strum.ErrResourceNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("%v: status %v: %w", url, resp.StatusCode, strum.ErrResourceInvalid)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading %v: %w", url, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

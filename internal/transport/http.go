package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"relsync/internal/release"
)

// DefaultTimeout bounds a single request, body included.
const DefaultTimeout = 5 * time.Minute

// HTTPTransport fetches blobs and manifests over HTTP(S).
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

var _ release.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTP transport. A nil client gets a client
// with DefaultTimeout.
func NewHTTPTransport(client *http.Client, userAgent string) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &HTTPTransport{client: client, userAgent: userAgent}
}

// Get issues a GET for url. 404 and 410 wrap release.ErrBlobNotFound; every
// other failure wraps release.ErrNetworkFailure.
func (t *HTTPTransport) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", release.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s: %s", release.ErrBlobNotFound, url, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s: %s", release.ErrNetworkFailure, url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: reading %s: %w", release.ErrNetworkFailure, url, err)
	}
	return data, nil
}

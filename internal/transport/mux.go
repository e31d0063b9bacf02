package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"relsync/internal/release"
)

// Mux dispatches to a Transport by URL scheme.
type Mux struct {
	schemes map[string]release.Transport
}

var _ release.Transport = (*Mux)(nil)

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{schemes: make(map[string]release.Transport)}
}

// NewDefault serves http, https and file URLs.
func NewDefault(client *http.Client, userAgent string) *Mux {
	h := NewHTTPTransport(client, userAgent)
	return NewMux().
		Handle("http", h).
		Handle("https", h).
		Handle("file", FileTransport{})
}

// Handle registers t for scheme and returns m.
func (m *Mux) Handle(scheme string, t release.Transport) *Mux {
	m.schemes[strings.ToLower(scheme)] = t
	return m
}

// Get forwards to the transport registered for url's scheme.
func (m *Mux) Get(ctx context.Context, url string) ([]byte, error) {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return nil, fmt.Errorf("url without scheme: %s", url)
	}
	t, ok := m.schemes[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("unsupported url scheme %q: %s", scheme, url)
	}
	return t.Get(ctx, url)
}

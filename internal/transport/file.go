package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"relsync/internal/release"
)

// FileTransport reads file:// URLs, which is how a release published by the
// filesystem store is consumed without a web server.
type FileTransport struct{}

var _ release.Transport = FileTransport{}

// Get reads the file named by rawURL.
func (FileTransport) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := filePath(rawURL)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", release.ErrBlobNotFound, rawURL)
		}
		return nil, fmt.Errorf("%w: %w", release.ErrNetworkFailure, err)
	}
	return data, nil
}

func filePath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file url: %s", rawURL)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("file url with remote host: %s", rawURL)
	}
	return filepath.FromSlash(u.Path), nil
}

// FileURL returns the file:// URL of a local directory, with a trailing
// slash so it can serve as a manifest url_prefix.
func FileURL(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs) + "/"}
	return u.String(), nil
}

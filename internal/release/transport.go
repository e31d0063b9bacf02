package release

import "context"

// Transport retrieves the bytes at a URL. Implementations return an error
// wrapping ErrBlobNotFound when the resource does not exist and
// ErrNetworkFailure for anything worth retrying.
type Transport interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

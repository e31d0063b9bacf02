package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultFetchAttempts  = 5
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithAttempts sets how many times a blob is requested before giving up.
func WithAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// WithBackoff sets the exponential backoff between attempts.
func WithBackoff(initial, ceiling time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.newBackOff = func() backoff.BackOff { return newExponential(initial, ceiling) }
	}
}

// WithBackOffPolicy replaces the backoff policy entirely.
func WithBackOffPolicy(fn func() backoff.BackOff) FetcherOption {
	return func(f *Fetcher) { f.newBackOff = fn }
}

func newExponential(initial, ceiling time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	return b
}

// Fetcher downloads compressed blobs and checks them against the manifest
// before handing them out.
type Fetcher struct {
	transport  Transport
	logger     Logger
	attempts   int
	newBackOff func() backoff.BackOff
	group      singleflight.Group
}

// NewFetcher creates a Fetcher with the default retry policy.
func NewFetcher(transport Transport, logger Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		transport: transport,
		logger:    logger,
		attempts:  DefaultFetchAttempts,
		newBackOff: func() backoff.BackOff {
			return newExponential(DefaultBackoffInitial, DefaultBackoffMax)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the download URL of id under m.
func (f *Fetcher) URL(m *Manifest, id ContentID) string {
	return m.URLPrefix + string(id) + m.URLSuffix
}

// Fetch returns the compressed bytes of entry. The bytes always hash to
// entry.CompressedHash. Failures are *FileError values wrapping
// ErrIntegrityMismatch, ErrFetchExhausted or ErrNetworkFailure, or the
// context's error.
func (f *Fetcher) Fetch(ctx context.Context, m *Manifest, entry FileEntry) ([]byte, error) {
	// Entries sharing a url and compressed hash share a transfer.
	v, err, _ := f.group.Do(f.URL(m, entry.ID)+"@"+entry.CompressedHash, func() (any, error) {
		return f.fetch(ctx, m, entry)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, &FileError{Path: entry.Path, ID: entry.ID, Err: err}
	}
	return v.([]byte), nil
}

func (f *Fetcher) fetch(ctx context.Context, m *Manifest, entry FileEntry) ([]byte, error) {
	url := f.URL(m, entry.ID)

	var (
		body    []byte
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		data, err := f.transport.Get(ctx, url)
		if err != nil {
			if errors.Is(err, ErrBlobNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			lastErr = err
			return err
		}
		if got := HashBytes(data); got != entry.CompressedHash {
			lastErr = fmt.Errorf("%w: compressed hash %s, want %s", ErrIntegrityMismatch, got, entry.CompressedHash)
			return lastErr
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("fetch attempt failed", "url", url, "attempt", attempt, "retry_in", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.attempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	switch {
	case err == nil:
		return body, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, ErrBlobNotFound):
		return nil, fmt.Errorf("%w: %s: %w", ErrNetworkFailure, url, err)
	case errors.Is(lastErr, ErrIntegrityMismatch):
		f.logger.Error("blob failed verification", "url", url, "attempts", attempt)
		return nil, fmt.Errorf("%w after %d attempts", lastErr, attempt)
	default:
		return nil, fmt.Errorf("%w after %d attempts: %s: %w", ErrFetchExhausted, attempt, url, err)
	}
}

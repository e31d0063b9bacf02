package release

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Use errors.Is against these to classify any error returned by
// the packer, fetcher or updater.
var (
	ErrIOFailure         = errors.New("io failure")
	ErrNetworkFailure    = errors.New("network failure")
	ErrFetchExhausted    = fmt.Errorf("fetch exhausted: %w", ErrNetworkFailure)
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrCorruptBlob       = fmt.Errorf("corrupt blob: %w", ErrIntegrityMismatch)
	ErrManifestInvalid   = errors.New("manifest invalid")

	// ErrBlobNotFound is returned by stores and transports for an unknown id.
	// The fetcher does not retry it.
	ErrBlobNotFound = errors.New("blob not found")
)

// kinds is ordered most specific first.
var kinds = []error{
	ErrManifestInvalid,
	ErrCorruptBlob,
	ErrIntegrityMismatch,
	ErrFetchExhausted,
	ErrNetworkFailure,
	ErrIOFailure,
}

// KindOf returns the most specific error kind err wraps, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// FileError is a failure tied to one manifest entry.
type FileError struct {
	Path string
	ID   ContentID
	Err  error
}

func newFileError(entry FileEntry, kind error, format string, args ...any) *FileError {
	return &FileError{
		Path: entry.Path,
		ID:   entry.ID,
		Err:  fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...)),
	}
}

func (e *FileError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Path, e.ID, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Kind returns the error kind of the failure.
func (e *FileError) Kind() error { return KindOf(e.Err) }

// ApplyError aggregates every per-file failure of one Apply call.
type ApplyError struct {
	Failures []*FileError
}

func (e *ApplyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "apply failed for %d file(s)", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		b.WriteString(f.Error())
	}
	return b.String()
}

func (e *ApplyError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Paths returns the failed paths in failure order.
func (e *ApplyError) Paths() []string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return paths
}

package release

import "context"

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Size int64
	Hash string // sha256 hex of the stored (compressed) bytes
}

// Store is a content-addressed blob store plus a namespace for published
// manifests. Blobs are write-once: an id already present is never rewritten.
type Store interface {
	// PutBlob stores data under id. It reports whether bytes were written;
	// storing an id that already exists is a no-op returning false.
	PutBlob(ctx context.Context, id ContentID, data []byte) (written bool, err error)

	// GetBlob returns the stored bytes or an error wrapping ErrBlobNotFound.
	GetBlob(ctx context.Context, id ContentID) ([]byte, error)

	// StatBlob returns nil and no error when id is not stored.
	StatBlob(ctx context.Context, id ContentID) (*BlobInfo, error)

	// PutManifest stores (or replaces) a serialized manifest under name.
	PutManifest(ctx context.Context, name string, data []byte) error

	// GetManifest returns a serialized manifest or an error wrapping
	// ErrBlobNotFound.
	GetManifest(ctx context.Context, name string) ([]byte, error)

	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

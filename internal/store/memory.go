package store

import (
	"context"
	"fmt"
	"sync"

	"relsync/internal/release"
)

// MemoryStore keeps blobs and manifests in memory. It is safe for concurrent
// use and counts blob writes so tests can check that repacking is a no-op.
type MemoryStore struct {
	mu        sync.RWMutex
	blobs     map[release.ContentID][]byte
	manifests map[string][]byte
	writes    int
}

var _ release.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs:     make(map[release.ContentID][]byte),
		manifests: make(map[string][]byte),
	}
}

// PutBlob stores data under id unless id is already present.
func (m *MemoryStore) PutBlob(_ context.Context, id release.ContentID, data []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[id]; ok {
		return false, nil
	}
	m.blobs[id] = append([]byte(nil), data...)
	m.writes++
	return true, nil
}

// GetBlob returns a copy of the blob stored under id.
func (m *MemoryStore) GetBlob(_ context.Context, id release.ContentID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", release.ErrBlobNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

// StatBlob describes the blob stored under id, or returns nil.
func (m *MemoryStore) StatBlob(_ context.Context, id release.ContentID) (*release.BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[id]
	if !ok {
		return nil, nil
	}
	return &release.BlobInfo{Size: int64(len(data)), Hash: release.HashBytes(data)}, nil
}

// PutManifest stores or replaces a manifest.
func (m *MemoryStore) PutManifest(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.manifests[name] = append([]byte(nil), data...)
	return nil
}

// GetManifest returns the manifest stored under name.
func (m *MemoryStore) GetManifest(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.manifests[name]
	if !ok {
		return nil, fmt.Errorf("%w: manifest %s", release.ErrBlobNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(context.Context) error {
	return nil
}

// Writes returns how many blobs have been written.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// IDs returns the stored blob ids.
func (m *MemoryStore) IDs() []release.ContentID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]release.ContentID, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	return ids
}

package testutil

import (
	"fmt"
	"sort"
	"sync"

	"relsync/internal/release"
)

// MockFilesystemManager is an in-memory build tree for the packer. Every
// root sees the same files.
type MockFilesystemManager struct {
	mu       sync.Mutex
	files    map[string][]byte
	readErrs map[string]error
}

// NewMockFilesystemManager creates an empty tree.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files:    make(map[string][]byte),
		readErrs: make(map[string]error),
	}
}

// AddFile adds or replaces the file at relPath.
func (m *MockFilesystemManager) AddFile(relPath string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[relPath] = content
}

// FailRead makes every read of relPath return err.
func (m *MockFilesystemManager) FailRead(relPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs[relPath] = err
}

func (m *MockFilesystemManager) FindFiles(string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MockFilesystemManager) ReadFile(_, relPath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErrs[relPath]; err != nil {
		return nil, err
	}
	data, ok := m.files[relPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", relPath)
	}
	return append([]byte(nil), data...), nil
}

// Compile-time check
var _ release.FilesystemManager = (*MockFilesystemManager)(nil)

package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"relsync/internal/release"
)

// MemoryArea is an in-memory install area. Directories are implied by file
// paths, so placing "a/b" fails while "a" is a file, as on disk.
type MemoryArea struct {
	mu         sync.Mutex
	files      map[string][]byte
	placeErrs  map[string]error
	places     map[string]int
	opens      int
	closeCalls int
}

// NewMemoryArea creates an empty area.
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{
		files:     make(map[string][]byte),
		placeErrs: make(map[string]error),
		places:    make(map[string]int),
	}
}

// Factory returns a factory that always opens this area.
func (a *MemoryArea) Factory() release.InstallAreaFactory {
	return func(string) (release.InstallArea, error) {
		a.mu.Lock()
		a.opens++
		a.mu.Unlock()
		return a, nil
	}
}

// WriteFile sets relPath directly, bypassing Place accounting.
func (a *MemoryArea) WriteFile(relPath string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[relPath] = append([]byte(nil), data...)
}

// File returns the content at relPath.
func (a *MemoryArea) File(relPath string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[relPath]
	return data, ok
}

// Paths returns every file path, sorted.
func (a *MemoryArea) Paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	paths := make([]string, 0, len(a.files))
	for p := range a.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FailPlace makes Place of relPath return err until cleared with a nil err.
func (a *MemoryArea) FailPlace(relPath string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.placeErrs, relPath)
		return
	}
	a.placeErrs[relPath] = err
}

// Places returns how often relPath was successfully placed.
func (a *MemoryArea) Places(relPath string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.places[relPath]
}

// TotalPlaces returns the number of successful Place calls.
func (a *MemoryArea) TotalPlaces() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.places {
		n += c
	}
	return n
}

// Closed reports whether every opened handle was closed.
func (a *MemoryArea) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens == a.closeCalls
}

func (a *MemoryArea) Stat(relPath string) (fs.FileInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if data, ok := a.files[relPath]; ok {
		return memInfo{name: path.Base(relPath), size: int64(len(data))}, nil
	}
	if a.isDirLocked(relPath) {
		return memInfo{name: path.Base(relPath), dir: true}, nil
	}
	return nil, fs.ErrNotExist
}

func (a *MemoryArea) Open(relPath string) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.files[relPath]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (a *MemoryArea) Place(relPath string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.placeErrs[relPath]; err != nil {
		return err
	}
	if a.isDirLocked(relPath) {
		return fmt.Errorf("place %s: is a directory", relPath)
	}
	for dir := path.Dir(relPath); dir != "."; dir = path.Dir(dir) {
		if _, ok := a.files[dir]; ok {
			return fmt.Errorf("place %s: %s is a file", relPath, dir)
		}
	}
	a.files[relPath] = append([]byte(nil), data...)
	a.places[relPath]++
	return nil
}

func (a *MemoryArea) Remove(relPath string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, relPath)
	return nil
}

func (a *MemoryArea) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCalls++
	return nil
}

func (a *MemoryArea) isDirLocked(relPath string) bool {
	prefix := relPath + "/"
	for p := range a.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// ErrInjected is a convenience error for fault injection.
var ErrInjected = errors.New("injected failure")

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0755
	}
	return 0644
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

var _ release.InstallArea = (*MemoryArea)(nil)

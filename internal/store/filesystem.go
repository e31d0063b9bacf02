package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"relsync/internal/release"
)

// FileSystemStore lays a release out the way a static file server publishes
// it:
//
//	<root>/
//	  file/
//	    <content id>   (compressed blobs)
//	  manifest/
//	    manifest_<version>_<arch>_<type>.json
type FileSystemStore struct {
	root        string
	fileDir     string
	manifestDir string
}

var _ release.Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem store rooted at root.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	fileDir := filepath.Join(root, "file")
	manifestDir := filepath.Join(root, "manifest")

	if err := os.MkdirAll(fileDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file directory: %w", err)
	}
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create manifest directory: %w", err)
	}

	return &FileSystemStore{
		root:        root,
		fileDir:     fileDir,
		manifestDir: manifestDir,
	}, nil
}

// Root returns the directory the store publishes from.
func (s *FileSystemStore) Root() string { return s.root }

func (s *FileSystemStore) blobPath(id release.ContentID) (string, error) {
	if _, err := release.ParseID(string(id)); err != nil {
		return "", err
	}
	return filepath.Join(s.fileDir, string(id)), nil
}

// PutBlob stores data under id. An existing blob is never replaced.
func (s *FileSystemStore) PutBlob(_ context.Context, id release.ContentID, data []byte) (bool, error) {
	destPath, err := s.blobPath(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(destPath); err == nil {
		return false, nil
	}
	return s.writeFile(destPath, data, false)
}

// GetBlob returns the blob stored under id.
func (s *FileSystemStore) GetBlob(_ context.Context, id release.ContentID) ([]byte, error) {
	srcPath, err := s.blobPath(id)
	if err != nil {
		return nil, err
	}
	return readFile(srcPath, string(id))
}

// StatBlob hashes the stored blob, or returns nil when id is absent.
func (s *FileSystemStore) StatBlob(_ context.Context, id release.ContentID) (*release.BlobInfo, error) {
	srcPath, err := s.blobPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	hash, size, err := release.HashReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to hash blob: %w", err)
	}
	return &release.BlobInfo{Size: size, Hash: hash}, nil
}

// PutManifest stores or replaces a manifest.
func (s *FileSystemStore) PutManifest(_ context.Context, name string, data []byte) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid manifest name: %q", name)
	}
	_, err := s.writeFile(filepath.Join(s.manifestDir, name), data, true)
	return err
}

// GetManifest returns the manifest stored under name.
func (s *FileSystemStore) GetManifest(_ context.Context, name string) ([]byte, error) {
	if name != filepath.Base(name) {
		return nil, fmt.Errorf("invalid manifest name: %q", name)
	}
	return readFile(filepath.Join(s.manifestDir, name), "manifest "+name)
}

// ValidateSetup verifies that the store directories are accessible.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	for _, dir := range []string{s.root, s.fileDir, s.manifestDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("store directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("store path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFile writes data to a temp file in the destination directory and
// moves it into place. Without replace, an existing destination wins and
// false is returned.
func (s *FileSystemStore) writeFile(destPath string, data []byte, replace bool) (bool, error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return false, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return false, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return false, fmt.Errorf("failed to close temp file: %w", err)
	}

	if !replace {
		// A hard link fails instead of clobbering a concurrent writer.
		err := os.Link(tmpPath, destPath)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, os.ErrExist):
			return false, nil
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return false, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return true, nil
}

func readFile(path, what string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", release.ErrBlobNotFound, what)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

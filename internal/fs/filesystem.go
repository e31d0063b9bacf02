package fs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"relsync/internal/release"
)

// OSFilesystemManager reads build trees from the real filesystem.
type OSFilesystemManager struct {
	ignore []string
}

var _ release.FilesystemManager = (*OSFilesystemManager)(nil)

// NewOSFilesystemManager creates a filesystem manager. ignore holds extra
// patterns applied on top of the tree's own .relignore.
func NewOSFilesystemManager(ignore []string) *OSFilesystemManager {
	return &OSFilesystemManager{ignore: ignore}
}

// FindFiles walks root and returns the sorted, slash-separated relative
// paths of its regular files. Symlinks, devices, pipes and sockets are
// rejected rather than silently dropped.
func (m *OSFilesystemManager) FindFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", root)
	}

	fromFile, err := ParseIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	matcher := NewIgnoreMatcher(append(fromFile, m.ignore...))

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		mode := d.Type()
		switch {
		case mode.IsRegular():
		case mode&os.ModeSymlink != 0:
			return fmt.Errorf("symlinks not supported: %s", p)
		case mode&os.ModeDevice != 0:
			return fmt.Errorf("device files not supported: %s", p)
		case mode&os.ModeNamedPipe != 0:
			return fmt.Errorf("named pipes not supported: %s", p)
		case mode&os.ModeSocket != 0:
			return fmt.Errorf("sockets not supported: %s", p)
		default:
			return fmt.Errorf("unsupported file type: %s", p)
		}

		if err := release.ValidatePath(rel); err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// ReadFile returns the contents of relPath under root.
func (m *OSFilesystemManager) ReadFile(root, relPath string) ([]byte, error) {
	if err := release.ValidatePath(relPath); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}
	return data, nil
}

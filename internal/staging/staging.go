package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"relsync/internal/release"
)

// DirName is the staging directory created inside every install root. The
// packer never picks it up as release content.
const DirName = ".relsync-staging"

const (
	tempPattern   = "place-*"
	renameRetries = 5
	renameBackoff = 50 * time.Millisecond
)

// Area is a filesystem install area. New content is written to a temp file
// under <root>/.relsync-staging, synced, then renamed onto its final path,
// so a reader of the install root only ever sees complete files.
//
// Directory structure:
//
//	<install_root>/
//	  .relsync-staging/
//	    place-<random>   (in-flight writes, swept on open and close)
//	  <manifest paths>
type Area struct {
	root       string
	stagingDir string
	backOff    func() backoff.BackOff
}

var _ release.InstallArea = (*Area)(nil)

// Open prepares installRoot for an apply. It creates the root when missing
// and removes staging files left behind by an interrupted run.
func Open(installRoot string) (*Area, error) {
	root, err := filepath.Abs(installRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving install root: %w", err)
	}
	stagingDir := filepath.Join(root, DirName)
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	a := &Area{
		root:       root,
		stagingDir: stagingDir,
		backOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(renameBackoff), renameRetries)
		},
	}
	if err := a.sweep(); err != nil {
		return nil, err
	}
	return a, nil
}

// Factory returns an InstallAreaFactory that opens filesystem areas.
func Factory() release.InstallAreaFactory {
	return func(installRoot string) (release.InstallArea, error) {
		a, err := Open(installRoot)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

// Root returns the absolute install root.
func (a *Area) Root() string { return a.root }

func (a *Area) path(relPath string) (string, error) {
	if err := release.ValidatePath(relPath); err != nil {
		return "", err
	}
	return filepath.Join(a.root, filepath.FromSlash(relPath)), nil
}

// Stat returns file info for relPath. A path whose parent is a regular file
// reports fs.ErrNotExist.
func (a *Area) Stat(relPath string) (fs.FileInfo, error) {
	full, err := a.path(relPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, syscall.ENOTDIR) {
		return nil, &fs.PathError{Op: "stat", Path: full, Err: fs.ErrNotExist}
	}
	return info, err
}

// Open opens relPath for reading.
func (a *Area) Open(relPath string) (io.ReadCloser, error) {
	full, err := a.path(relPath)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Place writes data to a staging file and renames it onto relPath,
// creating parent directories as needed.
func (a *Area) Place(relPath string, data []byte) error {
	dest, err := a.path(relPath)
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(a.stagingDir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write staging file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	return a.rename(tmpPath, dest)
}

// rename retries briefly while the destination is busy, as it is when a
// running executable is being replaced.
func (a *Area) rename(src, dest string) error {
	op := func() error {
		err := os.Rename(src, dest)
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, a.backOff()); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// Remove deletes relPath and then any parent directories it leaves empty,
// stopping at the install root. A missing file is not an error.
func (a *Area) Remove(relPath string) error {
	full, err := a.path(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("failed to remove %s: %w", relPath, err)
	}

	for dir := filepath.Dir(full); dir != a.root && len(dir) > len(a.root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(dir); err != nil {
			break
		}
	}
	return nil
}

// Close removes leftover staging files and the staging directory itself.
func (a *Area) Close() error {
	if err := a.sweep(); err != nil {
		return err
	}
	if err := os.Remove(a.stagingDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

func (a *Area) sweep() error {
	entries, err := os.ReadDir(a.stagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.stagingDir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove stale staging file: %w", err)
		}
	}
	return nil
}

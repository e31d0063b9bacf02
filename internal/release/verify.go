package release

import (
	"context"
	"errors"
	"io/fs"
)

// FileState is the on-disk condition of a manifest entry.
type FileState string

const (
	StateOK       FileState = "ok"
	StateMissing  FileState = "missing"
	StateModified FileState = "modified"
)

// FileStatus pairs a manifest path with its state.
type FileStatus struct {
	Path  string
	State FileState
}

// Verify hashes every file of m under area and reports its state, in
// manifest path order.
func Verify(ctx context.Context, area InstallArea, m *Manifest) ([]FileStatus, error) {
	files := append([]FileEntry(nil), m.Files...)
	sorted := &Manifest{Files: files}
	sorted.SortFiles()

	statuses := make([]FileStatus, 0, len(files))
	for _, f := range sorted.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state, err := entryState(area, f.Path, f)
		if err != nil {
			return nil, &FileError{Path: f.Path, ID: f.ID, Err: err}
		}
		statuses = append(statuses, FileStatus{Path: f.Path, State: state})
	}
	return statuses, nil
}

// entryState compares relPath on disk against entry. Unreadable files are
// an error; anything readable that differs is modified.
func entryState(area InstallArea, relPath string, entry FileEntry) (FileState, error) {
	info, err := area.Stat(relPath)
	if errors.Is(err, fs.ErrNotExist) {
		return StateMissing, nil
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() || info.Size() != entry.Size {
		return StateModified, nil
	}

	f, err := area.Open(relPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hash, _, err := HashReader(f)
	if err != nil {
		return "", err
	}
	if hash != entry.Hash {
		return StateModified, nil
	}
	return StateOK, nil
}

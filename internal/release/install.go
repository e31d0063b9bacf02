package release

import (
	"io"
	"io/fs"
)

// InstallArea is the mutable view of one install root used by a single
// Apply call. Paths are manifest paths, relative and slash-separated.
type InstallArea interface {
	Stat(relPath string) (fs.FileInfo, error)
	Open(relPath string) (io.ReadCloser, error)

	// Place writes data to a staging file and renames it over relPath. The
	// rename is the only mutation visible at relPath.
	Place(relPath string, data []byte) error

	// Remove deletes relPath. A missing file is not an error.
	Remove(relPath string) error

	// Close discards leftover staging files.
	Close() error
}

// InstallAreaFactory opens the install area rooted at installRoot.
type InstallAreaFactory func(installRoot string) (InstallArea, error)

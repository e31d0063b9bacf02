package release

// FilesystemManager reads build trees for the packer.
type FilesystemManager interface {
	// FindFiles returns the slash-separated relative paths of every regular
	// file under root that is not ignored, sorted.
	FindFiles(root string) ([]string, error)

	// ReadFile returns the contents of relPath under root.
	ReadFile(root, relPath string) ([]byte, error)
}

package release

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// FileEntry is one file of a release.
type FileEntry struct {
	Path           string    `json:"path"`
	ID             ContentID `json:"id"`
	Size           int64     `json:"size"`
	CompressedSize int64     `json:"compressed_size"`
	Hash           string    `json:"hash"`
	CompressedHash string    `json:"compressed_hash"`
}

// Manifest describes one release. The totals are derived from Files; call
// RecomputeTotals after changing Files and Validate before trusting one that
// came from elsewhere.
type Manifest struct {
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	InstallType  string `json:"install_type"`

	// DiffVersion is set on incremental manifests: Files then holds only the
	// entries that changed since DiffVersion and DeleteFiles the paths that
	// went away.
	DiffVersion string `json:"diff_version,omitempty"`

	URLPrefix string `json:"url_prefix"`
	URLSuffix string `json:"url_suffix,omitempty"`

	Files       []FileEntry `json:"files"`
	DeleteFiles []string    `json:"delete_files,omitempty"`

	FileCount      int   `json:"file_count"`
	Size           int64 `json:"size"`
	CompressedSize int64 `json:"compressed_size"`
}

// FileName returns the deterministic manifest name for a release.
func FileName(version, architecture, installType string) string {
	return strings.ToLower(fmt.Sprintf("manifest_%s_%s_%s.json", version, architecture, installType))
}

// IncrementalFileName returns the name of the manifest that moves a client
// from diffVersion to version.
func IncrementalFileName(version, diffVersion, architecture, installType string) string {
	return strings.ToLower(fmt.Sprintf("manifest_%s_%s_%s_from_%s.json", version, architecture, installType, diffVersion))
}

// FileName returns the name this manifest is published under.
func (m *Manifest) FileName() string {
	if m.IsIncremental() {
		return IncrementalFileName(m.Version, m.DiffVersion, m.Architecture, m.InstallType)
	}
	return FileName(m.Version, m.Architecture, m.InstallType)
}

// IsIncremental reports whether m only lists changes against DiffVersion.
func (m *Manifest) IsIncremental() bool {
	return m.DiffVersion != ""
}

// RecomputeTotals sets FileCount, Size and CompressedSize from Files.
func (m *Manifest) RecomputeTotals() {
	m.FileCount, m.Size, m.CompressedSize = totals(m.Files)
}

func totals(files []FileEntry) (count int, size, compressed int64) {
	for _, f := range files {
		size += f.Size
		compressed += f.CompressedSize
	}
	return len(files), size, compressed
}

// SortFiles orders Files by path.
func (m *Manifest) SortFiles() {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

// Lookup returns the entry at p.
func (m *Manifest) Lookup(p string) (FileEntry, bool) {
	for _, f := range m.Files {
		if f.Path == p {
			return f, true
		}
	}
	return FileEntry{}, false
}

// Validate checks the manifest's structure. Every violation wraps
// ErrManifestInvalid.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", ErrManifestInvalid)
	}
	if m.Version == "" {
		return fmt.Errorf("%w: missing version", ErrManifestInvalid)
	}

	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if err := ValidatePath(f.Path); err != nil {
			return fmt.Errorf("%w: %v", ErrManifestInvalid, err)
		}
		if seen[f.Path] {
			return fmt.Errorf("%w: duplicate path %q", ErrManifestInvalid, f.Path)
		}
		seen[f.Path] = true

		if _, err := ParseID(string(f.ID)); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrManifestInvalid, f.Path, err)
		}
		if f.Hash != f.ID.Hash() {
			return fmt.Errorf("%w: %s: hash does not match id", ErrManifestInvalid, f.Path)
		}
		if !ValidHash(f.CompressedHash) {
			return fmt.Errorf("%w: %s: bad compressed hash %q", ErrManifestInvalid, f.Path, f.CompressedHash)
		}
		if f.Size < 0 || f.CompressedSize < 0 {
			return fmt.Errorf("%w: %s: negative size", ErrManifestInvalid, f.Path)
		}
	}

	// A path cannot be a file and the parent directory of another file.
	for _, f := range m.Files {
		for dir := path.Dir(f.Path); dir != "."; dir = path.Dir(dir) {
			if seen[dir] {
				return fmt.Errorf("%w: %q is a file and the parent of %q", ErrManifestInvalid, dir, f.Path)
			}
		}
	}

	for _, p := range m.DeleteFiles {
		if err := ValidatePath(p); err != nil {
			return fmt.Errorf("%w: delete_files: %v", ErrManifestInvalid, err)
		}
		if seen[p] {
			return fmt.Errorf("%w: %q both listed and deleted", ErrManifestInvalid, p)
		}
	}
	if len(m.DeleteFiles) > 0 && !m.IsIncremental() {
		return fmt.Errorf("%w: delete_files on a full manifest", ErrManifestInvalid)
	}

	count, size, compressed := totals(m.Files)
	if m.FileCount != count {
		return fmt.Errorf("%w: file_count is %d, files has %d", ErrManifestInvalid, m.FileCount, count)
	}
	if m.Size != size {
		return fmt.Errorf("%w: size is %d, files sum to %d", ErrManifestInvalid, m.Size, size)
	}
	if m.CompressedSize != compressed {
		return fmt.Errorf("%w: compressed_size is %d, files sum to %d", ErrManifestInvalid, m.CompressedSize, compressed)
	}
	return nil
}

// ValidatePath checks that p is a clean, relative, slash-separated path
// that stays inside the install root.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("empty path")
	case p == ".":
		return fmt.Errorf("path %q: names the root", p)
	case strings.Contains(p, "\\"):
		return fmt.Errorf("path %q: backslash separator", p)
	case path.IsAbs(p) || (len(p) > 1 && p[1] == ':'):
		return fmt.Errorf("path %q: absolute", p)
	case path.Clean(p) != p:
		return fmt.Errorf("path %q: not clean", p)
	case p == ".." || strings.HasPrefix(p, "../"):
		return fmt.Errorf("path %q: escapes root", p)
	}
	return nil
}

// Encode writes m as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return nil
}

// DecodeManifest reads a manifest from r. The result is not validated.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrManifestInvalid, err)
	}
	return &m, nil
}

// Incremental returns a manifest holding only what a client at base needs to
// reach target. The result must be expanded with Expand before it is applied.
func Incremental(base, target *Manifest) *Manifest {
	cs := Diff(base, target)
	inc := *target
	inc.DiffVersion = base.Version
	inc.Files = cs.ToFetch
	inc.DeleteFiles = cs.ToRemove
	inc.RecomputeTotals()
	return &inc
}

// Expand rebuilds the full manifest an incremental manifest describes on top
// of installed.
func Expand(installed, inc *Manifest) (*Manifest, error) {
	if !inc.IsIncremental() {
		return inc, nil
	}
	if installed == nil {
		return nil, fmt.Errorf("%w: incremental manifest from %s needs an installed release", ErrManifestInvalid, inc.DiffVersion)
	}
	if installed.Version != inc.DiffVersion {
		return nil, fmt.Errorf("%w: incremental manifest is based on %s, installed is %s", ErrManifestInvalid, inc.DiffVersion, installed.Version)
	}

	files := make(map[string]FileEntry, len(installed.Files)+len(inc.Files))
	for _, f := range installed.Files {
		files[f.Path] = f
	}
	for _, p := range inc.DeleteFiles {
		delete(files, p)
	}
	for _, f := range inc.Files {
		files[f.Path] = f
	}

	full := *inc
	full.DiffVersion = ""
	full.DeleteFiles = nil
	full.Files = make([]FileEntry, 0, len(files))
	for _, f := range files {
		full.Files = append(full.Files, f)
	}
	full.SortFiles()
	full.RecomputeTotals()
	return &full, nil
}

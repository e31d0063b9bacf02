package release

import "sort"

// ChangeSet is the work needed to move an install from one manifest to
// another. Both lists are sorted by path.
type ChangeSet struct {
	ToFetch  []FileEntry
	ToRemove []string
}

// Diff compares an installed manifest (nil for a first install) against a
// target. Only paths recorded in installed are ever scheduled for removal.
func Diff(installed, target *Manifest) ChangeSet {
	var cs ChangeSet

	current := make(map[string]ContentID)
	if installed != nil {
		for _, f := range installed.Files {
			current[f.Path] = f.ID
		}
	}

	wanted := make(map[string]bool, len(target.Files))
	for _, f := range target.Files {
		wanted[f.Path] = true
		if id, ok := current[f.Path]; ok && id == f.ID {
			continue
		}
		cs.ToFetch = append(cs.ToFetch, f)
	}

	if installed != nil {
		for _, f := range installed.Files {
			if !wanted[f.Path] {
				cs.ToRemove = append(cs.ToRemove, f.Path)
			}
		}
	}

	sort.Slice(cs.ToFetch, func(i, j int) bool { return cs.ToFetch[i].Path < cs.ToFetch[j].Path })
	sort.Strings(cs.ToRemove)
	return cs
}

// Empty reports whether there is nothing to do.
func (cs ChangeSet) Empty() bool {
	return len(cs.ToFetch) == 0 && len(cs.ToRemove) == 0
}

// FetchSize returns the compressed bytes the change set transfers.
func (cs ChangeSet) FetchSize() int64 {
	var n int64
	for _, f := range cs.ToFetch {
		n += f.CompressedSize
	}
	return n
}

// ApplySize returns the uncompressed bytes the change set writes.
func (cs ChangeSet) ApplySize() int64 {
	var n int64
	for _, f := range cs.ToFetch {
		n += f.Size
	}
	return n
}

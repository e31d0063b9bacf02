package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"

	"relsync/internal/staging"
)

// IgnoreFileName is read from the root of a build tree. Each line is a
// pattern; blank lines and lines starting with '#' are skipped.
const IgnoreFileName = ".relignore"

// defaultIgnorePatterns never become release content.
var defaultIgnorePatterns = []string{IgnoreFileName, staging.DirName + "/"}

type ignorePattern struct {
	glob      string
	matchPath bool // match the whole relative path instead of the basename
	dirOnly   bool // trailing '/': only matches directories
}

// IgnoreMatcher decides which paths of a build tree are left out of a
// release. Patterns without '/' match a basename at any depth; patterns
// containing '/' match the slash-separated path from the tree root; a
// trailing '/' restricts a pattern to directories, whose whole subtree is
// then skipped.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher compiles raw patterns together with the defaults.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range append(append([]string(nil), defaultIgnorePatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		p := ignorePattern{}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimRight(raw, "/")
		}
		raw = strings.TrimPrefix(raw, "/")
		if raw == "" {
			continue
		}
		p.glob = raw
		p.matchPath = strings.Contains(raw, "/")
		m.patterns = append(m.patterns, p)
	}
	return m
}

// Match reports whether relPath (slash-separated, relative to the tree
// root) is ignored. isDir says whether relPath names a directory.
func (m *IgnoreMatcher) Match(relPath string, isDir bool) bool {
	if relPath == "" || relPath == "." {
		return false
	}
	base := path.Base(relPath)

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		subject := base
		if p.matchPath {
			subject = relPath
		}
		// Malformed patterns never match.
		if ok, err := path.Match(p.glob, subject); err == nil && ok {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads raw pattern lines from path. A missing file yields
// no patterns and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}

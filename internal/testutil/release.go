package testutil

import (
	"context"
	"testing"

	"relsync/internal/codec"
	"relsync/internal/release"
	"relsync/internal/store"
)

// TestURLPrefix is the url_prefix of releases built by PackRelease.
const TestURLPrefix = "https://releases.test/file/"

// PackRelease packs files as version into st with the default zstd codec and
// returns the full manifest.
func PackRelease(t *testing.T, st *store.MemoryStore, version string, files map[string]string) *release.Manifest {
	t.Helper()

	fsmgr := NewMockFilesystemManager()
	for p, content := range files {
		fsmgr.AddFile(p, []byte(content))
	}
	c, err := codec.NewZstd(0)
	if err != nil {
		t.Fatalf("creating codec: %v", err)
	}
	p := release.NewPacker(fsmgr, c, st, release.NewNopLogger(), 2)
	m, _, err := p.Pack(context.Background(), "/build", release.PackOptions{
		Version:      version,
		Architecture: "x64",
		InstallType:  "portable",
		URLPrefix:    TestURLPrefix,
	})
	if err != nil {
		t.Fatalf("packing %s: %v", version, err)
	}
	return m
}

// ServeRelease packs files and serves the resulting blobs from a new
// FakeTransport.
func ServeRelease(t *testing.T, version string, files map[string]string) (*release.Manifest, *FakeTransport) {
	t.Helper()

	st := store.NewMemoryStore()
	m := PackRelease(t, st, version, files)
	ft := NewFakeTransport()
	if err := ft.ServeStore(context.Background(), st, TestURLPrefix); err != nil {
		t.Fatalf("serving store: %v", err)
	}
	return m, ft
}

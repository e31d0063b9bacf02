package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"relsync/internal/release"
)

func TestNewFileSystemStore(t *testing.T) {
	t.Run("creates directory structure", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "release")

		s, err := NewFileSystemStore(root)
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}

		for _, dir := range []string{"file", "manifest"} {
			if _, err := os.Stat(filepath.Join(root, dir)); err != nil {
				t.Errorf("%s directory not created: %v", dir, err)
			}
		}
		if s.Root() != root {
			t.Errorf("Root() = %q, want %q", s.Root(), root)
		}
	})

	t.Run("works with existing directory", func(t *testing.T) {
		if _, err := NewFileSystemStore(t.TempDir()); err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
	})
}

func TestFileSystemStore(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	exerciseStore(t, s)
}

func TestFileSystemStore_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	ctx := context.Background()

	id := release.ComputeID([]byte("payload"))
	if _, err := s.PutBlob(ctx, id, []byte("z")); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	name := release.FileName("2.0.0", "x64", "portable")
	if err := s.PutManifest(ctx, name, []byte("{}")); err != nil {
		t.Fatalf("PutManifest() error = %v", err)
	}

	for _, p := range []string{
		filepath.Join(root, "file", string(id)),
		filepath.Join(root, "manifest", name),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(root, "file"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("file/ has %d entries, want 1 (temp files left behind?)", len(entries))
	}
}

func TestFileSystemStore_ExistingBlobUntouched(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	ctx := context.Background()

	id := release.ComputeID([]byte("payload"))
	if _, err := s.PutBlob(ctx, id, []byte("z")); err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}

	blobPath := filepath.Join(root, "file", string(id))
	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(blobPath, past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	written, err := s.PutBlob(ctx, id, []byte("z"))
	if err != nil {
		t.Fatalf("PutBlob() error = %v", err)
	}
	if written {
		t.Error("PutBlob() written = true for existing blob")
	}

	info, err := os.Stat(blobPath)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.ModTime().Equal(past) {
		t.Errorf("blob modified: mtime = %v, want %v", info.ModTime(), past)
	}
}

func TestFileSystemStore_RejectsBadNames(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "blob id with path separator",
			call: func() error {
				_, err := s.PutBlob(ctx, release.ContentID("../escape"), []byte("x"))
				return err
			},
		},
		{
			name: "manifest name with directory",
			call: func() error { return s.PutManifest(ctx, "../manifest.json", []byte("{}")) },
		},
		{
			name: "get manifest with directory",
			call: func() error {
				_, err := s.GetManifest(ctx, "sub/manifest.json")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

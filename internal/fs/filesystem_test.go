package fs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOSFilesystemManager_FindFiles(t *testing.T) {
	tests := []struct {
		name   string
		files  map[string]string
		ignore []string
		want   []string
	}{
		{
			name:  "sorted slash paths",
			files: map[string]string{"b.txt": "b", "a/z.bin": "z", "a/b/c.dat": "c"},
			want:  []string{"a/b/c.dat", "a/z.bin", "b.txt"},
		},
		{
			name:  "relignore file applies",
			files: map[string]string{".relignore": "*.pdb\ntmp/\n", "app.exe": "x", "app.pdb": "p", "tmp/scratch": "s"},
			want:  []string{"app.exe"},
		},
		{
			name:   "config patterns apply",
			files:  map[string]string{"app.exe": "x", "debug.log": "l"},
			ignore: []string{"*.log"},
			want:   []string{"app.exe"},
		},
		{
			name:  "staging directory skipped",
			files: map[string]string{"app.exe": "x", ".relsync-staging/place-1": "junk"},
			want:  []string{"app.exe"},
		},
		{
			name:  "empty tree",
			files: map[string]string{},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, tt.files)

			got, err := NewOSFilesystemManager(tt.ignore).FindFiles(root)
			if err != nil {
				t.Fatalf("FindFiles() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindFiles() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOSFilesystemManager_FindFilesErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := NewOSFilesystemManager(nil).FindFiles(filepath.Join(t.TempDir(), "nope"))
		if err == nil {
			t.Error("expected error for missing root")
		}
	})

	t.Run("root is a file", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(f, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewOSFilesystemManager(nil).FindFiles(f); err == nil {
			t.Error("expected error for file root")
		}
	})

	t.Run("symlink rejected", func(t *testing.T) {
		root := t.TempDir()
		writeTree(t, root, map[string]string{"real.txt": "r"})
		if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		if _, err := NewOSFilesystemManager(nil).FindFiles(root); err == nil {
			t.Error("expected error for symlink")
		}
	})
}

func TestOSFilesystemManager_ReadFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"dir/file.txt": "hello"})
	m := NewOSFilesystemManager(nil)

	got, err := m.ReadFile(root, "dir/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("ReadFile() = %q, want %q", got, "hello")
	}

	if _, err := m.ReadFile(root, "../escape"); err == nil {
		t.Error("expected error for escaping path")
	}
}

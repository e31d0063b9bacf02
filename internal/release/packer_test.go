package release_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"relsync/internal/codec"
	"relsync/internal/release"
	"relsync/internal/store"
	"relsync/internal/testutil"
)

func newPacker(t *testing.T, fsmgr release.FilesystemManager, st release.Store) *release.Packer {
	t.Helper()
	c, err := codec.NewZstd(0)
	if err != nil {
		t.Fatalf("NewZstd() error = %v", err)
	}
	return release.NewPacker(fsmgr, c, st, release.NewNopLogger(), 4)
}

var packOpts = release.PackOptions{
	Version:      "1.0",
	Architecture: "x64",
	InstallType:  "portable",
	URLPrefix:    testutil.TestURLPrefix,
}

func TestPacker_Pack(t *testing.T) {
	t.Run("builds a valid manifest and stores every blob", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("bin/app", bytes.Repeat([]byte("x"), 4096))
		fsmgr.AddFile("readme.txt", []byte("hello"))
		fsmgr.AddFile("empty", nil)
		st := store.NewMemoryStore()

		m, stats, err := newPacker(t, fsmgr, st).Pack(context.Background(), "/build", packOpts)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		if err := m.Validate(); err != nil {
			t.Fatalf("packed manifest invalid: %v", err)
		}
		if m.FileCount != 3 || stats.Written != 3 {
			t.Errorf("FileCount = %d, Written = %d, want 3 and 3", m.FileCount, stats.Written)
		}
		if m.Files[0].Path != "bin/app" || m.Files[2].Path != "readme.txt" {
			t.Errorf("files not sorted: %v", paths(m.Files))
		}

		app := m.Files[0]
		if app.CompressedSize >= app.Size {
			t.Errorf("compressed %d >= size %d for repetitive data", app.CompressedSize, app.Size)
		}
		stored, err := st.GetBlob(context.Background(), app.ID)
		if err != nil {
			t.Fatalf("GetBlob() error = %v", err)
		}
		if release.HashBytes(stored) != app.CompressedHash || int64(len(stored)) != app.CompressedSize {
			t.Error("stored blob does not match compressed hash and size")
		}
	})

	t.Run("repacking writes nothing and yields the same manifest", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("a", []byte("alpha"))
		fsmgr.AddFile("b", []byte("beta"))
		st := store.NewMemoryStore()
		p := newPacker(t, fsmgr, st)

		first, _, err := p.Pack(context.Background(), "/build", packOpts)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		writes := st.Writes()

		second, stats, err := p.Pack(context.Background(), "/build", packOpts)
		if err != nil {
			t.Fatalf("second Pack() error = %v", err)
		}
		if stats.Written != 0 || stats.Reused != 2 {
			t.Errorf("second Pack() stats = %+v, want 0 written 2 reused", stats)
		}
		if st.Writes() != writes {
			t.Errorf("store writes = %d, want %d", st.Writes(), writes)
		}
		for i := range first.Files {
			if first.Files[i] != second.Files[i] {
				t.Errorf("entry %d changed: %+v vs %+v", i, first.Files[i], second.Files[i])
			}
		}
	})

	t.Run("identical files share one blob", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("one/lib.dll", []byte("shared"))
		fsmgr.AddFile("two/lib.dll", []byte("shared"))
		st := store.NewMemoryStore()

		m, stats, err := newPacker(t, fsmgr, st).Pack(context.Background(), "/build", packOpts)
		if err != nil {
			t.Fatalf("Pack() error = %v", err)
		}
		if m.Files[0].ID != m.Files[1].ID {
			t.Error("identical content got different ids")
		}
		if stats.Written != 1 || len(st.IDs()) != 1 {
			t.Errorf("Written = %d, stored ids = %d, want 1 and 1", stats.Written, len(st.IDs()))
		}
	})

	t.Run("read failure is an io failure naming the path", func(t *testing.T) {
		fsmgr := testutil.NewMockFilesystemManager()
		fsmgr.AddFile("ok", []byte("fine"))
		fsmgr.AddFile("bad", []byte("unreadable"))
		fsmgr.FailRead("bad", testutil.ErrInjected)

		_, _, err := newPacker(t, fsmgr, store.NewMemoryStore()).Pack(context.Background(), "/build", packOpts)
		var fe *release.FileError
		if !errors.As(err, &fe) || fe.Path != "bad" {
			t.Fatalf("Pack() error = %v, want FileError for bad", err)
		}
		if !errors.Is(err, release.ErrIOFailure) {
			t.Errorf("Pack() error kind = %v, want ErrIOFailure", release.KindOf(err))
		}
	})

	t.Run("requires a version", func(t *testing.T) {
		opts := packOpts
		opts.Version = ""
		_, _, err := newPacker(t, testutil.NewMockFilesystemManager(), store.NewMemoryStore()).Pack(context.Background(), "/build", opts)
		if err == nil {
			t.Fatal("Pack() without version succeeded")
		}
	})
}

func TestPacker_Publish(t *testing.T) {
	st := store.NewMemoryStore()
	fsmgr := testutil.NewMockFilesystemManager()
	fsmgr.AddFile("a", []byte("alpha"))
	p := newPacker(t, fsmgr, st)

	m, _, err := p.Pack(context.Background(), "/build", packOpts)
	if err != nil {
		t.Fatalf("Pack() error = %v", err)
	}
	name, err := p.Publish(context.Background(), m)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if name != "manifest_1.0_x64_portable.json" {
		t.Errorf("Publish() name = %q", name)
	}

	data, err := st.GetManifest(context.Background(), name)
	if err != nil {
		t.Fatalf("GetManifest() error = %v", err)
	}
	got, err := release.DecodeManifest(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeManifest() error = %v", err)
	}
	if got.Version != "1.0" || got.FileCount != 1 {
		t.Errorf("published manifest = %+v", got)
	}

	m.FileCount = 7
	if _, err := p.Publish(context.Background(), m); !errors.Is(err, release.ErrManifestInvalid) {
		t.Errorf("Publish(invalid) error = %v, want ErrManifestInvalid", err)
	}
}

package store

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"relsync/internal/release"
)

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, s release.Store) {
	t.Helper()
	ctx := context.Background()

	data := []byte("compressed bytes")
	id := release.ComputeID([]byte("original bytes"))

	t.Run("stat missing blob", func(t *testing.T) {
		info, err := s.StatBlob(ctx, id)
		if err != nil {
			t.Fatalf("StatBlob() error = %v", err)
		}
		if info != nil {
			t.Errorf("StatBlob() = %+v, want nil", info)
		}
	})

	t.Run("get missing blob", func(t *testing.T) {
		_, err := s.GetBlob(ctx, id)
		if !errors.Is(err, release.ErrBlobNotFound) {
			t.Errorf("GetBlob() error = %v, want ErrBlobNotFound", err)
		}
	})

	t.Run("put then get", func(t *testing.T) {
		written, err := s.PutBlob(ctx, id, data)
		if err != nil {
			t.Fatalf("PutBlob() error = %v", err)
		}
		if !written {
			t.Errorf("PutBlob() written = false, want true")
		}

		got, err := s.GetBlob(ctx, id)
		if err != nil {
			t.Fatalf("GetBlob() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("GetBlob() = %q, want %q", got, data)
		}
	})

	t.Run("second put is a no-op", func(t *testing.T) {
		written, err := s.PutBlob(ctx, id, []byte("different bytes"))
		if err != nil {
			t.Fatalf("PutBlob() error = %v", err)
		}
		if written {
			t.Errorf("PutBlob() written = true, want false")
		}

		got, err := s.GetBlob(ctx, id)
		if err != nil {
			t.Fatalf("GetBlob() error = %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("GetBlob() = %q, want original %q", got, data)
		}
	})

	t.Run("stat stored blob", func(t *testing.T) {
		info, err := s.StatBlob(ctx, id)
		if err != nil {
			t.Fatalf("StatBlob() error = %v", err)
		}
		if info == nil {
			t.Fatal("StatBlob() = nil, want info")
		}
		if info.Size != int64(len(data)) {
			t.Errorf("Size = %d, want %d", info.Size, len(data))
		}
		if info.Hash != release.HashBytes(data) {
			t.Errorf("Hash = %q, want %q", info.Hash, release.HashBytes(data))
		}
	})

	t.Run("manifests are replaceable", func(t *testing.T) {
		name := release.FileName("1.0.0", "x64", "portable")
		if err := s.PutManifest(ctx, name, []byte(`{"version":"1"}`)); err != nil {
			t.Fatalf("PutManifest() error = %v", err)
		}
		if err := s.PutManifest(ctx, name, []byte(`{"version":"2"}`)); err != nil {
			t.Fatalf("PutManifest() error = %v", err)
		}

		got, err := s.GetManifest(ctx, name)
		if err != nil {
			t.Fatalf("GetManifest() error = %v", err)
		}
		if string(got) != `{"version":"2"}` {
			t.Errorf("GetManifest() = %s", got)
		}

		if _, err := s.GetManifest(ctx, "manifest_missing.json"); !errors.Is(err, release.ErrBlobNotFound) {
			t.Errorf("GetManifest(missing) error = %v, want ErrBlobNotFound", err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := s.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

package release_test

import (
	"strings"
	"testing"

	"relsync/internal/release"
)

func TestComputeID(t *testing.T) {
	t.Run("is deterministic and splits into fingerprint and hash", func(t *testing.T) {
		data := []byte("hello world")
		id := release.ComputeID(data)
		if id != release.ComputeID(data) {
			t.Fatal("ComputeID() not deterministic")
		}
		if len(id.Fingerprint()) != 16 {
			t.Errorf("Fingerprint() = %q, want 16 hex chars", id.Fingerprint())
		}
		// sha256("hello world")
		want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
		if id.Hash() != want {
			t.Errorf("Hash() = %q, want %q", id.Hash(), want)
		}
		if id.String() != id.Fingerprint()+"_"+id.Hash() {
			t.Errorf("String() = %q", id.String())
		}
	})

	t.Run("differs for different content", func(t *testing.T) {
		if release.ComputeID([]byte("a")) == release.ComputeID([]byte("b")) {
			t.Error("distinct content produced the same id")
		}
	})

	t.Run("empty content has an id", func(t *testing.T) {
		id := release.ComputeID(nil)
		if _, err := release.ParseID(string(id)); err != nil {
			t.Errorf("ParseID(empty id) error = %v", err)
		}
	})
}

func TestParseID(t *testing.T) {
	valid := string(release.ComputeID([]byte("content")))
	fp, hash, _ := strings.Cut(valid, "_")

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: valid},
		{name: "missing separator", input: fp + hash, wantErr: true},
		{name: "short fingerprint", input: fp[:8] + "_" + hash, wantErr: true},
		{name: "uppercase fingerprint", input: strings.ToUpper(fp) + "_" + hash, wantErr: true},
		{name: "short hash", input: fp + "_" + hash[:10], wantErr: true},
		{name: "path traversal", input: "../../etc/passwd", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := release.ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestHashReader(t *testing.T) {
	data := []byte(strings.Repeat("relsync", 1000))
	hash, n, err := release.HashReader(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("HashReader() error = %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("HashReader() n = %d, want %d", n, len(data))
	}
	if hash != release.HashBytes(data) {
		t.Errorf("HashReader() = %s, want %s", hash, release.HashBytes(data))
	}
	if !release.ValidHash(hash) {
		t.Errorf("ValidHash(%s) = false", hash)
	}
}

package encryption

import (
	"bytes"
	"fmt"
	"io"

	"relsync/internal/release"
)

// sealMarker prefixes data sealed by TestEncryptor.
var sealMarker = []byte("RELSEAL\x00")

// TestEncryptor is a deterministic stand-in for AgeEncryptor: sealing
// prepends a fixed marker and opening strips it. Sealed bytes always differ
// from their input, so compressed hashes change exactly as with real keys.
type TestEncryptor struct {
	passphrase string
}

var _ release.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a TestEncryptor that unlocks with any passphrase
// until Setup records one.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(sealMarker); err != nil {
		return fmt.Errorf("writing seal marker: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (release.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("wrong passphrase")
	}
	return TestDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the marker added by TestEncryptor.
type TestDecryptionContext struct{}

var _ release.DecryptionContext = TestDecryptionContext{}

func (TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	marker := make([]byte, len(sealMarker))
	if _, err := io.ReadFull(r, marker); err != nil {
		return fmt.Errorf("reading seal marker: %w", err)
	}
	if !bytes.Equal(marker, sealMarker) {
		return fmt.Errorf("invalid seal marker")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

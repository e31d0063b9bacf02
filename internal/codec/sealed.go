package codec

import (
	"bytes"
	"errors"
	"fmt"

	"relsync/internal/release"
)

// ErrLocked is returned when a sealed blob is opened without an unlocked key.
var ErrLocked = errors.New("sealed codec: private key not unlocked")

// Sealed compresses with an inner codec and then encrypts the result, so the
// published blobs are only readable by holders of the private key. The
// compressed hash in a manifest covers the sealed bytes.
type Sealed struct {
	inner release.Codec
	enc   release.Encryptor
	dec   release.DecryptionContext
}

var _ release.Codec = (*Sealed)(nil)

// NewSealed wraps inner. dec may be nil on machines that only pack.
func NewSealed(inner release.Codec, enc release.Encryptor, dec release.DecryptionContext) *Sealed {
	return &Sealed{inner: inner, enc: enc, dec: dec}
}

func (s *Sealed) Name() string { return "sealed+" + s.inner.Name() }

// Close closes the inner codec when it holds resources.
func (s *Sealed) Close() error {
	return Close(s.inner)
}

func (s *Sealed) Compress(data []byte) ([]byte, error) {
	compressed, err := s.inner.Compress(data)
	if err != nil {
		return nil, err
	}
	if s.enc == nil {
		return nil, fmt.Errorf("sealed codec: no encryptor configured")
	}
	var buf bytes.Buffer
	if err := s.enc.Encrypt(bytes.NewReader(compressed), &buf); err != nil {
		return nil, fmt.Errorf("sealing blob: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Sealed) Decompress(data []byte) ([]byte, error) {
	if s.dec == nil {
		return nil, ErrLocked
	}
	var buf bytes.Buffer
	if err := s.dec.Decrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, fmt.Errorf("opening sealed blob: %w", err)
	}
	return s.inner.Decompress(buf.Bytes())
}

package release

import (
	_ "crypto/sha256" // registers sha256 for go-digest
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/xxh3"
)

// ContentID identifies a file by its uncompressed bytes:
//
//	<xxh3-64 hex>_<sha256 hex>
//
// The fingerprint half is a cheap pre-filter for store lookups. Identity is
// decided by the sha256 half. Changing either algorithm changes every
// identifier ever issued.
type ContentID string

const fingerprintLen = 16

// ComputeID returns the ContentID of data.
func ComputeID(data []byte) ContentID {
	return ContentID(fmt.Sprintf("%016x_%s", xxh3.Hash(data), HashBytes(data)))
}

// HashBytes returns the lowercase sha256 hex digest of data.
func HashBytes(data []byte) string {
	return digest.SHA256.FromBytes(data).Encoded()
}

// HashReader streams r through sha256 and returns the hex digest and the
// number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	d := digest.SHA256.Digester()
	n, err := io.Copy(d.Hash(), r)
	if err != nil {
		return "", n, err
	}
	return d.Digest().Encoded(), n, nil
}

// ValidHash reports whether s is a well-formed lowercase sha256 hex digest.
func ValidHash(s string) bool {
	return digest.NewDigestFromEncoded(digest.SHA256, s).Validate() == nil
}

// ParseID validates s and returns it as a ContentID.
func ParseID(s string) (ContentID, error) {
	fp, hash, ok := strings.Cut(s, "_")
	if !ok {
		return "", fmt.Errorf("content id %q: missing separator", s)
	}
	if len(fp) != fingerprintLen || strings.Trim(fp, "0123456789abcdef") != "" {
		return "", fmt.Errorf("content id %q: bad fingerprint", s)
	}
	if !ValidHash(hash) {
		return "", fmt.Errorf("content id %q: bad hash", s)
	}
	return ContentID(s), nil
}

// Fingerprint returns the fast fingerprint half of the id.
func (id ContentID) Fingerprint() string {
	fp, _, _ := strings.Cut(string(id), "_")
	return fp
}

// Hash returns the sha256 half of the id.
func (id ContentID) Hash() string {
	_, hash, _ := strings.Cut(string(id), "_")
	return hash
}

func (id ContentID) String() string { return string(id) }

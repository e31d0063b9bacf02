package release

import "io"

// Encryptor seals blobs to a public key and unlocks the private key for
// opening them. Sealing needs no passphrase; opening does.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and the
	// private key encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt seals data read from r and writes the ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for the lifetime of one
// command. The key is never written back to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

package release

// Codec compresses blobs. The compression level is fixed when the codec is
// built: blobs are compressed once at release time and fetched many times.
type Codec interface {
	// Name identifies the codec in logs and configuration.
	Name() string

	Compress(data []byte) ([]byte, error)

	// Decompress fails on a malformed stream. Callers report that failure as
	// ErrCorruptBlob.
	Decompress(data []byte) ([]byte, error)
}

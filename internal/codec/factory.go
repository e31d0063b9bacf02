package codec

import (
	"fmt"
	"io"

	"relsync/internal/config"
	"relsync/internal/release"
)

// NewCodecFromConfig creates the configured codec. enc and dec are only used
// when the codec is sealed; dec may be nil when nothing will be opened.
func NewCodecFromConfig(cfg config.CodecConfig, enc release.Encryptor, dec release.DecryptionContext) (release.Codec, error) {
	var (
		c   release.Codec
		err error
	)
	switch cfg.Type {
	case "zstd", "":
		c, err = NewZstd(cfg.Level)
	case "lz4":
		level := cfg.Level
		if level == 0 {
			level = DefaultLZ4Level
		}
		c, err = NewLZ4(level)
	default:
		return nil, fmt.Errorf("unknown codec type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Sealed {
		return NewSealed(c, enc, dec), nil
	}
	return c, nil
}

// Close releases c's resources if it has any.
func Close(c release.Codec) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

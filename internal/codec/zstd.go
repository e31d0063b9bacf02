package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"relsync/internal/release"
)

// DefaultZstdLevel is the zstd level blobs are packed with. Packing happens
// once per release, so the slowest encoder is worth it.
const DefaultZstdLevel = 17

// maxDecoderMemory caps what a single blob may expand to.
const maxDecoderMemory = 4 << 30

// Zstd compresses with zstd at a fixed level. Encoder and decoder are safe
// for concurrent use.
type Zstd struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

var _ release.Codec = (*Zstd)(nil)

// NewZstd creates a zstd codec. level uses the zstd command-line scale
// (1-22) and is mapped onto the encoder's speed presets.
func NewZstd(level int) (*Zstd, error) {
	if level <= 0 {
		level = DefaultZstdLevel
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoderMemory))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Zstd{level: level, enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return "zstd" }

// Level returns the configured zstd level.
func (z *Zstd) Level() int { return z.level }

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

// Close releases the encoder and decoder. The codec is unusable afterwards.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"relsync/internal/release"
)

// DefaultLZ4Level is the highest lz4 compression level.
const DefaultLZ4Level = 9

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

// LZ4 compresses with the lz4 frame format, which records its own length
// and checksums so a blob decodes without side information.
type LZ4 struct {
	level lz4.CompressionLevel
}

var _ release.Codec = (*LZ4)(nil)

// NewLZ4 creates an lz4 codec. level runs from 0 (fast) to 9.
func NewLZ4(level int) (*LZ4, error) {
	if level < 0 || level >= len(lz4Levels) {
		return nil, fmt.Errorf("lz4 level %d out of range 0-%d", level, len(lz4Levels)-1)
	}
	return &LZ4{level: lz4Levels[level]}, nil
}

func (c *LZ4) Name() string { return "lz4" }

func (c *LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level), lz4.ChecksumOption(true)); err != nil {
		return nil, fmt.Errorf("lz4 options: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *LZ4) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

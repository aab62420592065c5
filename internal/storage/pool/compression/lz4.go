package compression

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pierrec/lz4"
)

// ErrIncompressible signals that compression would not shrink the input.
// Callers fall back to storing the raw blob under TagNone.
var ErrIncompressible = errors.New("data is not compressible")

// NoCompressor passes data through unchanged.
type NoCompressor struct{}

func (c *NoCompressor) Name() string { return "none" }
func (c *NoCompressor) Tag() byte    { return TagNone }

// Compress returns a copy so the caller may modify the result safely.
func (c *NoCompressor) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Decompress returns a copy so the caller may modify the result safely.
func (c *NoCompressor) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// LZ4Compressor implements LZ4 block compression. The uncompressed length
// is prefixed as a uvarint so decompression allocates exactly once.
type LZ4Compressor struct{}

func (c *LZ4Compressor) Name() string { return "lz4" }
func (c *LZ4Compressor) Tag() byte    { return TagLZ4 }

// Compress compresses data using LZ4.
func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
	n := binary.PutUvarint(buf, uint64(len(data)))

	size, err := lz4.CompressBlock(data, buf[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if size == 0 {
		// The block API reports incompressible input as a zero size.
		return nil, ErrIncompressible
	}
	return buf[:n+size], nil
}

// Decompress decompresses LZ4 data framed by Compress.
func (c *LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("lz4 frame missing length prefix")
	}

	out := make([]byte, size)
	written, err := lz4.UncompressBlock(data[n:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompression failed: %w", err)
	}
	if uint64(written) != size {
		return nil, fmt.Errorf("lz4 frame length mismatch: have %d, want %d", written, size)
	}
	return out, nil
}

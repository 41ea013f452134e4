// Package codec compresses and decompresses framed payloads with the
// algorithm negotiated at handshake time. Only zstd is supported today,
// grounded on KSockets.packers.CompressionManager, which wraps
// zstandard.ZstdCompressor/ZstdDecompressor the same way this package wraps
// klauspost/compress/zstd — the pack's own pure-Go zstd binding.
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// AlgorithmZstd is the 4-character wire token of the zstd algorithm, the
// only one this build understands (see wireconst.SupportedCompression).
const AlgorithmZstd = "zstd"

// Codec compresses/decompresses payloads with a single negotiated algorithm
// and level. It is not required to be thread-safe: callers serialize through
// the session's transmit/receive locks, exactly as spec.md §4.A requires.
type Codec struct {
	level   int
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New builds a Codec for the zstd algorithm at the given level (1-22).
func New(level int) (*Codec, error) {
	if level < 1 || level > 22 {
		return nil, fmt.Errorf("codec: zstd level %d out of range [1,22]", level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, fmt.Errorf("codec: building zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("codec: building zstd decoder: %w", err)
	}
	return &Codec{level: level, encoder: enc, decoder: dec}, nil
}

// Level returns the configured zstd level.
func (c *Codec) Level() int { return c.level }

// Compress returns payload compressed with the negotiated algorithm. The
// returned slice is owned by the caller; Compress never retains it.
func (c *Codec) Compress(payload []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
}

// Decompress reverses Compress.
func (c *Codec) Decompress(payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd decompress: %w", err)
	}
	return out, nil
}

// Close releases the underlying encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoder.Close()
	c.decoder.Close()
}

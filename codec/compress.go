package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the block compressor used by Compressed.
type Algorithm uint8

const (
	None Algorithm = iota
	Zstd
	LZ4
)

// ParseAlgorithm maps "", "none", "zstd" and "lz4" to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return None, fmt.Errorf("codec: unknown compression %q", s)
}

func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "none"
	}
}

// block layout: algo u8 | rawLen u32 LE | body
const blockHeaderLen = 5

// DefaultMaxDecoded caps the declared uncompressed size of a block.
const DefaultMaxDecoded = 64 << 20

var errShortBlock = errors.New("codec: compressed block truncated")

// Compressed wraps Inner with block compression. Payloads below MinSize, or
// ones that do not shrink, are stored raw with algo None. Decode reads the
// algorithm from the block, so the Algo setting can change without
// invalidating existing entries.
type Compressed[V any] struct {
	Inner      Codec[V]
	Algo       Algorithm
	MinSize    int
	MaxDecoded int // 0 = DefaultMaxDecoded
}

var (
	zstdEncoders = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	}}
	zstdDecoders = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	}}
)

func (c Compressed[V]) Encode(v V) ([]byte, error) {
	raw, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	algo := c.Algo
	if len(raw) < c.MinSize {
		algo = None
	}

	var body []byte
	switch algo {
	case Zstd:
		enc := zstdEncoders.Get().(*zstd.Encoder)
		body = enc.EncodeAll(raw, nil)
		zstdEncoders.Put(enc)
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4: %w", err)
		}
		body = buf[:n]
	}
	if algo == None || len(body) == 0 || len(body) >= len(raw) {
		algo, body = None, raw
	}

	out := make([]byte, blockHeaderLen+len(body))
	out[0] = byte(algo)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(raw)))
	copy(out[blockHeaderLen:], body)
	return out, nil
}

func (c Compressed[V]) Decode(b []byte) (V, error) {
	var zero V
	if len(b) < blockHeaderLen {
		return zero, errShortBlock
	}
	algo := Algorithm(b[0])
	rawLen := int(binary.LittleEndian.Uint32(b[1:]))
	body := b[blockHeaderLen:]

	limit := c.MaxDecoded
	if limit <= 0 {
		limit = DefaultMaxDecoded
	}
	if rawLen > limit {
		return zero, fmt.Errorf("%w: declared %d > %d", ErrTooLarge, rawLen, limit)
	}

	var raw []byte
	switch algo {
	case None:
		if len(body) != rawLen {
			return zero, errShortBlock
		}
		raw = body
	case Zstd:
		dec := zstdDecoders.Get().(*zstd.Decoder)
		out, err := dec.DecodeAll(body, make([]byte, 0, rawLen))
		zstdDecoders.Put(dec)
		if err != nil {
			return zero, fmt.Errorf("codec: zstd: %w", err)
		}
		if len(out) != rawLen {
			return zero, errors.New("codec: zstd size mismatch")
		}
		raw = out
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return zero, fmt.Errorf("codec: lz4: %w", err)
		}
		if n != rawLen {
			return zero, errors.New("codec: lz4 size mismatch")
		}
		raw = out
	default:
		return zero, fmt.Errorf("codec: unknown compression algorithm %d", algo)
	}
	return c.Inner.Decode(raw)
}

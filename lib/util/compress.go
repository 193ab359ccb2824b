package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the block compression used for journal records and snapshots.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

// ErrCorruptBlock is returned when a compressed block cannot be decoded
var ErrCorruptBlock = errors.New("corrupt compressed block")

// ParseCodec maps a configuration string to a Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("unknown codec %q (expected none, zstd, lz4)", name)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "none"
	}
}

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compress encodes data with codec. The lz4 form is prefixed with the
// uncompressed length (uint32, big endian) since lz4 blocks do not carry it.
// An incompressible lz4 input is returned with ok=false and must be stored raw.
func Compress(codec Codec, data []byte) (out []byte, ok bool, err error) {
	switch codec {
	case CodecNone:
		return data, false, nil
	case CodecZstd:
		enc := getZstdEncoder()
		defer zstdEncoders.Put(enc)
		return enc.EncodeAll(data, nil), true, nil
	case CodecLZ4:
		buf := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
		n, err := lz4.CompressBlock(data, buf[4:], nil)
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			return data, false, nil
		}
		return buf[:4+n], true, nil
	default:
		return nil, false, fmt.Errorf("unknown codec %d", codec)
	}
}

// Decompress reverses Compress.
func Decompress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoders.Put(dec)
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		return out, nil
	case CodecLZ4:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: data too short for length prefix", ErrCorruptBlock)
		}
		size := binary.BigEndian.Uint32(data[:4])
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data[4:], out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrCorruptBlock, size, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", codec)
	}
}

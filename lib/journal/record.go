package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ValentinKolb/infinity/lib/util"
)

const (
	// Version of the file layout. Version 2 adds the base sequence to the
	// header.
	Version byte = 2
	// MaxRecord bounds the stored size of a single record
	MaxRecord = 64 << 20

	recordHeader = 9
)

var magic = [8]byte{'I', 'N', 'F', 'J', 'R', 'N', 'L', 0}

var crc32c = crc32.MakeTable(crc32.Castagnoli)

var (
	ErrCorrupt   = errors.New("journal corrupted")
	ErrTruncated = errors.New("journal truncated")
	ErrClosed    = errors.New("journal closed")
)

// fileHeader is magic, version and the sequence number of the last record
// compacted away. Records in the file are numbered from base+1.
type fileHeader struct {
	version byte
	base    uint64
}

func (h fileHeader) size() int64 {
	if h.version == 1 {
		return int64(len(magic) + 1)
	}
	return int64(len(magic) + 1 + 8)
}

func writeHeader(w io.Writer, base uint64) error {
	hdr := make([]byte, 0, len(magic)+9)
	hdr = append(hdr, magic[:]...)
	hdr = append(hdr, Version)
	hdr = binary.BigEndian.AppendUint64(hdr, base)
	_, err := w.Write(hdr)
	return err
}

func readHeader(r io.Reader) (fileHeader, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fileHeader{}, fmt.Errorf("%w: header", ErrTruncated)
		}
		return fileHeader{}, err
	}
	if [8]byte(hdr[:8]) != magic {
		return fileHeader{}, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[:8])
	}
	h := fileHeader{version: hdr[8]}
	switch h.version {
	case 1:
	case Version:
		var base [8]byte
		if _, err := io.ReadFull(r, base[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fileHeader{}, fmt.Errorf("%w: header", ErrTruncated)
			}
			return fileHeader{}, err
		}
		h.base = binary.BigEndian.Uint64(base[:])
	default:
		return fileHeader{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.version)
	}
	return h, nil
}

// encodeRecord frames payload, compressing it with codec from compressAt
// bytes on.
func encodeRecord(payload []byte, codec util.Codec, compressAt int) ([]byte, error) {
	stored, used := payload, util.CodecNone
	if codec != util.CodecNone && len(payload) >= compressAt {
		out, ok, err := util.Compress(codec, payload)
		if err != nil {
			return nil, err
		}
		if ok {
			stored, used = out, codec
		}
	}
	if len(stored) > MaxRecord {
		return nil, fmt.Errorf("record of %d bytes exceeds %d", len(stored), MaxRecord)
	}
	return rawRecord{codec: used, stored: stored}.frame(), nil
}

// rawRecord is one stored record before decompression
type rawRecord struct {
	codec  util.Codec
	stored []byte
}

func (r rawRecord) size() int64 { return int64(recordHeader + len(r.stored)) }

// frame returns the record as it is stored in the file
func (r rawRecord) frame() []byte {
	buf := make([]byte, recordHeader+len(r.stored))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(r.stored)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(r.stored, crc32c))
	buf[8] = byte(r.codec)
	copy(buf[recordHeader:], r.stored)
	return buf
}

func (r rawRecord) payload() ([]byte, error) {
	out, err := util.Decompress(r.codec, r.stored)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return out, nil
}

// readRecord returns io.EOF at a clean end and ErrTruncated for a partial
// record.
func readRecord(r *bufio.Reader) (rawRecord, error) {
	var hdr [recordHeader]byte
	n, err := io.ReadFull(r, hdr[:])
	switch {
	case err == io.EOF:
		return rawRecord{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return rawRecord{}, fmt.Errorf("%w: %d of %d header bytes", ErrTruncated, n, recordHeader)
	case err != nil:
		return rawRecord{}, err
	}

	length := binary.BigEndian.Uint32(hdr[0:4])
	sum := binary.BigEndian.Uint32(hdr[4:8])
	codec := util.Codec(hdr[8])
	if length > MaxRecord {
		return rawRecord{}, fmt.Errorf("%w: record length %d", ErrCorrupt, length)
	}
	if codec > util.CodecLZ4 {
		return rawRecord{}, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}

	stored := make([]byte, length)
	if n, err := io.ReadFull(r, stored); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rawRecord{}, fmt.Errorf("%w: %d of %d payload bytes", ErrTruncated, n, length)
		}
		return rawRecord{}, err
	}
	if crc32.Checksum(stored, crc32c) != sum {
		return rawRecord{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return rawRecord{codec: codec, stored: stored}, nil
}

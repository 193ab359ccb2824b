// Package journal is the append-only, checksummed log of accepted notices.
//
// File layout:
//
//	"INFJRNL\x00" | version (1 byte)
//	records:
//	  uint32 length | uint32 CRC32C(payload) | codec (1 byte) | payload
//
// The payload is a notice.Marshal blob, compressed with the record codec when
// it is large enough. A torn record at the tail, left by a crash during
// append, is cut off when the journal is opened. A checksum mismatch anywhere
// else is corruption.
package journal

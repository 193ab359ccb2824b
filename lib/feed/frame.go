package feed

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// MaxFrame caps the payload of a single frame.
const MaxFrame = 64 << 20

const headerSize = 12

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, requestID uint64, data []byte) error {
	if len(data) > MaxFrame {
		return fmt.Errorf("frame of %d bytes exceeds %d", len(data), MaxFrame)
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint64(header[:8], requestID)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame using buf if it is large enough. The returned slice
// aliases buf in that case.
func readFrame(r io.Reader, buf []byte) (uint64, []byte, error) {
	if len(buf) < headerSize {
		buf = make([]byte, headerSize)
	}
	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		return 0, nil, err
	}

	requestID := binary.BigEndian.Uint64(buf[:8])
	length := binary.BigEndian.Uint32(buf[8:12])
	if length == 0 {
		return requestID, []byte{}, nil
	}
	if length > MaxFrame {
		return requestID, nil, fmt.Errorf("frame of %d bytes exceeds %d", length, MaxFrame)
	}

	if len(buf) < int(length) {
		buf = make([]byte, length)
	}
	if _, err := io.ReadFull(r, buf[:length]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return requestID, buf[:length], nil
}

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

// Status is the first byte of a response frame.
type Status uint8

const (
	StatusOK          Status = 0 // notice accepted
	StatusInvalid     Status = 1 // notice rejected, do not resend
	StatusUnavailable Status = 2 // engine shutting down, resend elsewhere or later
	StatusError       Status = 3 // any other failure
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalid:
		return "invalid"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func encodeResponse(s Status, msg string) []byte {
	out := make([]byte, 1+len(msg))
	out[0] = byte(s)
	copy(out[1:], msg)
	return out
}

func decodeResponse(data []byte) error {
	if len(data) == 0 {
		return &RemoteError{Status: StatusError, Msg: "empty response"}
	}
	s := Status(data[0])
	if s == StatusOK {
		return nil
	}
	return &RemoteError{Status: s, Msg: string(data[1:])}
}

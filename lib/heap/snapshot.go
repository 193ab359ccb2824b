package heap

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/util"
	"github.com/fxamacker/cbor/v2"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	snapshotMagic   = "INFHEAP\x00"
	snapshotVersion = 2

	// version, token, journal sequence, codec, body length
	headerSize = 1 + 8 + 8 + 1 + 4
)

// ErrSnapshotFormat is returned for files that are not heap snapshots
var ErrSnapshotFormat = errors.New("invalid snapshot format")

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("heap: CBOR encoder initialization failed: " + err.Error())
	}
}

type snapshotMsg struct {
	Number int64               `cbor:"1,keyasint"`
	Attrs  map[string][]string `cbor:"2,keyasint"`
}

type snapshotBody struct {
	Maximum  int64               `cbor:"1,keyasint"`
	Messages []snapshotMsg       `cbor:"2,keyasint"`
	Aliases  map[string][]string `cbor:"3,keyasint,omitempty"`
}

// Meta is stored in the snapshot header.
type Meta struct {
	// Token is the fencing token of the writer
	Token uint64
	// Journal is the sequence number of the last journal record the
	// snapshot contains
	Journal uint64
}

// Save writes every record and the alias table to w, newest first. meta is
// returned by Load.
//
// Thread-safety: Save may run concurrently with writers, records changed while
// saving may or may not be included.
func (h *Heap) Save(w io.Writer, meta Meta, codec util.Codec) error {
	body := snapshotBody{Maximum: h.Maximum()}
	h.aliases.Range(func(identity string, aliases []string) bool {
		if body.Aliases == nil {
			body.Aliases = make(map[string][]string)
		}
		body.Aliases[identity] = aliases
		return true
	})
	for m := range h.Descend() {
		attrs := m.Snapshot()
		if len(attrs) == 0 {
			continue
		}
		body.Messages = append(body.Messages, snapshotMsg{Number: m.Number(), Attrs: attrs})
	}

	raw, err := encMode.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	payload, compressed, err := util.Compress(codec, raw)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}
	if !compressed {
		codec = util.CodecNone
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	header := make([]byte, headerSize)
	header[0] = snapshotVersion
	binary.BigEndian.PutUint64(header[1:9], meta.Token)
	binary.BigEndian.PutUint64(header[9:17], meta.Journal)
	header[17] = byte(codec)
	binary.BigEndian.PutUint32(header[18:22], uint32(len(payload)))
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(payload); err != nil {
		return err
	}
	return bw.Flush()
}

// Load merges a snapshot written by Save into the heap and returns the
// header it was saved with.
//
// Thread-safety: safe to call on a heap in use, values are applied through the
// regular Put/Add path.
func (h *Heap) Load(r io.Reader) (Meta, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}
	if string(magic) != snapshotMagic {
		return Meta{}, fmt.Errorf("%w: magic number mismatch", ErrSnapshotFormat)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(br, header); err != nil {
		return Meta{}, fmt.Errorf("%w: data too short for header", ErrSnapshotFormat)
	}
	if header[0] != snapshotVersion {
		return Meta{}, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrSnapshotFormat, header[0], snapshotVersion)
	}
	meta := Meta{
		Token:   binary.BigEndian.Uint64(header[1:9]),
		Journal: binary.BigEndian.Uint64(header[9:17]),
	}
	codec := util.Codec(header[17])
	size := binary.BigEndian.Uint32(header[18:22])

	payload := make([]byte, size)
	if _, err := io.ReadFull(br, payload); err != nil {
		return Meta{}, fmt.Errorf("%w: data too short for body", ErrSnapshotFormat)
	}
	raw, err := util.Decompress(codec, payload)
	if err != nil {
		return Meta{}, err
	}

	var body snapshotBody
	if err := cbor.Unmarshal(raw, &body); err != nil {
		return Meta{}, fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}

	for identity, aliases := range body.Aliases {
		for _, a := range aliases {
			h.AddAlias(identity, a)
		}
	}
	for _, sm := range body.Messages {
		m, err := h.Msg(sm.Number)
		if err != nil {
			return Meta{}, err
		}
		for name, values := range sm.Attrs {
			a, err := attr.New(name)
			if err != nil {
				return Meta{}, fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
			}
			for _, v := range values {
				m.Add(a, v)
			}
		}
	}
	return meta, nil
}

package notice

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Marshal encodes a notice into its wire form.
func Marshal(n Notice) ([]byte, error) {
	w := &writer{buf: make([]byte, 0, 128)}
	w.string16(n.Kind().String())

	switch v := n.(type) {
	case *MessagePosted:
		w.message(v.Message)
		w.bout(v.Bout)
	case *MessageSeen:
		w.message(v.Message)
		w.string16(string(v.Identity))
	case *AliasAdded:
		w.string16(string(v.Identity))
		w.string16(v.Alias)
	case *BoutRenamed:
		w.bout(v.Bout)
	case *KickOff:
		w.bout(v.Bout)
		w.string16(string(v.Identity))
	case *Join:
		w.bout(v.Bout)
		w.string16(string(v.Identity))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, n)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Unmarshal decodes a notice. Trailing bytes are an error.
func Unmarshal(data []byte) (Notice, error) {
	r := &reader{data: data}
	disc := r.string16("discriminator")
	if r.err != nil {
		return nil, r.err
	}
	kind, err := ParseKind(disc)
	if err != nil {
		return nil, err
	}

	var n Notice
	switch kind {
	case KindMessagePosted:
		n = &MessagePosted{Message: r.message(), Bout: r.bout()}
	case KindMessageSeen:
		n = &MessageSeen{Message: r.message(), Identity: Identity(r.string16("identity"))}
	case KindAliasAdded:
		n = &AliasAdded{Identity: Identity(r.string16("identity")), Alias: r.string16("alias")}
	case KindBoutRenamed:
		n = &BoutRenamed{Bout: r.bout()}
	case KindKickOff:
		n = &KickOff{Bout: r.bout(), Identity: Identity(r.string16("identity"))}
	case KindJoin:
		n = &Join{Bout: r.bout(), Identity: Identity(r.string16("identity"))}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrInvalid, len(data)-r.pos, kind)
	}
	return n, nil
}

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

type writer struct {
	buf []byte
	err error
}

func (w *writer) int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *writer) bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) string16(s string) {
	if len(s) > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: string of %d bytes exceeds %d", ErrInvalid, len(s), math.MaxUint16))
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) text32(s string) {
	if uint64(len(s)) > math.MaxUint32 {
		w.fail(fmt.Errorf("%w: text of %d bytes", ErrInvalid, len(s)))
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) date(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMilli())
}

func (w *writer) message(m Message) {
	w.int64(m.Number)
	w.string16(string(m.Author))
	w.text32(m.Text)
	w.date(m.Date)
}

func (w *writer) bout(b Bout) {
	w.int64(b.Number)
	w.date(b.Date)
	w.string16(b.Title)
	if len(b.Participants) > math.MaxUint16 {
		w.fail(fmt.Errorf("%w: %d participants", ErrInvalid, len(b.Participants)))
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(b.Participants)))
	for _, p := range b.Participants {
		w.string16(string(p.Identity))
		w.bool(p.Leader)
		w.bool(p.Confirmed)
	}
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// reader keeps the first error; later reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w for %s", ErrShortData, what)
		return false
	}
	return true
}

func (r *reader) int64(what string) int64 {
	if !r.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return int64(v)
}

func (r *reader) bool(what string) bool {
	if !r.need(1, what) {
		return false
	}
	v := r.data[r.pos]
	r.pos++
	if v > 1 {
		r.err = fmt.Errorf("%w: bool byte %d for %s", ErrInvalid, v, what)
		return false
	}
	return v == 1
}

func (r *reader) uint16(what string) int {
	if !r.need(2, what+" length") {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return int(v)
}

func (r *reader) string16(what string) string {
	n := r.uint16(what)
	if !r.need(n, what+" data") {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) text32(what string) string {
	if !r.need(4, what+" length") {
		return ""
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos : r.pos+4]))
	r.pos += 4
	if !r.need(n, what+" data") {
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *reader) date(what string) time.Time {
	ms := r.int64(what)
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *reader) message() Message {
	return Message{
		Number: r.int64("message number"),
		Author: Identity(r.string16("author")),
		Text:   r.text32("text"),
		Date:   r.date("message date"),
	}
}

func (r *reader) bout() Bout {
	b := Bout{
		Number: r.int64("bout number"),
		Date:   r.date("bout date"),
		Title:  r.string16("title"),
	}
	count := r.uint16("participants")
	for i := 0; i < count && r.err == nil; i++ {
		b.Participants = append(b.Participants, Participant{
			Identity:  Identity(r.string16("participant")),
			Leader:    r.bool("leader"),
			Confirmed: r.bool("confirmed"),
		})
	}
	return b
}

package attr

import (
	"context"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// Listener is notified about every change of an attribute of a Msg.
type Listener interface {
	Changed(number int64, a Attribute, added, removed, current []string)
}

// Msg is the index record of one message number. Records are never deleted,
// only their values change.
//
// Thread-safety: all methods are safe for concurrent use. Reads never block
// on writers of other attributes.
type Msg struct {
	number   int64
	attrs    *xsync.MapOf[Attribute, *Value]
	listener Listener
}

// NewMsg creates an empty record. l may be nil.
func NewMsg(number int64, l Listener) *Msg {
	return &Msg{
		number:   number,
		attrs:    xsync.NewMapOf[Attribute, *Value](),
		listener: l,
	}
}

// Number returns the message number.
func (m *Msg) Number() int64 { return m.number }

// Value returns the value of a, creating an empty one if needed.
func (m *Msg) Value(a Attribute) *Value {
	v, _ := m.attrs.LoadOrCompute(a, newValue)
	return v
}

// Put replaces the values of a with val.
func (m *Msg) Put(a Attribute, val string) {
	m.Value(a).Put(val, m.notify(a))
}

// Add adds val to the values of a.
func (m *Msg) Add(a Attribute, val string) {
	m.Value(a).Add(val, m.notify(a))
}

// Remove deletes val from the values of a.
func (m *Msg) Remove(a Attribute, val string) {
	if v, ok := m.attrs.Load(a); ok {
		v.Remove(val, m.notify(a))
	}
}

// Clear removes all values of a.
func (m *Msg) Clear(a Attribute) {
	if v, ok := m.attrs.Load(a); ok {
		v.Clear(m.notify(a))
	}
}

// Has reports whether a carries val.
func (m *Msg) Has(a Attribute, val string) bool {
	v, ok := m.attrs.Load(a)
	return ok && v.Has(val)
}

// First returns the first value of a without blocking.
func (m *Msg) First(a Attribute) (string, bool) {
	v, ok := m.attrs.Load(a)
	if !ok {
		return "", false
	}
	return v.First()
}

// All returns all values of a.
func (m *Msg) All(a Attribute) []string {
	v, ok := m.attrs.Load(a)
	if !ok {
		return nil
	}
	return v.All()
}

// Get waits for the first value of a, bounded by ctx.
func (m *Msg) Get(ctx context.Context, a Attribute) (string, error) {
	val, err := m.Value(a).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("msg #%d %s: %w", m.number, a, err)
	}
	return val, nil
}

// Attributes returns the attributes holding at least one value, sorted by name.
func (m *Msg) Attributes() []Attribute {
	var out []Attribute
	m.attrs.Range(func(a Attribute, v *Value) bool {
		if _, ok := v.First(); ok {
			out = append(out, a)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Snapshot returns a copy of all non-empty attributes and their values.
func (m *Msg) Snapshot() map[string][]string {
	out := make(map[string][]string)
	m.attrs.Range(func(a Attribute, v *Value) bool {
		if vals := v.All(); len(vals) > 0 {
			out[a.name] = vals
		}
		return true
	})
	return out
}

func (m *Msg) String() string {
	return fmt.Sprintf("msg#%d", m.number)
}

func (m *Msg) notify(a Attribute) ChangeFunc {
	if m.listener == nil {
		return nil
	}
	return func(added, removed, current []string) {
		m.listener.Changed(m.number, a, added, removed, current)
	}
}

package attr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewAttribute(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"text", true},
		{"author.name", true},
		{"bout.title", true},
		{"talks-with:urn:test:bob", true},
		{"some-attr-77", true},
		{"", false},
		{"Text", false},
		{"a..b", false},
		{"trailing.", false},
		{"with space", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.name)
			if tt.ok && err != nil {
				t.Fatalf("New(%q) unexpected error: %v", tt.name, err)
			}
			if !tt.ok {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("New(%q) expected ErrInvalidName, got %v", tt.name, err)
				}
				return
			}
			if a.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", a.Name(), tt.name)
			}
		})
	}
}

func TestAttributeEquality(t *testing.T) {
	if Must("text") != Text {
		t.Error("attributes with the same name must be equal")
	}
	m := map[Attribute]int{Text: 1}
	if m[Must("text")] != 1 {
		t.Error("attributes must be usable as map keys")
	}
}

func TestValuePutAddHas(t *testing.T) {
	v := newValue()
	v.Add("a", nil)
	v.Add("b", nil)
	v.Add("a", nil)
	if got := v.All(); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}

	v.Put("c", nil)
	if v.Has("a") || !v.Has("c") {
		t.Errorf("Put should replace all values, got %v", v.All())
	}

	v.Remove("c", nil)
	if _, ok := v.First(); ok {
		t.Error("value should be empty after removing its only entry")
	}
}

func TestValueGetWaitsForPut(t *testing.T) {
	v := newValue()

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	var err error
	go func() {
		defer wg.Done()
		got, err = v.GetTimeout(2 * time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	v.Put("late", nil)
	wg.Wait()

	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != "late" {
		t.Errorf("Get() = %q, want %q", got, "late")
	}
}

func TestValueGetTimeout(t *testing.T) {
	v := newValue()
	_, err := v.GetTimeout(10 * time.Millisecond)
	if !errors.Is(err, ErrNoValue) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected ErrNoValue and DeadlineExceeded, got %v", err)
	}

	// a cleared value blocks again
	v.Put("x", nil)
	v.Clear(nil)
	if _, err := v.GetTimeout(10 * time.Millisecond); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue after Clear, got %v", err)
	}
}

type recorder struct {
	mu      sync.Mutex
	added   []string
	removed []string
}

func (r *recorder) Changed(_ int64, _ Attribute, added, removed, _ []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, added...)
	r.removed = append(r.removed, removed...)
}

func TestMsgNotifiesListener(t *testing.T) {
	rec := &recorder{}
	m := NewMsg(7, rec)

	m.Put(Text, "hello")
	m.Put(Text, "hello") // unchanged, no event
	m.Put(Text, "bye")
	m.Add(SeenBy, "urn:test:alice")
	m.Remove(SeenBy, "urn:test:alice")
	m.Remove(SeenBy, "urn:test:nobody")

	wantAdded := []string{"hello", "bye", "urn:test:alice"}
	wantRemoved := []string{"hello", "urn:test:alice"}
	if len(rec.added) != len(wantAdded) || len(rec.removed) != len(wantRemoved) {
		t.Fatalf("added=%v removed=%v", rec.added, rec.removed)
	}
	for i := range wantAdded {
		if rec.added[i] != wantAdded[i] {
			t.Errorf("added[%d] = %q, want %q", i, rec.added[i], wantAdded[i])
		}
	}

	if m.Number() != 7 {
		t.Errorf("Number() = %d", m.Number())
	}
	attrs := m.Attributes()
	if len(attrs) != 1 || attrs[0] != Text {
		t.Errorf("Attributes() = %v, want [text]", attrs)
	}
	if val, ok := m.First(Text); !ok || val != "bye" {
		t.Errorf("First(text) = %q, %v", val, ok)
	}
}

package attr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrNoValue is returned by Get when no value appeared before the context
// ended. It is always wrapped together with the context's error.
var ErrNoValue = errors.New("no value")

// ChangeFunc observes one mutation of a Value together with the values left
// after it. It runs with the Value locked, must not call back into it and must
// not retain current.
type ChangeFunc func(added, removed, current []string)

// Value is a set of strings with a blocking Get.
//
// Thread-safety: all methods are safe for concurrent use.
type Value struct {
	mu     sync.Mutex
	values []string
	ready  chan struct{} // closed while values is non-empty
}

func newValue() *Value {
	return &Value{ready: make(chan struct{})}
}

// Put replaces all values with v.
func (v *Value) Put(val string, fn ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.values) == 1 && v.values[0] == val {
		return
	}
	removed := v.values
	v.values = []string{val}
	v.markReady()
	if fn != nil {
		fn([]string{val}, removed, v.values)
	}
}

// Add appends val unless it is already present.
func (v *Value) Add(val string, fn ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if slices.Contains(v.values, val) {
		return
	}
	v.values = append(v.values, val)
	v.markReady()
	if fn != nil {
		fn([]string{val}, nil, v.values)
	}
}

// Remove deletes val if present.
func (v *Value) Remove(val string, fn ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := slices.Index(v.values, val)
	if idx < 0 {
		return
	}
	v.values = slices.Delete(v.values, idx, idx+1)
	if len(v.values) == 0 {
		v.ready = make(chan struct{})
	}
	if fn != nil {
		fn(nil, []string{val}, v.values)
	}
}

// Clear removes every value. A following Get blocks again.
func (v *Value) Clear(fn ChangeFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.values) == 0 {
		return
	}
	removed := v.values
	v.values = nil
	v.ready = make(chan struct{})
	if fn != nil {
		fn(nil, removed, nil)
	}
}

// Has reports whether val is present.
func (v *Value) Has(val string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Contains(v.values, val)
}

// All returns a copy of the current values in insertion order.
func (v *Value) All() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.values)
}

// First returns the first value without blocking.
func (v *Value) First() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.values) == 0 {
		return "", false
	}
	return v.values[0], true
}

// Get returns the first value, waiting until one is present or ctx is done.
func (v *Value) Get(ctx context.Context) (string, error) {
	for {
		v.mu.Lock()
		if len(v.values) > 0 {
			val := v.values[0]
			v.mu.Unlock()
			return val, nil
		}
		ready := v.ready
		v.mu.Unlock()

		select {
		case <-ready:
			// re-check, a Remove may have raced us
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrNoValue, ctx.Err())
		}
	}
}

// GetTimeout is Get bounded by timeout.
func (v *Value) GetTimeout(timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return v.Get(ctx)
}

func (v *Value) markReady() {
	select {
	case <-v.ready:
	default:
		close(v.ready)
	}
}

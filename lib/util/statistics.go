package util

import (
	"math"
	"sync"
	"time"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	Count        int     `json:"count"`
}

// NewStats computes mean, population standard deviation, minimum and maximum
// of values. An empty slice yields the zero Stats.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	min, max := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          min,
		Max:          max,
		Mean:         mean,
		Count:        len(values),
	}
}

// ----------------------------------------------------------------------------
// Rolling window
// ----------------------------------------------------------------------------

// Window keeps the most recent samples of a duration stream in a ring buffer.
// Once full, every new sample overwrites the oldest one.
//
// Thread-safety: all methods are safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewWindow creates a window holding at most size samples (minimum 1).
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{samples: make([]float64, size)}
}

// Add records one duration sample.
func (w *Window) Add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = float64(d)
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Stats summarizes the samples held, in nanoseconds.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	values := make([]float64, n)
	copy(values, w.samples[:n])
	w.mu.Unlock()
	return NewStats(values)
}

// Mean returns the average of the samples held, or 0 if there are none.
func (w *Window) Mean() time.Duration {
	return time.Duration(w.Stats().Mean)
}

package util

import (
	"math"
	"testing"
	"time"
)

func TestNewStats(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Stats
	}{
		{"empty", nil, Stats{}},
		{"single", []float64{4}, Stats{Min: 4, Max: 4, Mean: 4, Count: 1}},
		{"spread", []float64{2, 4, 4, 4, 5, 5, 7, 9}, Stats{StdDeviation: 2, Min: 2, Max: 9, Mean: 5, Count: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewStats(tt.values)
			if got.Count != tt.want.Count || got.Min != tt.want.Min || got.Max != tt.want.Max {
				t.Errorf("NewStats() = %+v, want %+v", got, tt.want)
			}
			if math.Abs(got.Mean-tt.want.Mean) > 1e-9 || math.Abs(got.StdDeviation-tt.want.StdDeviation) > 1e-9 {
				t.Errorf("NewStats() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestWindowRollsOver(t *testing.T) {
	w := NewWindow(3)
	if w.Mean() != 0 {
		t.Errorf("empty window mean should be 0, got %v", w.Mean())
	}

	w.Add(10 * time.Millisecond)
	w.Add(20 * time.Millisecond)
	if w.Len() != 2 {
		t.Errorf("expected 2 samples, got %d", w.Len())
	}
	if w.Mean() != 15*time.Millisecond {
		t.Errorf("expected mean 15ms, got %v", w.Mean())
	}

	// the next two samples evict the 10ms sample
	w.Add(30 * time.Millisecond)
	w.Add(40 * time.Millisecond)
	if w.Len() != 3 {
		t.Errorf("expected 3 samples, got %d", w.Len())
	}
	if w.Mean() != 30*time.Millisecond {
		t.Errorf("expected mean 30ms, got %v", w.Mean())
	}
}

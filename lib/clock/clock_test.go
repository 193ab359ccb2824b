package clock

import (
	"testing"
	"time"
)

func TestFakeClockAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	ch := c.After(time.Second)
	c.Advance(500 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired too early")
	default:
	}

	c.Advance(500 * time.Millisecond)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(time.Second)) {
			t.Errorf("got %v, want %v", got, start.Add(time.Second))
		}
	default:
		t.Fatal("did not fire")
	}
	if c.Pending() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.Pending())
	}
}

func TestFakeClockTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(10 * time.Second)

	for i := 0; i < 3; i++ {
		c.Advance(10 * time.Second)
		select {
		case <-tk.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	tk.Stop()
	c.Advance(10 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("tick after stop")
	default:
	}
}

func TestFakeClockZeroAfter(t *testing.T) {
	c := Fake(time.Unix(100, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

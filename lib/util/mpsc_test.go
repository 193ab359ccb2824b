package util

import (
	"sync"
	"testing"
	"time"
)

// TestPushRecv tests basic push and receive in order
func TestPushRecv(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		if !q.Push(&i) {
			t.Fatalf("Failed to push item %d", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case val := <-q.Recv():
			if *val != i {
				t.Errorf("Expected %d, got %d", i, *val)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timeout waiting for item %d", i)
		}
	}

	select {
	case val := <-q.Recv():
		t.Errorf("Queue should be empty, got %v", val)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestPushAfterClose verifies a closed queue rejects pushes and closes Recv
func TestPushAfterClose(t *testing.T) {
	q := NewLockFreeMPSC[string]()
	s := "queued"
	q.Push(&s)
	q.Close()

	late := "late"
	if q.Push(&late) {
		t.Error("Push on closed queue should fail")
	}
	if q.Push(nil) {
		t.Error("Push of nil should fail")
	}

	got := 0
	for v := range q.Recv() {
		if *v != "queued" {
			t.Errorf("unexpected item %q", *v)
		}
		got++
	}
	if got != 1 {
		t.Errorf("expected 1 drained item, got %d", got)
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true")
	}
}

// TestManyProducersManyConsumers verifies that no item is lost or duplicated
// when several goroutines receive from the same queue
func TestManyProducersManyConsumers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := base*perProducer + i
				q.Push(&v)
			}
		}(p)
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	var consumers sync.WaitGroup
	for c := 0; c < 4; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for v := range q.Recv() {
				mu.Lock()
				if seen[*v] {
					t.Errorf("duplicate item %d", *v)
				}
				seen[*v] = true
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	q.Close()
	consumers.Wait()

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, len(seen))
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, Len=%d", q.Len())
	}
}

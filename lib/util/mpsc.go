package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// LockFreeMPSC is an unbounded multi-producer queue backed by a linked list of
// nodes appended with CAS. A single internal goroutine moves items into the
// channel returned by Recv, so any number of goroutines may receive from it.
//
// Ordering: items pushed by one producer are delivered in push order. Pushes
// racing on different producers are ordered by whoever wins the CAS.
type LockFreeMPSC[T any] struct {
	head    atomic.Pointer[node[T]]
	tail    atomic.Pointer[node[T]]
	out     chan *T
	done    sync.WaitGroup
	closed  atomic.Bool
	pending atomic.Int64 // items pushed but not yet received

	mu   sync.Mutex
	cond *sync.Cond
}

// NewLockFreeMPSC creates a queue and starts its forwarding goroutine.
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	sentinel := &node[T]{}

	q := &LockFreeMPSC[T]{out: make(chan *T)}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.done.Add(1)
	go q.forward()

	return q
}

// Push appends value. It returns false for a nil value or a closed queue.
//
// Thread-safety: safe for concurrent use.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}
	q.pending.Add(1)
	var spins uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// another producer may already have advanced tail for us
				q.tail.CompareAndSwap(tail, n)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that linked its node but has not moved tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin a little under low contention, then yield
		if spins < 8 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// forward moves items from the list into the out channel until the queue is
// closed and empty.
func (q *LockFreeMPSC[T]) forward() {
	defer q.done.Done()
	defer close(q.out)

	for {
		moved := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			moved = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			q.pending.Add(-1)
			next.value = nil
		}

		if !moved && q.closed.Load() {
			return
		}

		if !moved {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel items are delivered on. It is closed once the queue
// has been closed and every pushed item was received.
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close stops accepting pushes. Items already queued are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of items pushed but not yet received. Items handed to
// the out channel count as received.
func (q *LockFreeMPSC[T]) Len() int {
	return int(q.pending.Load())
}

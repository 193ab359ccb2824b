package util

import (
	"container/heap"
	"strconv"
)

// AgeItem is one entry of an AgeHeap: a key and the time it was registered at,
// in unix nanoseconds.
type AgeItem struct {
	Key   string
	Since int64
	index int
}

func (i *AgeItem) String() string {
	return "{Key: " + i.Key + ", Since: " + strconv.FormatInt(i.Since, 10) + "}"
}

// AgeHeap is a min-heap ordered by Since with O(1) access by key. The oldest
// entry is always at the top.
//
// Thread-safety: not safe for concurrent use, callers synchronize.
type AgeHeap struct {
	items []*AgeItem
	byKey map[string]*AgeItem
}

// NewAgeHeap creates an empty heap.
func NewAgeHeap() *AgeHeap {
	return &AgeHeap{byKey: make(map[string]*AgeItem)}
}

// Len is part of heap.Interface.
func (h *AgeHeap) Len() int { return len(h.items) }

// Less is part of heap.Interface.
func (h *AgeHeap) Less(i, j int) bool { return h.items[i].Since < h.items[j].Since }

// Swap is part of heap.Interface.
func (h *AgeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

// Push is part of heap.Interface, use Put instead.
func (h *AgeHeap) Push(x any) {
	it := x.(*AgeItem)
	it.index = len(h.items)
	h.items = append(h.items, it)
	h.byKey[it.Key] = it
}

// Pop is part of heap.Interface, use Remove instead.
func (h *AgeHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	delete(h.byKey, it.Key)
	return it
}

// Put adds key or moves an existing key to a new time.
func (h *AgeHeap) Put(key string, since int64) {
	if it, ok := h.byKey[key]; ok {
		it.Since = since
		heap.Fix(h, it.index)
		return
	}
	heap.Push(h, &AgeItem{Key: key, Since: since})
}

// Remove deletes key and returns its time.
func (h *AgeHeap) Remove(key string) (int64, bool) {
	it, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	heap.Remove(h, it.index)
	return it.Since, true
}

// Oldest returns the entry with the smallest Since without removing it.
func (h *AgeHeap) Oldest() (AgeItem, bool) {
	if len(h.items) == 0 {
		return AgeItem{}, false
	}
	return *h.items[0], true
}

// OlderThan returns the keys registered before cutoff, oldest first. The heap
// is left unchanged.
func (h *AgeHeap) OlderThan(cutoff int64) []AgeItem {
	var out []AgeItem
	for _, it := range h.items {
		if it.Since < cutoff {
			out = append(out, *it)
		}
	}
	// items is heap-ordered, not sorted
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Since < out[j-1].Since; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Contains reports whether key is present.
func (h *AgeHeap) Contains(key string) bool {
	_, ok := h.byKey[key]
	return ok
}

package heap

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrInvalidNumber is returned for message numbers outside (0, MaxInt64)
var ErrInvalidNumber = errors.New("invalid message number")

var messagesCreated = metrics.GetOrCreateCounter("infinity_heap_messages_total")

// Options configures a Heap
type Options struct {
	// Tokenized lists the attributes whose values are split into word postings
	Tokenized []attr.Attribute
}

// DefaultOptions tokenizes the attributes a bare text query searches.
func DefaultOptions() *Options {
	return &Options{Tokenized: []attr.Attribute{attr.Text, attr.BoutTitle, attr.AuthorAlias}}
}

// Heap is the descending-ordered message store.
//
// Thread-safety: all methods are safe for concurrent use. Readers never take
// the order lock for writing.
type Heap struct {
	msgs     *xsync.MapOf[int64, *attr.Msg]
	postings *xsync.MapOf[postingKey, *posting]
	words    *xsync.MapOf[postingKey, *posting]

	tokenized map[attr.Attribute]bool

	// aliases of author identities, applied to messages posted later
	aliases *xsync.MapOf[string, []string]

	orderMu sync.RWMutex
	order   *roaring64.Bitmap // numbers of all records

	max atomic.Int64
}

// New creates an empty heap. A nil opts means DefaultOptions.
func New(opts *Options) *Heap {
	if opts == nil {
		opts = DefaultOptions()
	}
	h := &Heap{
		msgs:      xsync.NewMapOf[int64, *attr.Msg](),
		postings:  xsync.NewMapOf[postingKey, *posting](),
		words:     xsync.NewMapOf[postingKey, *posting](),
		tokenized: make(map[attr.Attribute]bool, len(opts.Tokenized)),
		order:     roaring64.New(),
		aliases:   xsync.NewMapOf[string, []string](),
	}
	for _, a := range opts.Tokenized {
		h.tokenized[a] = true
	}
	return h
}

// --------------------------------------------------------------------------
// Aliases
// --------------------------------------------------------------------------

// AddAlias records alias for identity and reports whether it was new.
func (h *Heap) AddAlias(identity, alias string) bool {
	added := false
	h.aliases.Compute(identity, func(old []string, _ bool) ([]string, bool) {
		if slices.Contains(old, alias) {
			return old, false
		}
		added = true
		return append(slices.Clone(old), alias), false
	})
	return added
}

// Aliases returns the aliases recorded for identity.
func (h *Heap) Aliases(identity string) []string {
	a, _ := h.aliases.Load(identity)
	return a
}

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Msg returns the record for number, creating it on first use.
func (h *Heap) Msg(number int64) (*attr.Msg, error) {
	if number <= 0 || number == math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNumber, number)
	}
	m, loaded := h.msgs.LoadOrCompute(number, func() *attr.Msg {
		return attr.NewMsg(number, h)
	})
	if !loaded {
		h.orderMu.Lock()
		h.order.Add(uint64(number))
		h.orderMu.Unlock()
		for {
			cur := h.max.Load()
			if number <= cur || h.max.CompareAndSwap(cur, number) {
				break
			}
		}
		messagesCreated.Inc()
	}
	return m, nil
}

// Lookup returns the record for number if it exists.
func (h *Heap) Lookup(number int64) (*attr.Msg, bool) {
	return h.msgs.Load(number)
}

// Has reports whether a record exists for number.
func (h *Heap) Has(number int64) bool {
	_, ok := h.msgs.Load(number)
	return ok
}

// Below returns the largest existing number strictly smaller than n.
func (h *Heap) Below(n int64) (int64, bool) {
	h.orderMu.RLock()
	defer h.orderMu.RUnlock()
	return below(h.order, n)
}

// Maximum returns the highest number ever stored, 0 for an empty heap.
func (h *Heap) Maximum() int64 {
	return h.max.Load()
}

// Len returns the number of records.
func (h *Heap) Len() int {
	return h.msgs.Size()
}

// Numbers returns a snapshot of all existing numbers.
func (h *Heap) Numbers() *roaring64.Bitmap {
	h.orderMu.RLock()
	defer h.orderMu.RUnlock()
	return h.order.Clone()
}

// Descend yields all records from the newest to the oldest. Records added
// while iterating are seen if they are below the current position.
func (h *Heap) Descend() iter.Seq[*attr.Msg] {
	return func(yield func(*attr.Msg) bool) {
		cursor := int64(math.MaxInt64)
		for {
			n, ok := h.Below(cursor)
			if !ok {
				return
			}
			cursor = n
			m, ok := h.msgs.Load(n)
			if !ok {
				continue
			}
			if !yield(m) {
				return
			}
		}
	}
}

// --------------------------------------------------------------------------
// Postings
// --------------------------------------------------------------------------

// Tokenized reports whether a has word postings.
func (h *Heap) Tokenized(a attr.Attribute) bool {
	return h.tokenized[a]
}

// Postings returns a snapshot of the numbers whose attribute a carries value.
func (h *Heap) Postings(a attr.Attribute, value string) *roaring64.Bitmap {
	if p, ok := h.postings.Load(postingKey{a, value}); ok {
		return p.clone()
	}
	return roaring64.New()
}

// PostingBelow returns the largest number below n whose attribute a carries value.
func (h *Heap) PostingBelow(a attr.Attribute, value string, n int64) (int64, bool) {
	if p, ok := h.postings.Load(postingKey{a, value}); ok {
		return p.below(n)
	}
	return 0, false
}

// PostingHas reports whether attribute a of number carries value.
func (h *Heap) PostingHas(a attr.Attribute, value string, number int64) bool {
	if p, ok := h.postings.Load(postingKey{a, value}); ok {
		return p.contains(number)
	}
	return false
}

// WordPostings returns a snapshot of the numbers whose tokenized attribute a
// contains word.
func (h *Heap) WordPostings(a attr.Attribute, word string) *roaring64.Bitmap {
	if p, ok := h.words.Load(postingKey{a, word}); ok {
		return p.clone()
	}
	return roaring64.New()
}

// WordBelow returns the largest number below n whose attribute a contains word.
func (h *Heap) WordBelow(a attr.Attribute, word string, n int64) (int64, bool) {
	if p, ok := h.words.Load(postingKey{a, word}); ok {
		return p.below(n)
	}
	return 0, false
}

// Cardinality returns the size of the posting of (a, value).
func (h *Heap) Cardinality(a attr.Attribute, value string) uint64 {
	if p, ok := h.postings.Load(postingKey{a, value}); ok {
		return p.cardinality()
	}
	return 0
}

// Changed implements attr.Listener and keeps the postings in sync.
func (h *Heap) Changed(number int64, a attr.Attribute, added, removed, current []string) {
	for _, v := range removed {
		if p, ok := h.postings.Load(postingKey{a, v}); ok {
			p.remove(number)
		}
	}
	for _, v := range added {
		p, _ := h.postings.LoadOrCompute(postingKey{a, v}, newPosting)
		p.add(number)
	}

	if !h.tokenized[a] {
		return
	}

	// previous = current - added + removed
	prev := make(map[string]struct{}, len(current)+len(removed))
	for _, v := range current {
		prev[v] = struct{}{}
	}
	for _, v := range added {
		delete(prev, v)
	}
	for _, v := range removed {
		prev[v] = struct{}{}
	}

	before := wordSet(keys(prev))
	after := wordSet(current)
	for w := range before {
		if _, still := after[w]; !still {
			if p, ok := h.words.Load(postingKey{a, w}); ok {
				p.remove(number)
			}
		}
	}
	for w := range after {
		if _, had := before[w]; !had {
			p, _ := h.words.LoadOrCompute(postingKey{a, w}, newPosting)
			p.add(number)
		}
	}
}

func wordSet(values []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, v := range values {
		for _, w := range Words(v) {
			out[w] = struct{}{}
		}
	}
	return out
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

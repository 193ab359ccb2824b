package heap

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/ValentinKolb/infinity/lib/attr"
)

// postingKey addresses one posting list
type postingKey struct {
	attr  attr.Attribute
	value string
}

// posting is a lock-protected bitmap of message numbers
type posting struct {
	mu sync.RWMutex
	bm *roaring64.Bitmap
}

func newPosting() *posting {
	return &posting{bm: roaring64.New()}
}

func (p *posting) add(n int64) {
	p.mu.Lock()
	p.bm.Add(uint64(n))
	p.mu.Unlock()
}

func (p *posting) remove(n int64) {
	p.mu.Lock()
	p.bm.Remove(uint64(n))
	p.mu.Unlock()
}

func (p *posting) contains(n int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bm.Contains(uint64(n))
}

func (p *posting) below(n int64) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return below(p.bm, n)
}

func (p *posting) clone() *roaring64.Bitmap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bm.Clone()
}

func (p *posting) cardinality() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bm.GetCardinality()
}

// below returns the largest element of bm strictly smaller than n
func below(bm *roaring64.Bitmap, n int64) (int64, bool) {
	if n <= 1 {
		return 0, false
	}
	rank := bm.Rank(uint64(n - 1))
	if rank == 0 {
		return 0, false
	}
	v, err := bm.Select(rank - 1)
	if err != nil {
		return 0, false
	}
	return int64(v), true
}

package lstore

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
	"github.com/ValentinKolb/infinity/lib/query"
	"github.com/ValentinKolb/infinity/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

type storeImpl struct {
	heap    *heap.Heap
	reg     *query.Registry
	applied atomic.Uint64
}

// NewLocalStore creates an indexer over h. A nil reg means
// query.DefaultRegistry().
func NewLocalStore(h *heap.Heap, reg *query.Registry) store.IStore {
	if reg == nil {
		reg = query.DefaultRegistry()
	}
	return &storeImpl{
		heap: h,
		reg:  reg,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Heap() *heap.Heap { return s.heap }

func (s *storeImpl) Applied() uint64 { return s.applied.Load() }

func (s *storeImpl) See(ctx context.Context, n notice.Notice) error {
	if err := n.Validate(); err != nil {
		return store.Wrap(store.RetCInvalidNotice, err, "rejected %s", n.Name())
	}
	if err := ctx.Err(); err != nil {
		return store.Wrap(store.RetCInternalError, err, "%s", n.Name())
	}

	var err error
	switch v := n.(type) {
	case *notice.MessagePosted:
		err = s.posted(v)
	case *notice.MessageSeen:
		err = s.seen(v)
	case *notice.AliasAdded:
		err = s.alias(v)
	case *notice.BoutRenamed:
		err = s.renamed(v)
	case *notice.KickOff, *notice.Join:
		// participants only, handled by the hooks
	default:
		return store.Wrap(store.RetCInvalidNotice, notice.ErrUnknownKind, "%T", n)
	}
	if err != nil {
		return err
	}

	if err := s.reg.See(s, n); err != nil {
		return store.Wrap(store.RetCInternalError, err, "hooks of %s", n.Name())
	}
	s.applied.Add(1)
	log.Debugf("applied %s", n.Name())
	return nil
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *storeImpl) posted(n *notice.MessagePosted) error {
	m, err := s.heap.Msg(n.Message.Number)
	if err != nil {
		return store.Wrap(store.RetCInvalidNotice, err, "message:%d", n.Message.Number)
	}
	author := n.Message.Author
	m.Put(attr.Number, strconv.FormatInt(n.Message.Number, 10))
	m.Put(attr.Text, n.Message.Text)
	m.Put(attr.Date, stamp(n.Message.Date))
	m.Put(attr.AuthorName, string(author))
	m.Put(attr.AuthorNS, author.Namespace())
	m.Put(attr.BoutNumber, strconv.FormatInt(n.Bout.Number, 10))
	m.Put(attr.BoutTitle, n.Bout.Title)
	m.Put(attr.BoutDate, stamp(n.Bout.Date))
	for _, a := range s.heap.Aliases(string(author)) {
		m.Add(attr.AuthorAlias, a)
	}
	return nil
}

func (s *storeImpl) seen(n *notice.MessageSeen) error {
	if !s.heap.Has(n.Message.Number) {
		return store.NewError(store.RetCUnknownMessage, fmt.Sprintf("message:%d is not indexed", n.Message.Number))
	}
	return nil
}

func (s *storeImpl) alias(n *notice.AliasAdded) error {
	s.heap.AddAlias(string(n.Identity), n.Alias)
	bm := s.heap.Postings(attr.AuthorName, string(n.Identity))
	it := bm.Iterator()
	for it.HasNext() {
		if m, ok := s.heap.Lookup(int64(it.Next())); ok {
			m.Add(attr.AuthorAlias, n.Alias)
		}
	}
	return nil
}

func (s *storeImpl) renamed(n *notice.BoutRenamed) error {
	bm := s.heap.Postings(attr.BoutNumber, strconv.FormatInt(n.Bout.Number, 10))
	it := bm.Iterator()
	for it.HasNext() {
		if m, ok := s.heap.Lookup(int64(it.Next())); ok {
			m.Put(attr.BoutTitle, n.Bout.Title)
		}
	}
	return nil
}

// stamp renders a date as unix milliseconds, the form numeric predicates
// compare.
func stamp(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

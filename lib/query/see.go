package query

import (
	"strconv"

	"github.com/ValentinKolb/infinity/lib/attr"
	"github.com/ValentinKolb/infinity/lib/heap"
	"github.com/ValentinKolb/infinity/lib/notice"
)

// boutMessages yields the records of all indexed messages of a bout
func boutMessages(h *heap.Heap, bout int64, fn func(m *attr.Msg)) {
	bm := h.Postings(attr.BoutNumber, strconv.FormatInt(bout, 10))
	it := bm.Iterator()
	for it.HasNext() {
		if m, ok := h.Lookup(int64(it.Next())); ok {
			fn(m)
		}
	}
}

func seeBundled(env Env, n notice.Notice) error {
	h := env.Heap()
	switch v := n.(type) {
	case *notice.MessagePosted:
		m, err := h.Msg(v.Message.Number)
		if err != nil {
			return err
		}
		m.Put(attr.Bundle, v.Bout.Marker())
	case *notice.KickOff:
		marker := v.Bout.Marker()
		boutMessages(h, v.Bout.Number, func(m *attr.Msg) { m.Put(attr.Bundle, marker) })
	case *notice.Join:
		marker := v.Bout.Marker()
		boutMessages(h, v.Bout.Number, func(m *attr.Msg) { m.Put(attr.Bundle, marker) })
	}
	return nil
}

func seeTalksWith(env Env, n notice.Notice) error {
	h := env.Heap()
	switch v := n.(type) {
	case *notice.MessagePosted:
		m, err := h.Msg(v.Message.Number)
		if err != nil {
			return err
		}
		m.Clear(attr.TalksWith)
		for _, urn := range v.Bout.Identities() {
			m.Add(attr.TalksWith, urn)
		}
	case *notice.KickOff:
		boutMessages(h, v.Bout.Number, func(m *attr.Msg) { m.Remove(attr.TalksWith, string(v.Identity)) })
	case *notice.Join:
		boutMessages(h, v.Bout.Number, func(m *attr.Msg) { m.Add(attr.TalksWith, string(v.Identity)) })
	}
	return nil
}

func seeSeenBy(env Env, n notice.Notice) error {
	if v, ok := n.(*notice.MessageSeen); ok {
		m, err := env.Heap().Msg(v.Message.Number)
		if err != nil {
			return err
		}
		m.Add(attr.SeenBy, string(v.Identity))
	}
	return nil
}

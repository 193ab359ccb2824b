package source

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ValentinKolb/infinity/lib/notice"
)

// Memory is an in-process ISource.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	bouts    map[int64]notice.Bout
	messages map[int64]notice.Message
	byBout   map[int64][]int64
}

func NewMemory() *Memory {
	return &Memory{
		bouts:    make(map[int64]notice.Bout),
		messages: make(map[int64]notice.Message),
		byBout:   make(map[int64][]int64),
	}
}

// PutBout stores or replaces a bout.
func (s *Memory) PutBout(b notice.Bout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bouts[b.Number] = b
}

// PutMessage stores a message in a bout.
func (s *Memory) PutMessage(bout int64, m notice.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.Number]; !ok {
		s.byBout[bout] = append(s.byBout[bout], m.Number)
	}
	s.messages[m.Number] = m
}

func (s *Memory) BoutMessages(ctx context.Context, bout int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.bouts[bout]; !ok {
		return nil, fmt.Errorf("bout:%d: %w", bout, ErrNotFound)
	}
	out := slices.Clone(s.byBout[bout])
	slices.Sort(out)
	slices.Reverse(out)
	return out, nil
}

func (s *Memory) IdentityBouts(ctx context.Context, identity notice.Identity) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for n, b := range s.bouts {
		for _, p := range b.Participants {
			if p.Identity == identity {
				out = append(out, n)
				break
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *Memory) Message(ctx context.Context, number int64) (notice.Message, error) {
	if err := ctx.Err(); err != nil {
		return notice.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[number]
	if !ok {
		return notice.Message{}, fmt.Errorf("message:%d: %w", number, ErrNotFound)
	}
	return m, nil
}

func (s *Memory) Bout(ctx context.Context, number int64) (notice.Bout, error) {
	if err := ctx.Err(); err != nil {
		return notice.Bout{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bouts[number]
	if !ok {
		return notice.Bout{}, fmt.Errorf("bout:%d: %w", number, ErrNotFound)
	}
	b.Participants = slices.Clone(b.Participants)
	return b, nil
}

package store

import (
	"context"
	"errors"
	"sync"

	"barfeed/internal/events"
	"barfeed/internal/market"
)

const defaultMaxBars = 500

// MemoryBarStore keeps the most recent bars per symbol and bin in memory.
// It is a view for the HTTP layer; nothing is persisted.
type MemoryBarStore struct {
	mu   sync.RWMutex
	max  int
	data map[string][]market.Bar
}

func NewMemoryBarStore(max int) *MemoryBarStore {
	if max <= 0 {
		max = defaultMaxBars
	}
	return &MemoryBarStore{max: max, data: make(map[string][]market.Bar)}
}

func key(symbol, bin string) string { return symbol + "@" + bin }

// Put appends bars, replacing the last one when it has the same OpenEpoch.
func (s *MemoryBarStore) Put(_ context.Context, symbol, bin string, bars ...market.Bar) error {
	if symbol == "" || bin == "" {
		return errors.New("symbol/bin cannot be empty")
	}
	if len(bars) == 0 {
		return nil
	}
	k := key(symbol, bin)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data[k]
	for _, bar := range bars {
		n := len(cur)
		if n > 0 && cur[n-1].OpenEpoch == bar.OpenEpoch {
			cur[n-1] = bar
			continue
		}
		cur = append(cur, bar)
	}
	if len(cur) > s.max {
		cur = append([]market.Bar(nil), cur[len(cur)-s.max:]...)
	}
	s.data[k] = cur
	return nil
}

// Export returns up to limit of the newest bars, oldest first.
func (s *MemoryBarStore) Export(_ context.Context, symbol, bin string, limit int) ([]market.Bar, error) {
	if symbol == "" || bin == "" {
		return nil, errors.New("symbol/bin cannot be empty")
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := s.data[key(symbol, bin)]
	if limit > len(cur) {
		limit = len(cur)
	}
	out := make([]market.Bar, limit)
	copy(out, cur[len(cur)-limit:])
	return out, nil
}

// Handler subscribes the store to a bar stream.
func (s *MemoryBarStore) Handler(symbol, bin string) events.Handler {
	return func(ctx context.Context, bar market.Bar) error {
		return s.Put(ctx, symbol, bin, bar)
	}
}

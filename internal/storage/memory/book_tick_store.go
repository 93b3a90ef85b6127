package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/storage"
)

// BookTickStore is an in-memory implementation of storage.BookTickStore.
type BookTickStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.BookTick // keyed by token
}

// NewBookTickStore creates a new in-memory book tick store.
func NewBookTickStore() *BookTickStore {
	return &BookTickStore{
		data: make(map[string][]*domain.BookTick),
	}
}

// InsertBulk adds a batch of ticks.
func (s *BookTickStore) InsertBulk(_ context.Context, ticks []*domain.BookTick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range ticks {
		copy := *t
		s.data[t.Token] = append(s.data[t.Token], &copy)
	}
	return nil
}

// GetByTokenRange retrieves ticks for a token within [start, end], ordered
// by timestamp ascending.
func (s *BookTickStore) GetByTokenRange(_ context.Context, token string, start, end time.Time) ([]*domain.BookTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BookTick
	for _, t := range s.data[token] {
		if t.Timestamp.Before(start) || t.Timestamp.After(end) {
			continue
		}
		copy := *t
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Compile-time check that BookTickStore implements the interface.
var _ storage.BookTickStore = (*BookTickStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// WatchlistStore is an in-memory implementation of storage.WatchlistStore.
type WatchlistStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WatchEntry // keyed by address
}

// NewWatchlistStore creates a new in-memory watchlist store.
func NewWatchlistStore() *WatchlistStore {
	return &WatchlistStore{data: make(map[string]*domain.WatchEntry)}
}

// Compile-time interface check.
var _ storage.WatchlistStore = (*WatchlistStore)(nil)

// Add inserts a watch entry. Returns ErrDuplicateKey if the address exists.
func (s *WatchlistStore) Add(_ context.Context, e *domain.WatchEntry) error {
	if e == nil || e.Address == "" || !e.Protocol.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.Address]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	entryCopy := *e
	s.data[e.Address] = &entryCopy
	return nil
}

// Remove deletes a watch entry. Returns ErrNotFound if not watched.
func (s *WatchlistStore) Remove(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[address]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, address)
	return nil
}

// List returns all entries ordered by added_at ASC, address ASC.
func (s *WatchlistStore) List(_ context.Context) ([]*domain.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.WatchEntry, 0, len(s.data))
	for _, e := range s.data {
		entryCopy := *e
		out = append(out, &entryCopy)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

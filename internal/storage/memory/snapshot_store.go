package memory

import (
	"context"
	"sort"
	"sync"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// RiskSnapshotStore is an in-memory implementation of
// storage.RiskSnapshotStore.
type RiskSnapshotStore struct {
	mu   sync.RWMutex
	data []*domain.RiskSnapshot
}

// NewRiskSnapshotStore creates a new in-memory snapshot store.
func NewRiskSnapshotStore() *RiskSnapshotStore {
	return &RiskSnapshotStore{}
}

// Compile-time interface check.
var _ storage.RiskSnapshotStore = (*RiskSnapshotStore)(nil)

// InsertBulk appends a batch of snapshots.
func (s *RiskSnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.RiskSnapshot) error {
	for _, snap := range snapshots {
		if snap == nil || snap.PositionID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		snapCopy := *snap
		s.data = append(s.data, &snapCopy)
	}
	return nil
}

// GetByPosition retrieves snapshots for a position within [start, end]
// milliseconds inclusive, ordered by timestamp ASC.
func (s *RiskSnapshotStore) GetByPosition(_ context.Context, positionID string, start, end int64) ([]*domain.RiskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.RiskSnapshot
	for _, snap := range s.data {
		if snap.PositionID != positionID {
			continue
		}
		if snap.TimestampMs < start || snap.TimestampMs > end {
			continue
		}
		snapCopy := *snap
		out = append(out, &snapCopy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

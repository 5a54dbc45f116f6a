package memory

import (
	"context"
	"sort"
	"sync"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// AlertStore is an in-memory implementation of storage.AlertStore.
type AlertStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Alert // keyed by alert ID
}

// NewAlertStore creates a new in-memory alert store.
func NewAlertStore() *AlertStore {
	return &AlertStore{data: make(map[string]*domain.Alert)}
}

// Compile-time interface check.
var _ storage.AlertStore = (*AlertStore)(nil)

// Insert adds one alert. Returns ErrDuplicateKey if the alert ID exists.
func (s *AlertStore) Insert(_ context.Context, a *domain.Alert) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}
	alertCopy := *a
	s.data[a.ID] = &alertCopy
	return nil
}

// GetByPosition retrieves all alerts for a position, newest first.
func (s *AlertStore) GetByPosition(_ context.Context, positionID string) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Alert
	for _, a := range s.data {
		if a.PositionID == positionID {
			alertCopy := *a
			out = append(out, &alertCopy)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// GetRecent retrieves the latest alerts across positions, newest first.
func (s *AlertStore) GetRecent(_ context.Context, limit int) ([]*domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Alert, 0, len(s.data))
	for _, a := range s.data {
		alertCopy := *a
		out = append(out, &alertCopy)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortNewestFirst(alerts []*domain.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
		}
		return alerts[i].ID > alerts[j].ID
	})
}

package storage

import (
	"context"

	"solana-liq-monitor/internal/domain"
)

// WatchlistStore persists the set of watched accounts so the monitor
// resumes the same watchlist after a restart.
type WatchlistStore interface {
	// Add inserts a watch entry. Returns ErrDuplicateKey if the address
	// is already watched.
	Add(ctx context.Context, e *domain.WatchEntry) error

	// Remove deletes a watch entry. Returns ErrNotFound if not watched.
	Remove(ctx context.Context, address string) error

	// List returns all entries ordered by added_at ASC, address ASC.
	List(ctx context.Context) ([]*domain.WatchEntry, error)
}

// AlertStore persists dispatched alerts for later review.
type AlertStore interface {
	// Insert adds one alert. Returns ErrDuplicateKey if the alert ID exists.
	Insert(ctx context.Context, a *domain.Alert) error

	// GetByPosition retrieves all alerts for a position, newest first.
	GetByPosition(ctx context.Context, positionID string) ([]*domain.Alert, error)

	// GetRecent retrieves the latest alerts across positions, newest first.
	GetRecent(ctx context.Context, limit int) ([]*domain.Alert, error)
}

// RiskSnapshotStore archives per-cycle risk readings as a timeseries.
type RiskSnapshotStore interface {
	// InsertBulk appends a batch of snapshots.
	InsertBulk(ctx context.Context, snapshots []*domain.RiskSnapshot) error

	// GetByPosition retrieves snapshots for a position within
	// [start, end] milliseconds inclusive, ordered by timestamp ASC.
	GetByPosition(ctx context.Context, positionID string, start, end int64) ([]*domain.RiskSnapshot, error)
}

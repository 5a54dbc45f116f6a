package postgres

import (
	"context"
	"fmt"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage"
)

// WatchlistStore implements storage.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	pool *Pool
}

// NewWatchlistStore creates a new WatchlistStore.
func NewWatchlistStore(pool *Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatchlistStore = (*WatchlistStore)(nil)

// Add inserts a watch entry. Returns ErrDuplicateKey if the address exists.
func (s *WatchlistStore) Add(ctx context.Context, e *domain.WatchEntry) error {
	if e == nil || e.Address == "" || !e.Protocol.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO watchlist (address, protocol, label, added_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query, e.Address, string(e.Protocol), e.Label, e.AddedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert watch entry: %w", err)
	}
	return nil
}

// Remove deletes a watch entry. Returns ErrNotFound if not watched.
func (s *WatchlistStore) Remove(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watchlist WHERE address = $1`, address)
	if err != nil {
		return fmt.Errorf("delete watch entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns all entries ordered by added_at ASC, address ASC.
func (s *WatchlistStore) List(ctx context.Context) ([]*domain.WatchEntry, error) {
	query := `
		SELECT address, protocol, label, added_at
		FROM watchlist
		ORDER BY added_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()

	var out []*domain.WatchEntry
	for rows.Next() {
		var e domain.WatchEntry
		var protocol string
		if err := rows.Scan(&e.Address, &protocol, &e.Label, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan watch entry: %w", err)
		}
		e.Protocol = domain.Protocol(protocol)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watchlist: %w", err)
	}
	return out, nil
}

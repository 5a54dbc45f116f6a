package decode

import (
	"context"
	"fmt"
	"sync"

	"solana-liq-monitor/internal/domain"
)

// ReserveFetcher loads the raw bytes of a reserve/bank/market account.
type ReserveFetcher func(ctx context.Context, address string) ([]byte, error)

// ReserveCache holds normalized reserve records keyed by account address.
// It is read by many callers and written only by Refresh; entries are
// replaced wholesale so readers never observe a torn record. One cache
// object per process, passed by reference.
type ReserveCache struct {
	mu       sync.RWMutex
	reserves map[string]*domain.Reserve
}

// NewReserveCache creates an empty reserve cache.
func NewReserveCache() *ReserveCache {
	return &ReserveCache{reserves: make(map[string]*domain.Reserve)}
}

// Get returns the cached reserve for an address, or nil when absent.
func (c *ReserveCache) Get(address string) *domain.Reserve {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reserves[address]
}

// Put stores a reserve record, replacing any previous entry wholesale.
func (c *ReserveCache) Put(r *domain.Reserve) {
	c.mu.Lock()
	c.reserves[r.Address] = r
	c.mu.Unlock()
}

// ByMint returns a cached reserve holding the given underlying mint, or
// nil when none is cached. When several protocols carry the same mint any
// one of them is returned; their prices track the same asset.
func (c *ReserveCache) ByMint(mint string) *domain.Reserve {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.reserves {
		if r.Mint == mint {
			return r
		}
	}
	return nil
}

// Len returns the number of cached reserves.
func (c *ReserveCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reserves)
}

// Refresh re-fetches and re-decodes one reserve account through the given
// decoder, replacing the cached entry on success.
func (c *ReserveCache) Refresh(ctx context.Context, address string, fetch ReserveFetcher, dec ReserveDecoder) error {
	data, err := fetch(ctx, address)
	if err != nil {
		return fmt.Errorf("fetch reserve %s: %w", address, err)
	}
	reserve, err := dec.DecodeReserve(data, address)
	if err != nil {
		return err
	}
	c.Put(reserve)
	return nil
}

// PriceFn resolves a mint's current USD price. The second return is false
// when no price is available.
type PriceFn func(mint string) (float64, bool)

// Package oracle resolves asset USD prices with a TTL cache and a
// last-known-price fallback so risk computation is never blocked on a slow
// or unavailable price source.
package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrPriceUnavailable is returned when no source and no cached price can
// serve a mint.
var ErrPriceUnavailable = errors.New("price unavailable")

// Source fetches a mint's current USD price from an external provider.
type Source func(ctx context.Context, mint string) (float64, error)

// entry is one cached price. Entries are replaced wholesale.
type entry struct {
	price     float64
	fetchedAt time.Time
}

// Resolver caches prices per mint with a TTL. One resolver per process,
// passed by reference into decoders and the risk engine.
type Resolver struct {
	source Source
	ttl    time.Duration
	clock  func() time.Time
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]entry
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithTTL sets the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.clock = now }
}

// NewResolver creates a price resolver around a source.
func NewResolver(source Source, log *zap.SugaredLogger, opts ...Option) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Resolver{
		source: source,
		ttl:    30 * time.Second,
		clock:  time.Now,
		log:    log.Named("oracle"),
		cache:  make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the mint's USD price, serving from cache while fresh and
// falling back to the last known price when the source fails.
func (r *Resolver) Resolve(ctx context.Context, mint string) (float64, error) {
	now := r.clock()

	r.mu.RLock()
	cached, ok := r.cache[mint]
	r.mu.RUnlock()

	if ok && now.Sub(cached.fetchedAt) < r.ttl {
		return cached.price, nil
	}

	if r.source != nil {
		price, err := r.source(ctx, mint)
		if err == nil {
			r.mu.Lock()
			r.cache[mint] = entry{price: price, fetchedAt: now}
			r.mu.Unlock()
			return price, nil
		}
		r.log.Warnw("price source failed", "mint", mint, "error", err)
	}

	// Stale price beats no price
	if ok {
		return cached.price, nil
	}
	return 0, ErrPriceUnavailable
}

// ResolveOrDefault resolves with a caller-supplied default when nothing is
// available.
func (r *Resolver) ResolveOrDefault(ctx context.Context, mint string, def float64) float64 {
	price, err := r.Resolve(ctx, mint)
	if err != nil {
		return def
	}
	return price
}

// Seed stores a price directly, bypassing the source. Used at startup and
// by reserve refreshes that already carry oracle prices.
func (r *Resolver) Seed(mint string, price float64) {
	r.mu.Lock()
	r.cache[mint] = entry{price: price, fetchedAt: r.clock()}
	r.mu.Unlock()
}

// PriceFn adapts the resolver to the decoder-facing lookup signature.
func (r *Resolver) PriceFn(ctx context.Context) func(mint string) (float64, bool) {
	return func(mint string) (float64, bool) {
		price, err := r.Resolve(ctx, mint)
		if err != nil {
			return 0, false
		}
		return price, true
	}
}

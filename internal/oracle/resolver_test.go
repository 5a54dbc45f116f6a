package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	price float64
	err   error
	calls int
}

func (f *fakeSource) fn(_ context.Context, _ string) (float64, error) {
	f.calls++
	return f.price, f.err
}

func TestResolveCachesWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	src := &fakeSource{price: 150}
	r := NewResolver(src.fn, nil,
		WithTTL(30*time.Second),
		WithClock(func() time.Time { return now }),
	)

	price, err := r.Resolve(context.Background(), "sol")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-9)
	assert.Equal(t, 1, src.calls)

	// Fresh cache entries do not hit the source again.
	now = now.Add(10 * time.Second)
	src.price = 160
	price, err = r.Resolve(context.Background(), "sol")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-9)
	assert.Equal(t, 1, src.calls)

	// Past the TTL the source is consulted and the cache refreshed.
	now = now.Add(25 * time.Second)
	price, err = r.Resolve(context.Background(), "sol")
	require.NoError(t, err)
	assert.InDelta(t, 160.0, price, 1e-9)
	assert.Equal(t, 2, src.calls)
}

func TestResolveFallsBackToStalePrice(t *testing.T) {
	now := time.Unix(1000, 0)
	src := &fakeSource{price: 150}
	r := NewResolver(src.fn, nil,
		WithTTL(time.Second),
		WithClock(func() time.Time { return now }),
	)

	_, err := r.Resolve(context.Background(), "sol")
	require.NoError(t, err)

	// The source fails well after expiry: the stale price still serves.
	now = now.Add(time.Hour)
	src.err = errors.New("provider down")
	price, err := r.Resolve(context.Background(), "sol")
	require.NoError(t, err)
	assert.InDelta(t, 150.0, price, 1e-9)
}

func TestResolveUnavailable(t *testing.T) {
	src := &fakeSource{err: errors.New("provider down")}
	r := NewResolver(src.fn, nil)

	_, err := r.Resolve(context.Background(), "sol")
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	r = NewResolver(nil, nil)
	_, err = r.Resolve(context.Background(), "sol")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestResolveOrDefault(t *testing.T) {
	r := NewResolver(nil, nil)
	assert.InDelta(t, 1.0, r.ResolveOrDefault(context.Background(), "usdc", 1.0), 1e-9)

	r.Seed("usdc", 0.999)
	assert.InDelta(t, 0.999, r.ResolveOrDefault(context.Background(), "usdc", 1.0), 1e-9)
}

func TestSeedBypassesSource(t *testing.T) {
	src := &fakeSource{price: 150}
	r := NewResolver(src.fn, nil)

	r.Seed("sol", 140)
	price, err := r.Resolve(context.Background(), "sol")
	require.NoError(t, err)
	assert.InDelta(t, 140.0, price, 1e-9)
	assert.Zero(t, src.calls)
}

func TestPriceFn(t *testing.T) {
	r := NewResolver(nil, nil)
	fn := r.PriceFn(context.Background())

	_, ok := fn("sol")
	assert.False(t, ok)

	r.Seed("sol", 150)
	price, ok := fn("sol")
	assert.True(t, ok)
	assert.InDelta(t, 150.0, price, 1e-9)
}

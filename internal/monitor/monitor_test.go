package monitor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-liq-monitor/internal/decode"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/observability"
	"solana-liq-monitor/internal/solana"
)

type fakeWS struct {
	mu           sync.Mutex
	chans        map[string]chan solana.AccountNotification
	unsubscribed []string
}

func newFakeWS() *fakeWS {
	return &fakeWS{chans: make(map[string]chan solana.AccountNotification)}
}

func (f *fakeWS) SubscribeAccount(_ context.Context, address string) (<-chan solana.AccountNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan solana.AccountNotification, 16)
	f.chans[address] = ch
	return ch, nil
}

func (f *fakeWS) UnsubscribeAccount(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, address)
	return nil
}

func (f *fakeWS) Connected() bool { return true }
func (f *fakeWS) Close() error    { return nil }

func (f *fakeWS) push(address string, n solana.AccountNotification) {
	f.mu.Lock()
	ch := f.chans[address]
	f.mu.Unlock()
	ch <- n
}

type fakeRPC struct {
	mu              sync.Mutex
	accounts        map[string]*solana.AccountInfo
	failAddrs       map[string]bool
	programAccounts map[string][]solana.KeyedAccount
	programErr      error
	programCalls    int
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		accounts:        make(map[string]*solana.AccountInfo),
		failAddrs:       make(map[string]bool),
		programAccounts: make(map[string][]solana.KeyedAccount),
	}
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, address string) (*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[address], nil
}

func (f *fakeRPC) GetMultipleAccounts(_ context.Context, addresses []string) ([]*solana.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*solana.AccountInfo, len(addresses))
	for i, a := range addresses {
		if f.failAddrs[a] {
			return nil, errors.New("rpc node unavailable")
		}
		out[i] = f.accounts[a]
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccounts(_ context.Context, programID string, _ *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programCalls++
	if f.programErr != nil {
		return nil, f.programErr
	}
	return f.programAccounts[programID], nil
}

func (f *fakeRPC) programCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.programCalls
}

func (f *fakeRPC) GetHealth(_ context.Context) error { return nil }

// stubDecoder serves canned position sets per account address.
type stubDecoder struct {
	protocol  domain.Protocol
	mu        sync.Mutex
	positions map[string][]*domain.Position
}

func newStubDecoder(p domain.Protocol) *stubDecoder {
	return &stubDecoder{protocol: p, positions: make(map[string][]*domain.Position)}
}

func (d *stubDecoder) Protocol() domain.Protocol { return d.protocol }

func (d *stubDecoder) Positions(data []byte, address string, _ *decode.ReserveCache, _ decode.PriceFn) ([]*domain.Position, error) {
	if string(data) == "bad" {
		return nil, errors.New("corrupt account data")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positions[address], nil
}

func (d *stubDecoder) set(address string, positions []*domain.Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.positions[address] = positions
}

// stubReserveDecoder is a stubDecoder whose reserve accounts can be
// discovered by data-size scan.
type stubReserveDecoder struct {
	*stubDecoder
	reserveLen int
}

func (d *stubReserveDecoder) ReserveLen() int { return d.reserveLen }

func (d *stubReserveDecoder) DecodeReserve(data []byte, address string) (*domain.Reserve, error) {
	if string(data) == "corrupt" {
		return nil, &decode.DecodeError{
			Kind: decode.ErrBadDiscriminator, Protocol: d.protocol, Account: address,
		}
	}
	return &domain.Reserve{
		Address:              address,
		Protocol:             d.protocol,
		Mint:                 "mint-" + address,
		LiquidationThreshold: 0.85,
	}, nil
}

// testAddr builds a watchable address from a repeated fill byte. Fills 1, 3,
// 6 and 9 decode to ed25519 curve points; 2 does not.
func testAddr(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

func testPos(account string, hf float64) *domain.Position {
	return &domain.Position{
		ID:           domain.PositionID(domain.ProtocolMarginfi, account),
		Protocol:     domain.ProtocolMarginfi,
		Account:      account,
		HealthFactor: hf,
		Collateral: []domain.CollateralEntry{
			{Mint: "So11111111111111111111111111111111111111112", Amount: 1, ValueUSD: 150},
		},
		Debt: []domain.DebtEntry{
			{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: 100, ValueUSD: 100},
		},
	}
}

type harness struct {
	m   *Monitor
	ws  *fakeWS
	rpc *fakeRPC
	dec *stubDecoder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws := newFakeWS()
	rpc := newFakeRPC()
	dec := newStubDecoder(domain.ProtocolMarginfi)

	registry := decode.NewRegistry()
	registry.Register(decode.MarginfiProgram, dec)

	m := New(rpc, ws, registry, decode.NewReserveCache(), nil, zap.NewNop())
	t.Cleanup(m.Stop)
	return &harness{m: m, ws: ws, rpc: rpc, dec: dec}
}

func waitEvent(t *testing.T, ch <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return domain.ChangeEvent{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan domain.ChangeEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s for %s", ev.Kind, ev.Position.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatchRejectsBadAddress(t *testing.T) {
	h := newHarness(t)
	err := h.m.Watch(context.Background(), domain.ProtocolMarginfi, "not-base58!!")
	require.Error(t, err)
}

func TestWatchRejectsOffCurveAddress(t *testing.T) {
	h := newHarness(t)
	err := h.m.Watch(context.Background(), domain.ProtocolMarginfi, testAddr(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ed25519")
}

func TestWatchRejectsUnknownProtocol(t *testing.T) {
	h := newHarness(t)
	err := h.m.Watch(context.Background(), domain.Protocol("SOLEND"), testAddr(1))
	require.Error(t, err)
}

func TestNotificationLifecycle(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	// Position appears.
	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok"), Slot: 100})

	ev := waitEvent(t, h.m.Events())
	assert.Equal(t, domain.ChangeCreated, ev.Kind)
	assert.Equal(t, int64(100), ev.Slot)
	assert.InDelta(t, 1.5, ev.Position.HealthFactor, 1e-12)

	// Health factor moves.
	h.dec.set(addr, []*domain.Position{testPos(addr, 1.2)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok"), Slot: 101})

	ev = waitEvent(t, h.m.Events())
	assert.Equal(t, domain.ChangeUpdated, ev.Kind)
	require.NotNil(t, ev.Previous)
	assert.InDelta(t, 1.5, ev.Previous.HealthFactor, 1e-12)
	assert.InDelta(t, 1.2, ev.Position.HealthFactor, 1e-12)

	// Account closes: exactly one Deleted, position leaves ListAll.
	h.ws.push(addr, solana.AccountNotification{Address: addr, Deleted: true, Slot: 102})

	ev = waitEvent(t, h.m.Events())
	assert.Equal(t, domain.ChangeDeleted, ev.Kind)
	assertNoEvent(t, h.m.Events())
	assert.Empty(t, h.m.ListAll())
}

func TestSubEpsilonChangeEmitsNothing(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	waitEvent(t, h.m.Events())

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5+1e-12)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	assertNoEvent(t, h.m.Events())
}

func TestDecodeErrorKeepsPreviousSnapshot(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	waitEvent(t, h.m.Events())

	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("bad")})
	assertNoEvent(t, h.m.Events())
	require.Len(t, h.m.ListAll(), 1)
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	var received int
	var mu sync.Mutex
	h.m.OnChange(func(domain.ChangeEvent) { panic("handler bug") })
	h.m.OnChange(func(domain.ChangeEvent) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	waitEvent(t, h.m.Events())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)
}

func TestUnwatchDropsPositions(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	waitEvent(t, h.m.Events())

	require.NoError(t, h.m.Unwatch(ctx, addr))
	assert.Empty(t, h.m.ListAll())
	assert.Contains(t, h.ws.unsubscribed, addr)

	require.Error(t, h.m.Unwatch(ctx, addr), "second unwatch fails")
}

func TestFetchAllIsolatesProtocolFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	kaminoDec := newStubDecoder(domain.ProtocolKamino)
	// Replace the real kamino decoder with the stub.
	registry := decode.NewRegistry()
	registry.Register(decode.MarginfiProgram, h.dec)
	registry.Register(decode.KaminoProgram, kaminoDec)
	m := New(h.rpc, h.ws, registry, decode.NewReserveCache(), nil, zap.NewNop())
	defer m.Stop()

	good := testAddr(1)
	broken := testAddr(3)
	require.NoError(t, m.Watch(ctx, domain.ProtocolMarginfi, good))
	require.NoError(t, m.Watch(ctx, domain.ProtocolKamino, broken))

	h.rpc.accounts[good] = &solana.AccountInfo{Address: good, Data: []byte("ok"), Slot: 5}
	h.rpc.failAddrs[broken] = true
	h.dec.set(good, []*domain.Position{testPos(good, 1.5)})

	positions, errs := m.FetchAll(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionID(domain.ProtocolMarginfi, good), positions[0].ID)
	require.Len(t, errs, 1)
	assert.Error(t, errs[domain.ProtocolKamino])
}

func TestRefreshReservesPopulatesCache(t *testing.T) {
	ws := newFakeWS()
	rpc := newFakeRPC()
	src := &stubReserveDecoder{
		stubDecoder: newStubDecoder(domain.ProtocolMarginfi),
		reserveLen:  184,
	}

	registry := decode.NewRegistry()
	registry.Register(decode.MarginfiProgram, src)
	// A decoder without reserve discovery is skipped, not an error.
	registry.Register(decode.KaminoProgram, newStubDecoder(domain.ProtocolKamino))

	rpc.programAccounts[decode.MarginfiProgram] = []solana.KeyedAccount{
		{Pubkey: "bankA", Account: solana.AccountInfo{Data: []byte("ok")}},
		{Pubkey: "bankB", Account: solana.AccountInfo{Data: []byte("ok")}},
		{Pubkey: "bankC", Account: solana.AccountInfo{Data: []byte("corrupt")}},
	}

	metrics := observability.NewMetrics("t_monitor_refresh")
	cache := decode.NewReserveCache()
	m := New(rpc, ws, registry, cache, nil, zap.NewNop(), WithMetrics(metrics))
	defer m.Stop()

	require.NoError(t, m.RefreshReserves(context.Background()))
	assert.Equal(t, 2, cache.Len(), "corrupt reserve skipped")
	require.NotNil(t, cache.Get("bankA"))
	assert.Equal(t, "mint-bankA", cache.Get("bankA").Mint)
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(metrics.DecodeErrors.WithLabelValues("MARGINFI", "BAD_DISCRIMINATOR")), 1e-9)
}

func TestRefreshReservesSurfacesRPCError(t *testing.T) {
	ws := newFakeWS()
	rpc := newFakeRPC()
	rpc.programErr = errors.New("rpc node unavailable")
	src := &stubReserveDecoder{
		stubDecoder: newStubDecoder(domain.ProtocolMarginfi),
		reserveLen:  184,
	}

	registry := decode.NewRegistry()
	registry.Register(decode.MarginfiProgram, src)

	cache := decode.NewReserveCache()
	m := New(rpc, ws, registry, cache, nil, zap.NewNop())
	defer m.Stop()

	err := m.RefreshReserves(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc node unavailable")
	assert.Zero(t, cache.Len())
}

func TestFullEventChannelCountsDrops(t *testing.T) {
	h := newHarness(t)
	metrics := observability.NewMetrics("t_monitor_drops")
	WithMetrics(metrics)(h.m)

	ev := domain.ChangeEvent{Kind: domain.ChangeUpdated, Position: testPos(testAddr(1), 1.5)}
	for i := 0; i < defaultEventBuffer+3; i++ {
		h.m.emit(ev, nil)
	}

	assert.InDelta(t, 3.0, testutil.ToFloat64(metrics.ChangeEventsDropped), 1e-9)
}

func TestFetchAllMissingAccountDeletesPositions(t *testing.T) {
	h := newHarness(t)
	addr := testAddr(1)
	ctx := context.Background()

	require.NoError(t, h.m.Watch(ctx, domain.ProtocolMarginfi, addr))
	require.NoError(t, h.m.Start(ctx))

	h.dec.set(addr, []*domain.Position{testPos(addr, 1.5)})
	h.ws.push(addr, solana.AccountNotification{Address: addr, Data: []byte("ok")})
	waitEvent(t, h.m.Events())

	// Account vanished between polls.
	positions, errs := h.m.FetchAll(ctx)
	assert.Empty(t, positions)
	assert.Empty(t, errs)

	ev := waitEvent(t, h.m.Events())
	assert.Equal(t, domain.ChangeDeleted, ev.Kind)
	assert.Empty(t, h.m.ListAll())
}

package coordinator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-liq-monitor/internal/alerting"
	"solana-liq-monitor/internal/decode"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/monitor"
	"solana-liq-monitor/internal/oracle"
	"solana-liq-monitor/internal/risk"
	"solana-liq-monitor/internal/solana"
	"solana-liq-monitor/internal/storage/memory"
)

type fakeWS struct {
	mu    sync.Mutex
	chans map[string]chan solana.AccountNotification
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

func (f *fakeWS) UnsubscribeAccount(context.Context, string) error { return nil }
func (f *fakeWS) Connected() bool                                  { return true }
func (f *fakeWS) Close() error                                     { return nil }

type fakeRPC struct {
	mu           sync.Mutex
	accounts     map[string]*solana.AccountInfo
	healthy      bool
	programCalls int
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
		out[i] = f.accounts[a]
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccounts(context.Context, string, *solana.ProgramAccountsOpts) ([]solana.KeyedAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.programCalls++
	return nil, nil
}

func (f *fakeRPC) programCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.programCalls
}

func (f *fakeRPC) GetHealth(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return errors.New("node behind")
	}
	return nil
}

type stubDecoder struct {
	mu        sync.Mutex
	positions map[string][]*domain.Position
}

func (d *stubDecoder) Protocol() domain.Protocol { return domain.ProtocolMarginfi }

func (d *stubDecoder) Positions(_ []byte, address string, _ *decode.ReserveCache, _ decode.PriceFn) ([]*domain.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positions[address], nil
}

func (d *stubDecoder) ReserveLen() int { return 184 }

func (d *stubDecoder) DecodeReserve(_ []byte, address string) (*domain.Reserve, error) {
	return &domain.Reserve{Address: address, Protocol: domain.ProtocolMarginfi}, nil
}

type fixture struct {
	coord  *Coordinator
	dec    *stubDecoder
	rpc    *fakeRPC
	alerts *memory.AlertStore
	snaps  *memory.RiskSnapshotStore
	sink   *captureSink
	addr   string
}

type captureSink struct {
	mu   sync.Mutex
	sent []*domain.Alert
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Send(_ context.Context, a *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	addr := base58.Encode(bytes.Repeat([]byte{9}, 32))
	dec := &stubDecoder{positions: make(map[string][]*domain.Position)}
	rpc := &fakeRPC{
		accounts: map[string]*solana.AccountInfo{
			addr: {Address: addr, Data: []byte("x"), Slot: 1},
		},
		healthy: true,
	}
	ws := newFakeWS()

	registry := decode.NewRegistry()
	registry.Register(decode.MarginfiProgram, dec)

	log := zap.NewNop()
	mon := monitor.New(rpc, ws, registry, decode.NewReserveCache(), nil, log)
	require.NoError(t, mon.Watch(context.Background(), domain.ProtocolMarginfi, addr))
	t.Cleanup(mon.Stop)

	engine := risk.NewEngine(risk.DefaultConfig(), log.Sugar())

	sink := &captureSink{}
	alertMgr := alerting.NewManager(alerting.DefaultThresholds(), log)
	alertMgr.AddSink(sink, alerting.SinkConfig{Name: "capture"})

	prices := oracle.NewResolver(func(context.Context, string) (float64, error) {
		return 100.0, nil
	}, log.Sugar())

	alertStore := memory.NewAlertStore()
	snapStore := memory.NewRiskSnapshotStore()

	coord := New(Config{PollInterval: time.Hour}, mon, engine, alertMgr, prices, nil, log,
		WithPersistence(alertStore, snapStore),
		WithTransportHealth(ws, rpc),
	)

	return &fixture{
		coord:  coord,
		dec:    dec,
		rpc:    rpc,
		alerts: alertStore,
		snaps:  snapStore,
		sink:   sink,
		addr:   addr,
	}
}

func riskyPosition(addr string) *domain.Position {
	return &domain.Position{
		ID:                   domain.PositionID(domain.ProtocolMarginfi, addr),
		Protocol:             domain.ProtocolMarginfi,
		Account:              addr,
		HealthFactor:         1.02,
		LiquidationThreshold: 0.8,
		Collateral: []domain.CollateralEntry{
			{Mint: "So11111111111111111111111111111111111111112", Amount: 1, ValueUSD: 102, PriceUSD: 102},
		},
		Debt: []domain.DebtEntry{
			{Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Amount: 100, ValueUSD: 100},
		},
	}
}

func healthyPosition(addr string) *domain.Position {
	p := riskyPosition(addr)
	p.HealthFactor = 2.0
	p.Collateral[0].ValueUSD = 250
	return p
}

func TestCycleScoresAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dec.positions[f.addr] = []*domain.Position{riskyPosition(f.addr)}
	f.coord.runCycle(ctx)

	statuses := f.coord.Statuses()
	require.Len(t, statuses, 1)
	for _, s := range statuses {
		require.Empty(t, s.NotComputed)
		require.NotNil(t, s.Score)
		assert.Equal(t, domain.RiskCritical, s.Score.Level)
		require.NotNil(t, s.Prediction)
	}

	assert.GreaterOrEqual(t, f.sink.count(), 1, "critical alert delivered")

	persisted, err := f.alerts.GetRecent(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, persisted, "alert persisted")

	for id := range statuses {
		snaps, err := f.snaps.GetByPosition(ctx, id, 0, time.Now().UnixMilli()+1)
		require.NoError(t, err)
		assert.Len(t, snaps, 1, "snapshot archived")
	}
}

func TestHealthyCycleFiresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dec.positions[f.addr] = []*domain.Position{healthyPosition(f.addr)}
	f.coord.runCycle(ctx)

	assert.Equal(t, 0, f.sink.count())
	require.Len(t, f.coord.Statuses(), 1)
}

func TestHealthReporting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.dec.positions[f.addr] = []*domain.Position{healthyPosition(f.addr)}
	f.coord.runCycle(ctx)

	h := f.coord.Health(ctx)
	assert.True(t, h.LastCycleOK)
	assert.Equal(t, int64(1), h.CyclesRun)
	assert.Equal(t, 1, h.PositionsTracked)
	assert.True(t, h.TransportConnected)
	assert.True(t, h.RPCHealthy)

	f.rpc.mu.Lock()
	f.rpc.healthy = false
	f.rpc.mu.Unlock()
	assert.False(t, f.coord.Health(ctx).RPCHealthy)
}

func TestDeletedChangeEventRemovesStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := healthyPosition(f.addr)
	f.dec.positions[f.addr] = []*domain.Position{pos}
	f.coord.runCycle(ctx)
	require.Len(t, f.coord.Statuses(), 1)

	f.coord.handleChange(ctx, domain.ChangeEvent{Kind: domain.ChangeDeleted, Position: pos})
	assert.Empty(t, f.coord.Statuses())
}

func TestChangeEventReevaluatesImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pos := riskyPosition(f.addr)
	f.coord.handleChange(ctx, domain.ChangeEvent{Kind: domain.ChangeCreated, Position: pos})

	statuses := f.coord.Statuses()
	require.Len(t, statuses, 1)
	assert.GreaterOrEqual(t, f.sink.count(), 1)
}

func TestRunRefreshesReservesPeriodically(t *testing.T) {
	f := newFixture(t)
	f.coord.cfg.ReserveRefreshInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.coord.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.rpc.programCallCount() >= 3 },
		2*time.Second, 5*time.Millisecond, "reserve discovery ticks")
	cancel()
	<-done
}

// orderLog records trail and sink activity in call order.
type orderLog struct {
	mu     sync.Mutex
	events []string
}

func (l *orderLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type orderedTrail struct{ log *orderLog }

func (t *orderedTrail) Commit(context.Context, []byte) error {
	t.log.add("commit")
	return nil
}

func (t *orderedTrail) Reveal(context.Context, []byte) error {
	t.log.add("reveal")
	return nil
}

type orderedSink struct{ log *orderLog }

func (s *orderedSink) Name() string { return "ordered" }

func (s *orderedSink) Send(context.Context, *domain.Alert) error {
	s.log.add("send")
	return nil
}

func TestDispatchCommitsBeforeDeliveryRevealsAfter(t *testing.T) {
	f := newFixture(t)
	ol := &orderLog{}
	WithAuditTrail(&orderedTrail{log: ol})(f.coord)

	mgr := alerting.NewManager(alerting.DefaultThresholds(), zap.NewNop())
	mgr.AddSink(&orderedSink{log: ol}, alerting.SinkConfig{Name: "ordered"})
	f.coord.alerts = mgr

	f.coord.dispatch(context.Background(), &domain.Alert{
		ID:   "a1",
		Type: domain.AlertCritical,
	})

	assert.Equal(t, []string{"commit", "send", "reveal"}, ol.snapshot())
}

// Package monitor tracks lending positions for watched accounts, keeps a
// live snapshot set, and emits change events derived by field-level diffing.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"solana-liq-monitor/internal/decode"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/observability"
	"solana-liq-monitor/internal/solana"
)

const defaultEventBuffer = 256

// Handler receives position change events. Handlers run on the monitor's
// delivery goroutine; a panicking handler is recovered and logged and never
// stops delivery to the remaining handlers.
type Handler func(domain.ChangeEvent)

// Monitor watches protocol user accounts over the subscription transport,
// decodes notifications into positions and publishes Created/Updated/Deleted
// events. Safe for concurrent use.
type Monitor struct {
	rpc      solana.RPCClient
	ws       solana.WSClient
	registry *decode.Registry
	reserves *decode.ReserveCache
	price    decode.PriceFn
	metrics  *observability.Metrics
	log      *zap.SugaredLogger

	mu        sync.Mutex
	watched   map[string]domain.Protocol // account address -> protocol
	positions map[string]*domain.Position
	handlers  []Handler
	cancels   map[string]context.CancelFunc
	running   bool
	dropped   int64

	events chan domain.ChangeEvent
	wg     sync.WaitGroup
}

// Option configures optional monitor dependencies.
type Option func(*Monitor)

// WithMetrics attaches decode and delivery counters.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// New creates a position monitor.
func New(rpc solana.RPCClient, ws solana.WSClient, registry *decode.Registry, reserves *decode.ReserveCache, price decode.PriceFn, log *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		rpc:       rpc,
		ws:        ws,
		registry:  registry,
		reserves:  reserves,
		price:     price,
		log:       log.Sugar().Named("monitor"),
		watched:   make(map[string]domain.Protocol),
		positions: make(map[string]*domain.Position),
		cancels:   make(map[string]context.CancelFunc),
		events:    make(chan domain.ChangeEvent, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch adds an account to the watch set. When the monitor is running the
// subscription starts immediately; otherwise it starts on Start. Watching
// an already-watched address is a no-op.
func (m *Monitor) Watch(ctx context.Context, protocol domain.Protocol, address string) error {
	if !protocol.IsValid() {
		return fmt.Errorf("unknown protocol %q", protocol)
	}
	if err := solana.ValidatePubkey(address); err != nil {
		return fmt.Errorf("watch %s: %w", address, err)
	}

	m.mu.Lock()
	if _, ok := m.watched[address]; ok {
		m.mu.Unlock()
		return nil
	}
	m.watched[address] = protocol
	running := m.running
	m.mu.Unlock()

	if running {
		return m.subscribe(ctx, address, protocol)
	}
	return nil
}

// Unwatch removes an account from the watch set and drops its positions
// without emitting deletion events; removal is an operator action, not a
// chain event.
func (m *Monitor) Unwatch(ctx context.Context, address string) error {
	m.mu.Lock()
	_, ok := m.watched[address]
	delete(m.watched, address)
	if cancel, active := m.cancels[address]; active {
		cancel()
		delete(m.cancels, address)
	}
	for id, p := range m.positions {
		if p.Account == address {
			delete(m.positions, id)
		}
	}
	running := m.running
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("address %s is not watched", address)
	}
	if running {
		if err := m.ws.UnsubscribeAccount(ctx, address); err != nil {
			m.log.Warnw("unsubscribe failed", "address", address, "error", err)
		}
	}
	return nil
}

// OnChange registers a change handler. Must be called before Start.
func (m *Monitor) OnChange(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Events returns the bounded event channel. When consumers fall behind,
// events are dropped and counted rather than blocking decode.
func (m *Monitor) Events() <-chan domain.ChangeEvent {
	return m.events
}

// Start subscribes every watched account and begins delivering events.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	addrs := make(map[string]domain.Protocol, len(m.watched))
	for a, p := range m.watched {
		addrs[a] = p
	}
	m.mu.Unlock()

	for addr, protocol := range addrs {
		if err := m.subscribe(ctx, addr, protocol); err != nil {
			m.log.Errorw("initial subscribe failed", "address", addr, "error", err)
		}
	}

	// Seed the snapshot set; existing positions surface as Created events.
	if _, errs := m.FetchAll(ctx); len(errs) > 0 {
		for p, err := range errs {
			m.log.Warnw("initial fetch failed", "protocol", p, "error", err)
		}
	}
	return nil
}

// Stop cancels all subscription consumers. The transport itself is owned by
// the caller and stays open.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.running = false
	for addr, cancel := range m.cancels {
		cancel()
		delete(m.cancels, addr)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) subscribe(ctx context.Context, address string, protocol domain.Protocol) error {
	ch, err := m.ws.SubscribeAccount(ctx, address)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", address, err)
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancels[address] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-consumeCtx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				m.handleNotification(address, protocol, n)
			}
		}
	}()
	return nil
}

func (m *Monitor) handleNotification(address string, protocol domain.Protocol, n solana.AccountNotification) {
	var next []*domain.Position
	if !n.Deleted {
		dec := m.registry.ForProtocol(protocol)
		if dec == nil {
			m.log.Errorw("no decoder for protocol", "protocol", protocol)
			return
		}
		positions, err := dec.Positions(n.Data, address, m.reserves, m.price)
		if err != nil {
			// Malformed update: keep the previous snapshot.
			m.recordDecodeError(protocol, err)
			m.log.Warnw("decode failed, account skipped",
				"address", address, "protocol", protocol, "error", err)
			return
		}
		next = positions
	}
	m.applySnapshot(address, next, n.Slot)
}

// applySnapshot replaces one account's position subset with next and emits
// the diff. next may be nil when the account was deleted.
func (m *Monitor) applySnapshot(address string, next []*domain.Position, slot int64) {
	nextByID := make(map[string]*domain.Position, len(next))
	for _, p := range next {
		nextByID[p.ID] = p
	}

	m.mu.Lock()
	prevByID := make(map[string]*domain.Position)
	for id, p := range m.positions {
		if p.Account == address {
			prevByID[id] = p
		}
	}
	events := diffPositions(prevByID, nextByID, slot)
	for id := range prevByID {
		delete(m.positions, id)
	}
	for id, p := range nextByID {
		m.positions[id] = p
	}
	handlers := make([]Handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, ev := range events {
		m.emit(ev, handlers)
	}
}

func (m *Monitor) emit(ev domain.ChangeEvent, handlers []Handler) {
	for _, h := range handlers {
		m.callHandler(h, ev)
	}
	select {
	case m.events <- ev:
	default:
		m.mu.Lock()
		m.dropped++
		dropped := m.dropped
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ChangeEventsDropped.Inc()
		}
		m.log.Warnw("event channel full, event dropped",
			"position", ev.Position.ID, "dropped_total", dropped)
	}
}

func (m *Monitor) callHandler(h Handler, ev domain.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("change handler panicked",
				"position", ev.Position.ID, "panic", r)
		}
	}()
	h(ev)
}

// ListAll returns a snapshot of all tracked positions sorted by ID.
func (m *Monitor) ListAll() []*domain.Position {
	m.mu.Lock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DroppedEvents returns how many events were dropped on a full channel.
func (m *Monitor) DroppedEvents() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// FetchAll polls every watched account grouped by protocol, with the
// protocols queried concurrently. Each protocol fails independently; its
// error is reported in the map while the others' results still apply. The
// fetched snapshots replace monitor state and emit diff events with slot 0.
func (m *Monitor) FetchAll(ctx context.Context) ([]*domain.Position, map[domain.Protocol]error) {
	m.mu.Lock()
	byProtocol := make(map[domain.Protocol][]string)
	for addr, p := range m.watched {
		byProtocol[p] = append(byProtocol[p], addr)
	}
	m.mu.Unlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   = make(map[domain.Protocol]error)
		result []*domain.Position
	)
	for protocol, addrs := range byProtocol {
		sort.Strings(addrs)
		wg.Add(1)
		go func(protocol domain.Protocol, addrs []string) {
			defer wg.Done()
			positions, err := m.fetchProtocol(ctx, protocol, addrs)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[protocol] = err
				return
			}
			result = append(result, positions...)
		}(protocol, addrs)
	}
	wg.Wait()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, errs
}

// RefreshReserves discovers every protocol's reserve accounts through
// getProgramAccounts, filtered to the exact reserve layout size, and loads
// them into the cache. Position decoding yields nothing for a protocol
// until its reserves are cached, so this runs before the first fetch and
// again on the coordinator's refresh ticker. Protocols fail independently;
// the first error is returned after all were attempted.
func (m *Monitor) RefreshReserves(ctx context.Context) error {
	var firstErr error
	for _, programID := range m.registry.Programs() {
		dec := m.registry.ForProgram(programID)
		src, ok := dec.(decode.ReserveSource)
		if !ok {
			continue
		}

		accounts, err := m.rpc.GetProgramAccounts(ctx, programID,
			&solana.ProgramAccountsOpts{DataSize: src.ReserveLen()})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("discover %s reserves: %w", dec.Protocol(), err)
			}
			m.log.Warnw("reserve discovery failed",
				"protocol", dec.Protocol(), "error", err)
			continue
		}

		loaded := 0
		for _, acc := range accounts {
			reserve, err := src.DecodeReserve(acc.Account.Data, acc.Pubkey)
			if err != nil {
				m.recordDecodeError(dec.Protocol(), err)
				m.log.Debugw("reserve decode skipped",
					"address", acc.Pubkey, "error", err)
				continue
			}
			m.reserves.Put(reserve)
			loaded++
		}
		m.log.Infow("reserves refreshed",
			"protocol", dec.Protocol(), "loaded", loaded, "scanned", len(accounts))
	}
	return firstErr
}

func (m *Monitor) recordDecodeError(protocol domain.Protocol, err error) {
	if m.metrics == nil {
		return
	}
	kind := "UNKNOWN"
	var derr *decode.DecodeError
	if errors.As(err, &derr) {
		kind = derr.Kind.String()
	}
	m.metrics.DecodeErrors.WithLabelValues(string(protocol), kind).Inc()
}

func (m *Monitor) fetchProtocol(ctx context.Context, protocol domain.Protocol, addrs []string) ([]*domain.Position, error) {
	infos, err := m.rpc.GetMultipleAccounts(ctx, addrs)
	if err != nil {
		return nil, fmt.Errorf("fetch %s accounts: %w", protocol, err)
	}
	dec := m.registry.ForProtocol(protocol)
	if dec == nil {
		return nil, fmt.Errorf("no decoder for protocol %s", protocol)
	}

	var all []*domain.Position
	for i, addr := range addrs {
		if i >= len(infos) || infos[i] == nil {
			m.applySnapshot(addr, nil, 0)
			continue
		}
		positions, err := dec.Positions(infos[i].Data, addr, m.reserves, m.price)
		if err != nil {
			m.recordDecodeError(protocol, err)
			m.log.Warnw("decode failed during poll, account skipped",
				"address", addr, "protocol", protocol, "error", err)
			continue
		}
		m.applySnapshot(addr, positions, infos[i].Slot)
		all = append(all, positions...)
	}
	return all, nil
}

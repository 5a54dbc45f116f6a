// Package coordinator runs the evaluation loop: every cycle each tracked
// position is scored, checked against alert thresholds and archived. Change
// events from the monitor trigger ad-hoc re-evaluation between cycles.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liq-monitor/internal/alerting"
	"solana-liq-monitor/internal/audit"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/monitor"
	"solana-liq-monitor/internal/observability"
	"solana-liq-monitor/internal/oracle"
	"solana-liq-monitor/internal/risk"
	"solana-liq-monitor/internal/storage"
)

// Config tunes the coordinator loop.
type Config struct {
	// PollInterval is the time between evaluation cycles.
	PollInterval time.Duration

	// ReserveRefreshInterval is the time between reserve re-discovery
	// passes over getProgramAccounts.
	ReserveRefreshInterval time.Duration
}

// DefaultConfig returns the standard coordinator configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:           time.Minute,
		ReserveRefreshInterval: 10 * time.Minute,
	}
}

// PositionStatus is one position's outcome in the latest cycle. Score and
// Prediction are nil when the cycle could not compute them; NotComputed
// carries the reason.
type PositionStatus struct {
	Position    *domain.Position
	Score       *domain.RiskScore
	Prediction  *domain.LiquidationPrediction
	NotComputed string
}

// Health is the coordinator's self-report for the health endpoint.
type Health struct {
	UptimeSeconds      float64   `json:"uptime_seconds"`
	LastCycleAt        time.Time `json:"last_cycle_at"`
	LastCycleOK        bool      `json:"last_cycle_ok"`
	CyclesRun          int64     `json:"cycles_run"`
	PositionsTracked   int       `json:"positions_tracked"`
	TransportConnected bool      `json:"transport_connected"`
	RPCHealthy         bool      `json:"rpc_healthy"`
}

// connectedReporter is the slice of the transport the coordinator reads.
type connectedReporter interface {
	Connected() bool
}

// healthChecker checks the RPC node.
type healthChecker interface {
	GetHealth(ctx context.Context) error
}

// Coordinator wires the monitor, risk engine and alert manager together.
type Coordinator struct {
	cfg     Config
	mon     *monitor.Monitor
	engine  *risk.Engine
	alerts  *alerting.Manager
	prices  *oracle.Resolver
	trail   audit.Trail
	metrics *observability.Metrics
	log     *zap.SugaredLogger

	// Optional persistence; nil stores disable it.
	alertStore    storage.AlertStore
	snapshotStore storage.RiskSnapshotStore

	transport connectedReporter
	rpcHealth healthChecker

	mu          sync.Mutex
	statuses    map[string]*PositionStatus
	startedAt   time.Time
	lastCycleAt time.Time
	lastCycleOK bool
	cyclesRun   int64
	clock       func() time.Time
}

// Option configures optional coordinator dependencies.
type Option func(*Coordinator)

// WithPersistence attaches alert and snapshot stores.
func WithPersistence(alerts storage.AlertStore, snapshots storage.RiskSnapshotStore) Option {
	return func(c *Coordinator) {
		c.alertStore = alerts
		c.snapshotStore = snapshots
	}
}

// WithAuditTrail attaches a commit-reveal audit trail.
func WithAuditTrail(trail audit.Trail) Option {
	return func(c *Coordinator) { c.trail = trail }
}

// WithTransportHealth attaches transport and RPC health probes.
func WithTransportHealth(transport connectedReporter, rpc healthChecker) Option {
	return func(c *Coordinator) {
		c.transport = transport
		c.rpcHealth = rpc
	}
}

// New creates a coordinator.
func New(cfg Config, mon *monitor.Monitor, engine *risk.Engine, alerts *alerting.Manager, prices *oracle.Resolver, metrics *observability.Metrics, log *zap.Logger, opts ...Option) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.ReserveRefreshInterval <= 0 {
		cfg.ReserveRefreshInterval = DefaultConfig().ReserveRefreshInterval
	}
	c := &Coordinator{
		cfg:      cfg,
		mon:      mon,
		engine:   engine,
		alerts:   alerts,
		prices:   prices,
		trail:    audit.NopTrail{},
		metrics:  metrics,
		log:      log.Sugar().Named("coordinator"),
		statuses: make(map[string]*PositionStatus),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the polling loop until ctx is cancelled. Change events from
// the monitor are drained between ticks for immediate re-evaluation.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.startedAt = c.clock()
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	reserveTicker := time.NewTicker(c.cfg.ReserveRefreshInterval)
	defer reserveTicker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.runCycle(ctx)
		case <-reserveTicker.C:
			// Reserve parameters drift slowly; a stale cache skews
			// valuations until the next pass picks the change up.
			if err := c.mon.RefreshReserves(ctx); err != nil {
				c.log.Warnw("reserve refresh failed", "error", err)
			}
		case ev, ok := <-c.mon.Events():
			if !ok {
				continue
			}
			c.handleChange(ctx, ev)
		}
	}
}

// runCycle refreshes positions and evaluates each one. A failing position
// is marked NotComputed and the cycle moves on.
func (c *Coordinator) runCycle(ctx context.Context) {
	started := c.clock()

	positions, errs := c.mon.FetchAll(ctx)
	for protocol, err := range errs {
		c.log.Warnw("protocol fetch failed", "protocol", protocol, "error", err)
	}

	next := make(map[string]*PositionStatus, len(positions))
	var snapshots []*domain.RiskSnapshot
	ok := len(errs) == 0

	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return
		}
		status := c.evaluate(ctx, pos)
		next[pos.ID] = status
		if status.NotComputed != "" {
			ok = false
			continue
		}
		snapshots = append(snapshots, snapshotOf(pos, status.Score))
	}

	c.archive(ctx, snapshots)

	c.mu.Lock()
	c.statuses = next
	c.lastCycleAt = c.clock()
	c.lastCycleOK = ok
	c.cyclesRun++
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CyclesRun.Inc()
		c.metrics.PositionsTracked.Set(float64(len(next)))
		c.metrics.CycleDuration.Observe(c.clock().Sub(started).Seconds())
		if ok {
			c.metrics.LastSuccessfulCycle.SetToCurrentTime()
		}
	}
}

// evaluate scores one position, feeds its dominant collateral price into
// the rolling history and runs both alert evaluations. Any panic or error
// yields a NotComputed marker instead of failing the cycle.
func (c *Coordinator) evaluate(ctx context.Context, pos *domain.Position) (status *PositionStatus) {
	status = &PositionStatus{Position: pos}
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("position evaluation panicked", "position", pos.ID, "panic", r)
			status.Score = nil
			status.Prediction = nil
			status.NotComputed = "evaluation panicked"
			if c.metrics != nil {
				c.metrics.PositionsSkipped.Inc()
			}
		}
	}()

	c.recordSample(ctx, pos)

	score := c.engine.Score(pos)
	status.Score = score
	if c.metrics != nil {
		c.metrics.PositionsScored.Inc()
	}

	if alert := c.alerts.Evaluate(ctx, pos, score); alert != nil {
		c.dispatch(ctx, alert)
	}

	prediction := c.engine.Predict(pos)
	status.Prediction = prediction
	if alert := c.alerts.EvaluatePrediction(ctx, pos, prediction); alert != nil {
		c.dispatch(ctx, alert)
	}
	return status
}

// recordSample appends the dominant collateral's current price to the risk
// history. Price failures are tolerated; the engine works with what it has.
func (c *Coordinator) recordSample(ctx context.Context, pos *domain.Position) {
	dom := pos.DominantCollateral()
	if dom == nil || c.prices == nil {
		return
	}
	price, err := c.prices.Resolve(ctx, dom.Mint)
	if err != nil {
		if !errors.Is(err, oracle.ErrPriceUnavailable) {
			c.log.Warnw("price resolve failed", "mint", dom.Mint, "error", err)
		}
		return
	}
	c.engine.RecordSample(dom.Mint, risk.PriceSample(c.clock().UnixMilli(), price, dom.ValueUSD))
}

// dispatch anchors, delivers and persists one alert. The payload hash is
// committed to the audit trail before sink delivery and revealed after, so
// the trail proves the alert content preceded delivery. Trail and store
// failures are logged, never gating.
func (c *Coordinator) dispatch(ctx context.Context, alert *domain.Alert) {
	if c.metrics != nil {
		c.metrics.AlertsFired.WithLabelValues(string(alert.Type)).Inc()
	}

	payload, err := json.Marshal(alert)
	committed := false
	if err == nil {
		hash := sha256.Sum256(payload)
		if err := c.trail.Commit(ctx, hash[:]); err != nil {
			c.log.Warnw("audit commit failed", "alert", alert.ID, "error", err)
		} else {
			committed = true
		}
	}

	c.alerts.Dispatch(ctx, alert)

	if committed {
		if err := c.trail.Reveal(ctx, payload); err != nil {
			c.log.Warnw("audit reveal failed", "alert", alert.ID, "error", err)
		}
	}

	if c.alertStore != nil {
		if err := c.alertStore.Insert(ctx, alert); err != nil {
			c.log.Warnw("alert persistence failed", "alert", alert.ID, "error", err)
		}
	}
}

func (c *Coordinator) archive(ctx context.Context, snapshots []*domain.RiskSnapshot) {
	if c.snapshotStore == nil || len(snapshots) == 0 {
		return
	}
	if err := c.snapshotStore.InsertBulk(ctx, snapshots); err != nil {
		c.log.Warnw("snapshot archive failed", "count", len(snapshots), "error", err)
	}
}

// handleChange re-evaluates a single position immediately after a change
// notification instead of waiting for the next tick.
func (c *Coordinator) handleChange(ctx context.Context, ev domain.ChangeEvent) {
	if c.metrics != nil {
		c.metrics.ChangeEventsEmitted.WithLabelValues(string(ev.Kind)).Inc()
	}

	if ev.Kind == domain.ChangeDeleted {
		c.mu.Lock()
		delete(c.statuses, ev.Position.ID)
		c.mu.Unlock()
		return
	}

	status := c.evaluate(ctx, ev.Position)
	c.mu.Lock()
	c.statuses[ev.Position.ID] = status
	c.mu.Unlock()
}

// Statuses returns the latest per-position outcomes keyed by position ID.
func (c *Coordinator) Statuses() map[string]*PositionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*PositionStatus, len(c.statuses))
	for id, s := range c.statuses {
		out[id] = s
	}
	return out
}

// Health reports loop liveness and component connectivity.
func (c *Coordinator) Health(ctx context.Context) Health {
	c.mu.Lock()
	h := Health{
		LastCycleAt:      c.lastCycleAt,
		LastCycleOK:      c.lastCycleOK,
		CyclesRun:        c.cyclesRun,
		PositionsTracked: len(c.statuses),
	}
	if !c.startedAt.IsZero() {
		h.UptimeSeconds = c.clock().Sub(c.startedAt).Seconds()
	}
	c.mu.Unlock()

	if c.transport != nil {
		h.TransportConnected = c.transport.Connected()
		if c.metrics != nil {
			v := 0.0
			if h.TransportConnected {
				v = 1.0
			}
			c.metrics.TransportConnected.Set(v)
		}
	}
	if c.rpcHealth != nil {
		h.RPCHealthy = c.rpcHealth.GetHealth(ctx) == nil
	}
	return h
}

// SetClock overrides the time source for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = now
}

func snapshotOf(pos *domain.Position, score *domain.RiskScore) *domain.RiskSnapshot {
	return &domain.RiskSnapshot{
		PositionID:            pos.ID,
		Protocol:              pos.Protocol,
		HealthFactor:          score.HealthFactor,
		Level:                 score.Level,
		Score:                 score.Score,
		LiquidationPrice:      score.LiquidationPrice,
		DistanceToLiquidation: score.DistanceToLiquidation,
		TotalCollateralUSD:    pos.TotalCollateralUSD(),
		TotalDebtUSD:          pos.TotalDebtUSD(),
		TimestampMs:           score.ComputedAt,
	}
}

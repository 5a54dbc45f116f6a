package alerting

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/observability"
)

const historyCap = 500

type cooldownKey struct {
	alertType  domain.AlertType
	positionID string
}

type sinkEntry struct {
	sink    Sink
	cfg     SinkConfig
	limiter *slidingWindow
	stats   SinkStats
}

// Manager turns risk scores into alerts and fans them out to sinks.
// Evaluation is threshold-driven with per-(type,position) cooldowns;
// delivery is concurrent per sink with bounded retries. One sink failing
// or hitting its rate limit never blocks the others.
type Manager struct {
	mu         sync.Mutex
	thresholds Thresholds
	sinks      map[string]*sinkEntry
	lastFired  map[cooldownKey]time.Time
	history    []*domain.Alert
	clock      func() time.Time
	metrics    *observability.Metrics
	log        *zap.SugaredLogger
}

func NewManager(thresholds Thresholds, log *zap.Logger) *Manager {
	return &Manager{
		thresholds: thresholds,
		sinks:      make(map[string]*sinkEntry),
		lastFired:  make(map[cooldownKey]time.Time),
		clock:      time.Now,
		log:        log.Sugar().Named("alerting"),
	}
}

// SetClock overrides the time source for tests.
func (m *Manager) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetMetrics attaches suppression and delivery counters.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

func (m *Manager) recordSuppressed(reason string) {
	if m.metrics != nil {
		m.metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
	}
}

// AddSink registers a sink. A sink with the same name is replaced but its
// statistics are kept.
func (m *Manager) AddSink(sink Sink, cfg SinkConfig) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &sinkEntry{
		sink:    sink,
		cfg:     cfg,
		limiter: newSlidingWindow(cfg.RateLimitPerMinute, time.Minute),
	}
	if prev, ok := m.sinks[sink.Name()]; ok {
		entry.stats = prev.stats
	}
	m.sinks[sink.Name()] = entry
}

// RemoveSink drops a sink by name.
func (m *Manager) RemoveSink(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sinks[name]; !ok {
		return false
	}
	delete(m.sinks, name)
	return true
}

// UpdateSink replaces a registered sink's delivery configuration. The rate
// limit window restarts empty.
func (m *Manager) UpdateSink(name string, cfg SinkConfig) bool {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sinks[name]
	if !ok {
		return false
	}
	entry.cfg = cfg
	entry.limiter = newSlidingWindow(cfg.RateLimitPerMinute, time.Minute)
	return true
}

// UpdateThresholds swaps the trigger configuration for subsequent cycles.
func (m *Manager) UpdateThresholds(t Thresholds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds = t
}

// Thresholds returns the current trigger configuration.
func (m *Manager) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// Evaluate inspects one scored position and returns at most one health
// alert to fire, or nil. Critical conditions supersede warnings; a position
// in cooldown for a given alert type stays silent for that type. The caller
// dispatches the returned alert.
func (m *Manager) Evaluate(ctx context.Context, pos *domain.Position, score *domain.RiskScore) *domain.Alert {
	m.mu.Lock()
	t := m.thresholds
	m.mu.Unlock()

	var alert *domain.Alert
	switch {
	case score.HealthFactor < t.CriticalHealthFactor ||
		(score.LiquidationPrice > 0 && score.DistanceToLiquidation < t.CriticalDistancePct):
		alert = m.buildAlert(domain.AlertCritical, domain.SeverityCritical, pos, score,
			"Position near liquidation",
			fmt.Sprintf("health factor %.4f, %.1f%% above liquidation price",
				score.HealthFactor, score.DistanceToLiquidation))

	case score.HealthFactor < t.WarningHealthFactor ||
		score.CollateralRatio < t.WarningCollateralRatio ||
		(score.LiquidationPrice > 0 && score.DistanceToLiquidation < t.WarningDistancePct):
		alert = m.buildAlert(domain.AlertWarning, domain.SeverityWarning, pos, score,
			"Position health deteriorating",
			fmt.Sprintf("health factor %.4f, collateral ratio %.2f",
				score.HealthFactor, score.CollateralRatio))
	}

	if alert == nil {
		return nil
	}
	if !m.passCooldown(alert.Type, alert.PositionID) {
		m.recordSuppressed("cooldown")
		return nil
	}
	return alert
}

// EvaluatePrediction returns a prediction alert when the blended
// probability crosses the configured trigger, or nil. The caller
// dispatches it.
func (m *Manager) EvaluatePrediction(ctx context.Context, pos *domain.Position, pred *domain.LiquidationPrediction) *domain.Alert {
	m.mu.Lock()
	t := m.thresholds
	m.mu.Unlock()

	if pred.Probability < t.PredictionProbability {
		return nil
	}

	msg := fmt.Sprintf("liquidation probability %.0f%% (30m %.0f%%, hourly %.0f%%)",
		pred.Probability*100, pred.Probability30m*100, pred.ProbabilityHourly*100)
	if !math.IsInf(pred.MinutesToLiquidation, 1) {
		msg += fmt.Sprintf(", estimated %.0f minutes to liquidation", pred.MinutesToLiquidation)
	}

	alert := m.buildAlert(domain.AlertPrediction, domain.SeverityWarning, pos, nil,
		"Liquidation predicted", msg)
	alert.Payload["probability"] = pred.Probability
	alert.Payload["confidence"] = pred.Confidence
	if len(pred.Factors) > 0 {
		alert.Payload["top_factor"] = pred.Factors[0]
	}

	if !m.passCooldown(alert.Type, alert.PositionID) {
		m.recordSuppressed("cooldown")
		return nil
	}
	return alert
}

func (m *Manager) buildAlert(at domain.AlertType, sev domain.Severity, pos *domain.Position, score *domain.RiskScore, title, msg string) *domain.Alert {
	m.mu.Lock()
	now := m.clock()
	m.mu.Unlock()

	a := &domain.Alert{
		ID:         fmt.Sprintf("%s-%s-%d", at, pos.ID, now.UnixNano()),
		Type:       at,
		Severity:   sev,
		PositionID: pos.ID,
		Protocol:   pos.Protocol,
		Title:      title,
		Message:    msg,
		Payload:    map[string]interface{}{},
		CreatedAt:  now,
	}
	if score != nil {
		a.HealthFactor = score.HealthFactor
		a.Payload["risk_level"] = score.Level.String()
		if score.LiquidationPrice > 0 {
			a.Payload["liquidation_price"] = score.LiquidationPrice
		}
	}
	return a
}

// passCooldown records the alert as fired when its (type,position) pair is
// outside the cooldown window.
func (m *Manager) passCooldown(at domain.AlertType, positionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	key := cooldownKey{alertType: at, positionID: positionID}
	if last, ok := m.lastFired[key]; ok {
		if now.Sub(last) < m.thresholds.cooldownFor(string(at)) {
			return false
		}
	}
	m.lastFired[key] = now
	return true
}

// Dispatch appends the alert to history and delivers it to every
// registered sink concurrently. It returns after all sinks finish their
// attempts for this alert.
func (m *Manager) Dispatch(ctx context.Context, alert *domain.Alert) {
	m.mu.Lock()
	m.history = append(m.history, alert)
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
	entries := make([]*sinkEntry, 0, len(m.sinks))
	for _, e := range m.sinks {
		entries = append(entries, e)
	}
	now := m.clock()
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		if !entry.limiter.Allow(now) {
			m.mu.Lock()
			entry.stats.RateLimited++
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.SinkRateLimited.WithLabelValues(entry.sink.Name()).Inc()
			}
			m.log.Warnw("sink rate limited, alert skipped",
				"sink", entry.sink.Name(), "alert", alert.ID)
			continue
		}
		wg.Add(1)
		go func(entry *sinkEntry) {
			defer wg.Done()
			m.deliver(ctx, entry, alert)
		}(entry)
	}
	wg.Wait()
}

func (m *Manager) deliver(ctx context.Context, entry *sinkEntry, alert *domain.Alert) {
	cfg := entry.cfg
	started := time.Now()

	var err error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				err = ctx.Err()
				m.recordFailure(entry, err, alert)
				return
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err = entry.sink.Send(attemptCtx, alert)
		cancel()
		if err == nil {
			m.recordSuccess(entry, time.Since(started))
			return
		}
		m.log.Warnw("sink delivery attempt failed",
			"sink", entry.sink.Name(), "alert", alert.ID,
			"attempt", attempt+1, "error", err)
	}
	m.recordFailure(entry, err, alert)
}

func (m *Manager) recordSuccess(entry *sinkEntry, latency time.Duration) {
	m.mu.Lock()
	entry.stats.Sent++
	entry.stats.LastSuccess = m.clock().UnixMilli()
	ms := float64(latency.Milliseconds())
	n := float64(entry.stats.Sent)
	entry.stats.AvgLatencyMs += (ms - entry.stats.AvgLatencyMs) / n
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SinkDeliveries.WithLabelValues(entry.sink.Name(), "ok").Inc()
	}
}

func (m *Manager) recordFailure(entry *sinkEntry, err error, alert *domain.Alert) {
	m.mu.Lock()
	entry.stats.Failed++
	entry.stats.LastFailure = m.clock().UnixMilli()
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SinkDeliveries.WithLabelValues(entry.sink.Name(), "error").Inc()
	}
	m.log.Errorw("alert delivery failed",
		"sink", entry.sink.Name(), "alert", alert.ID, "error", err)
}

// History returns the most recent alerts, newest last. limit <= 0 returns
// everything retained.
func (m *Manager) History(limit int) []*domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*domain.Alert, len(h))
	copy(out, h)
	return out
}

// Stats returns a snapshot of per-sink delivery statistics.
func (m *Manager) Stats() map[string]SinkStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]SinkStats, len(m.sinks))
	for name, e := range m.sinks {
		out[name] = e.stats
	}
	return out
}

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/observability"
)

type fakeSink struct {
	mu       sync.Mutex
	name     string
	failures int
	sent     []*domain.Alert
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(_ context.Context, alert *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.sent = append(s.sent, alert)
	return nil
}

func (s *fakeSink) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testManager(t *testing.T) (*Manager, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Unix(1700000000, 0)}
	m := NewManager(DefaultThresholds(), zap.NewNop())
	m.SetClock(clock.Now)
	return m, clock
}

func testPosition() *domain.Position {
	return &domain.Position{
		ID:       "MARGINFI:acct1",
		Protocol: domain.ProtocolMarginfi,
		Account:  "acct1",
	}
}

func TestEvaluateCritical(t *testing.T) {
	m, _ := testManager(t)
	sink := &fakeSink{name: "test"}
	m.AddSink(sink, SinkConfig{Name: "test"})

	score := &domain.RiskScore{
		PositionID:   "MARGINFI:acct1",
		HealthFactor: 1.02,
		Level:        domain.RiskCritical,
	}

	alert := m.Evaluate(context.Background(), testPosition(), score)
	require.NotNil(t, alert)
	assert.Equal(t, domain.AlertCritical, alert.Type)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)

	m.Dispatch(context.Background(), alert)
	assert.Equal(t, 1, sink.sentCount())
}

func TestEvaluateWarningByCollateralRatio(t *testing.T) {
	m, _ := testManager(t)

	score := &domain.RiskScore{
		PositionID:      "MARGINFI:acct1",
		HealthFactor:    1.4,
		CollateralRatio: 1.2,
		Level:           domain.RiskMedium,
	}

	alert := m.Evaluate(context.Background(), testPosition(), score)
	require.NotNil(t, alert)
	assert.Equal(t, domain.AlertWarning, alert.Type)
}

func TestEvaluateHealthyPositionNoAlert(t *testing.T) {
	m, _ := testManager(t)

	score := &domain.RiskScore{
		PositionID:            "MARGINFI:acct1",
		HealthFactor:          1.8,
		CollateralRatio:       2.0,
		DistanceToLiquidation: 40,
		Level:                 domain.RiskLow,
	}

	assert.Nil(t, m.Evaluate(context.Background(), testPosition(), score))
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	m, clock := testManager(t)
	sink := &fakeSink{name: "test"}
	m.AddSink(sink, SinkConfig{Name: "test"})

	score := &domain.RiskScore{PositionID: "MARGINFI:acct1", HealthFactor: 1.02}
	pos := testPosition()

	first := m.Evaluate(context.Background(), pos, score)
	require.NotNil(t, first)
	m.Dispatch(context.Background(), first)
	assert.Nil(t, m.Evaluate(context.Background(), pos, score), "second trigger inside cooldown")
	assert.Equal(t, 1, sink.sentCount())

	clock.Advance(5*time.Minute + time.Second)
	third := m.Evaluate(context.Background(), pos, score)
	require.NotNil(t, third, "cooldown expired")
	m.Dispatch(context.Background(), third)
	assert.Equal(t, 2, sink.sentCount())
}

func TestCooldownIsPerTypeAndPosition(t *testing.T) {
	m, _ := testManager(t)

	critical := &domain.RiskScore{PositionID: "MARGINFI:acct1", HealthFactor: 1.02}
	pos := testPosition()
	require.NotNil(t, m.Evaluate(context.Background(), pos, critical))

	// Same position, different type: prediction fires independently.
	pred := &domain.LiquidationPrediction{PositionID: pos.ID, Probability: 0.9}
	require.NotNil(t, m.EvaluatePrediction(context.Background(), pos, pred))

	// Different position, same type: unaffected by the first cooldown.
	other := &domain.Position{ID: "KAMINO:acct2", Protocol: domain.ProtocolKamino, Account: "acct2"}
	otherScore := &domain.RiskScore{PositionID: other.ID, HealthFactor: 1.02}
	require.NotNil(t, m.Evaluate(context.Background(), other, otherScore))
}

func TestPredictionBelowThresholdIgnored(t *testing.T) {
	m, _ := testManager(t)

	pred := &domain.LiquidationPrediction{PositionID: "MARGINFI:acct1", Probability: 0.5}
	assert.Nil(t, m.EvaluatePrediction(context.Background(), testPosition(), pred))
}

func TestRateLimitSkipsExcessAndRecovers(t *testing.T) {
	m, clock := testManager(t)
	sink := &fakeSink{name: "limited"}
	m.AddSink(sink, SinkConfig{Name: "limited", RateLimitPerMinute: 3})

	for i := 0; i < 5; i++ {
		m.Dispatch(context.Background(), &domain.Alert{
			ID:        fmt.Sprintf("a%d", i),
			Type:      domain.AlertInfo,
			CreatedAt: clock.Now(),
		})
	}
	assert.Equal(t, 3, sink.sentCount())
	assert.Equal(t, int64(2), m.Stats()["limited"].RateLimited)

	// Window rolls over, sends resume.
	clock.Advance(61 * time.Second)
	m.Dispatch(context.Background(), &domain.Alert{ID: "a5", Type: domain.AlertInfo, CreatedAt: clock.Now()})
	assert.Equal(t, 4, sink.sentCount())
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	m, _ := testManager(t)
	sink := &fakeSink{name: "flaky", failures: 2}
	m.AddSink(sink, SinkConfig{Name: "flaky", MaxRetries: 3, RetryDelay: time.Millisecond})

	m.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})

	assert.Equal(t, 1, sink.sentCount())
	stats := m.Stats()["flaky"]
	assert.Equal(t, int64(1), stats.Sent)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestDeliveryExhaustsRetries(t *testing.T) {
	m, _ := testManager(t)
	sink := &fakeSink{name: "down", failures: 10}
	m.AddSink(sink, SinkConfig{Name: "down", MaxRetries: 2, RetryDelay: time.Millisecond})

	m.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})

	assert.Equal(t, 0, sink.sentCount())
	assert.Equal(t, int64(1), m.Stats()["down"].Failed)
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	m, _ := testManager(t)
	down := &fakeSink{name: "down", failures: 10}
	up := &fakeSink{name: "up"}
	m.AddSink(down, SinkConfig{Name: "down", MaxRetries: 1, RetryDelay: time.Millisecond})
	m.AddSink(up, SinkConfig{Name: "up"})

	m.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})

	assert.Equal(t, 1, up.sentCount())
	assert.Equal(t, int64(1), m.Stats()["down"].Failed)
}

func TestHistoryBounded(t *testing.T) {
	m, _ := testManager(t)

	for i := 0; i < historyCap+25; i++ {
		m.Dispatch(context.Background(), &domain.Alert{
			ID:   fmt.Sprintf("a%d", i),
			Type: domain.AlertInfo,
		})
	}

	h := m.History(0)
	require.Len(t, h, historyCap)
	assert.Equal(t, fmt.Sprintf("a%d", historyCap+24), h[len(h)-1].ID, "newest retained")
	assert.Equal(t, "a25", h[0].ID, "oldest evicted first")
}

func TestHistoryLimit(t *testing.T) {
	m, _ := testManager(t)
	for i := 0; i < 10; i++ {
		m.Dispatch(context.Background(), &domain.Alert{ID: fmt.Sprintf("a%d", i), Type: domain.AlertInfo})
	}
	assert.Len(t, m.History(3), 3)
}

func TestSinkLifecycle(t *testing.T) {
	m, _ := testManager(t)
	sink := &fakeSink{name: "s"}
	m.AddSink(sink, SinkConfig{Name: "s"})

	assert.True(t, m.UpdateSink("s", SinkConfig{Name: "s", RateLimitPerMinute: 1}))
	assert.False(t, m.UpdateSink("missing", SinkConfig{}))

	assert.True(t, m.RemoveSink("s"))
	assert.False(t, m.RemoveSink("s"))

	m.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})
	assert.Equal(t, 0, sink.sentCount())
}

func TestUpdateThresholds(t *testing.T) {
	m, _ := testManager(t)

	t2 := DefaultThresholds()
	t2.CriticalHealthFactor = 1.5
	m.UpdateThresholds(t2)

	score := &domain.RiskScore{PositionID: "MARGINFI:acct1", HealthFactor: 1.4}
	alert := m.Evaluate(context.Background(), testPosition(), score)
	require.NotNil(t, alert)
	assert.Equal(t, domain.AlertCritical, alert.Type)
}

func TestMetricsCountDeliveriesAndSuppression(t *testing.T) {
	m, _ := testManager(t)
	metrics := observability.NewMetrics("t_alerting_flow")
	m.SetMetrics(metrics)
	sink := &fakeSink{name: "test"}
	m.AddSink(sink, SinkConfig{Name: "test", RateLimitPerMinute: 1})

	score := &domain.RiskScore{PositionID: "MARGINFI:acct1", HealthFactor: 1.02}
	pos := testPosition()

	alert := m.Evaluate(context.Background(), pos, score)
	require.NotNil(t, alert)
	m.Dispatch(context.Background(), alert)
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("test", "ok")), 1e-9)

	// Second trigger inside cooldown is counted as suppressed.
	assert.Nil(t, m.Evaluate(context.Background(), pos, score))
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(metrics.AlertsSuppressed.WithLabelValues("cooldown")), 1e-9)

	// The one-per-minute limit skips the next dispatch.
	m.Dispatch(context.Background(), &domain.Alert{ID: "x", Type: domain.AlertInfo})
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(metrics.SinkRateLimited.WithLabelValues("test")), 1e-9)
}

func TestMetricsCountFailedDeliveries(t *testing.T) {
	m, _ := testManager(t)
	metrics := observability.NewMetrics("t_alerting_fail")
	m.SetMetrics(metrics)
	sink := &fakeSink{name: "down", failures: 10}
	m.AddSink(sink, SinkConfig{Name: "down", MaxRetries: 2, RetryDelay: time.Millisecond})

	m.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})
	assert.InDelta(t, 1.0,
		testutil.ToFloat64(metrics.SinkDeliveries.WithLabelValues("down", "error")), 1e-9)
}

func TestSlidingWindowRollover(t *testing.T) {
	w := newSlidingWindow(2, time.Minute)
	now := time.Unix(1700000000, 0)

	assert.True(t, w.Allow(now))
	assert.True(t, w.Allow(now.Add(10*time.Second)))
	assert.False(t, w.Allow(now.Add(20*time.Second)))

	// First entry ages out, one slot opens.
	assert.True(t, w.Allow(now.Add(61*time.Second)))
	assert.False(t, w.Allow(now.Add(62*time.Second)))
}

func TestSlidingWindowUnlimited(t *testing.T) {
	w := newSlidingWindow(0, time.Minute)
	now := time.Unix(1700000000, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, w.Allow(now))
	}
}

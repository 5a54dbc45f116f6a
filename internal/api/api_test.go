package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solana-liq-monitor/internal/alerting"
	"solana-liq-monitor/internal/coordinator"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/storage/memory"
)

type stubSource struct {
	statuses map[string]*coordinator.PositionStatus
	health   coordinator.Health
}

func (s *stubSource) Statuses() map[string]*coordinator.PositionStatus { return s.statuses }
func (s *stubSource) Health(context.Context) coordinator.Health        { return s.health }

func status(id string, level domain.RiskLevel) *coordinator.PositionStatus {
	return &coordinator.PositionStatus{
		Position: &domain.Position{ID: id, Protocol: domain.ProtocolMarginfi},
		Score:    &domain.RiskScore{PositionID: id, Level: level, HealthFactor: 1.2},
	}
}

func testServer(src *stubSource) *Server {
	mgr := alerting.NewManager(alerting.DefaultThresholds(), zap.NewNop())
	return NewServer(src, mgr, zap.NewNop())
}

func TestPositionsSummary(t *testing.T) {
	src := &stubSource{statuses: map[string]*coordinator.PositionStatus{
		"a": status("a", domain.RiskCritical),
		"b": status("b", domain.RiskHigh),
		"c": status("c", domain.RiskLow),
		"d": {
			Position:    &domain.Position{ID: "d", Protocol: domain.ProtocolDrift},
			NotComputed: "decode failed",
		},
	}}
	srv := testServer(src)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp positionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.Critical)
	assert.Equal(t, 1, resp.Summary.Warning)
	assert.Equal(t, 1, resp.Summary.Healthy)

	require.Len(t, resp.Positions, 4)
	assert.Equal(t, "a", resp.Positions[0].Position.ID, "sorted by ID")
	assert.Equal(t, "decode failed", resp.Positions[3].NotComputed)
}

func TestHealthEndpointStatusCodes(t *testing.T) {
	src := &stubSource{health: coordinator.Health{
		LastCycleOK:        true,
		TransportConnected: true,
		LastCycleAt:        time.Now(),
	}}
	srv := testServer(src)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	src.health.TransportConnected = false
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPutThresholds(t *testing.T) {
	srv := testServer(&stubSource{})

	body := `{"WarningHealthFactor":1.4,"CriticalHealthFactor":1.2,
		"WarningCooldown":900000000000,"CriticalCooldown":300000000000}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/thresholds", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.InDelta(t, 1.4, srv.alerts.Thresholds().WarningHealthFactor, 1e-9)
}

func TestPutThresholdsRejectsInverted(t *testing.T) {
	srv := testServer(&stubSource{})

	body := `{"WarningHealthFactor":1.0,"CriticalHealthFactor":1.2}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/thresholds", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutThresholdsRejectsBadJSON(t *testing.T) {
	srv := testServer(&stubSource{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/thresholds", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeWatcher struct {
	watched  map[string]domain.Protocol
	watchErr error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watched: make(map[string]domain.Protocol)}
}

func (f *fakeWatcher) Watch(_ context.Context, protocol domain.Protocol, address string) error {
	if f.watchErr != nil {
		return f.watchErr
	}
	f.watched[address] = protocol
	return nil
}

func (f *fakeWatcher) Unwatch(_ context.Context, address string) error {
	if _, ok := f.watched[address]; !ok {
		return errors.New("not watched: " + address)
	}
	delete(f.watched, address)
	return nil
}

func watchServer(ctrl *fakeWatcher) *Server {
	mgr := alerting.NewManager(alerting.DefaultThresholds(), zap.NewNop())
	return NewServer(&stubSource{}, mgr, zap.NewNop(),
		WithWatchlist(ctrl, memory.NewWatchlistStore()))
}

func TestWatchlistAddListRemove(t *testing.T) {
	ctrl := newFakeWatcher()
	srv := watchServer(ctrl)

	body := `{"protocol":"MARGINFI","address":"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin","label":"whale"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/watchlist", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.ProtocolMarginfi, ctrl.watched["9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/watchlist", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count   int                  `json:"count"`
		Entries []*domain.WatchEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "whale", resp.Entries[0].Label)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(
		http.MethodDelete, "/api/v1/watchlist/9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ctrl.watched)
}

func TestWatchlistRejectsUnknownProtocol(t *testing.T) {
	srv := watchServer(newFakeWatcher())

	body := `{"protocol":"AAVE","address":"9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/watchlist", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistRejectsBadAddress(t *testing.T) {
	ctrl := newFakeWatcher()
	ctrl.watchErr = errors.New("address not on the ed25519 curve")
	srv := watchServer(ctrl)

	body := `{"protocol":"DRIFT","address":"bogus"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/watchlist", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistRemoveUnknownIs404(t *testing.T) {
	srv := watchServer(newFakeWatcher())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/watchlist/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWatchlistDisabledWithoutController(t *testing.T) {
	srv := testServer(&stubSource{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/watchlist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertsEndpoint(t *testing.T) {
	srv := testServer(&stubSource{})
	srv.alerts.Dispatch(context.Background(), &domain.Alert{ID: "a1", Type: domain.AlertInfo})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Alerts []*domain.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "a1", resp.Alerts[0].ID)
}

// Package api exposes the monitor's read/control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"solana-liq-monitor/internal/alerting"
	"solana-liq-monitor/internal/coordinator"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/observability"
	"solana-liq-monitor/internal/storage"
)

// StatusSource provides the position statuses and health the API reports.
// The coordinator implements it.
type StatusSource interface {
	Statuses() map[string]*coordinator.PositionStatus
	Health(ctx context.Context) coordinator.Health
}

// WatchController adds and removes watched accounts. The monitor
// implements it.
type WatchController interface {
	Watch(ctx context.Context, protocol domain.Protocol, address string) error
	Unwatch(ctx context.Context, address string) error
}

// Server serves the REST API and the Prometheus scrape endpoint.
type Server struct {
	coord     StatusSource
	alerts    *alerting.Manager
	watch     WatchController
	watchlist storage.WatchlistStore
	log       *zap.SugaredLogger
	router    *mux.Router
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithWatchlist enables the watchlist endpoints, routing watch and unwatch
// requests through ctrl and persisting them in store.
func WithWatchlist(ctrl WatchController, store storage.WatchlistStore) Option {
	return func(s *Server) {
		s.watch = ctrl
		s.watchlist = store
	}
}

// NewServer builds the HTTP server around a coordinator and alert manager.
func NewServer(coord StatusSource, alerts *alerting.Manager, log *zap.Logger, opts ...Option) *Server {
	s := &Server{
		coord:  coord,
		alerts: alerts,
		log:    log.Sugar().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(s.recovery)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/thresholds", s.handleGetThresholds).Methods(http.MethodGet)
	v1.HandleFunc("/thresholds", s.handlePutThresholds).Methods(http.MethodPut)
	v1.HandleFunc("/sinks/stats", s.handleSinkStats).Methods(http.MethodGet)
	if s.watch != nil {
		v1.HandleFunc("/watchlist", s.handleListWatch).Methods(http.MethodGet)
		v1.HandleFunc("/watchlist", s.handleAddWatch).Methods(http.MethodPost)
		v1.HandleFunc("/watchlist/{address}", s.handleRemoveWatch).Methods(http.MethodDelete)
	}

	r.Handle("/metrics", observability.Handler()).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// positionView is one enriched position in the /positions response.
type positionView struct {
	Position   *domain.Position              `json:"position"`
	Score      *domain.RiskScore             `json:"score,omitempty"`
	Prediction *domain.LiquidationPrediction `json:"prediction,omitempty"`
	// NotComputed carries the failure reason when the last cycle could
	// not score this position.
	NotComputed string `json:"not_computed,omitempty"`
}

// positionSummary buckets the tracked positions by severity.
type positionSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Healthy  int `json:"healthy"`
}

type positionsResponse struct {
	Summary   positionSummary `json:"summary"`
	Positions []positionView  `json:"positions"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	statuses := s.coord.Statuses()

	resp := positionsResponse{Positions: make([]positionView, 0, len(statuses))}
	for _, st := range statuses {
		view := positionView{
			Position:    st.Position,
			Score:       st.Score,
			Prediction:  st.Prediction,
			NotComputed: st.NotComputed,
		}
		resp.Positions = append(resp.Positions, view)

		resp.Summary.Total++
		switch {
		case st.Score == nil:
		case st.Score.Level == domain.RiskCritical:
			resp.Summary.Critical++
		case st.Score.Level == domain.RiskHigh || st.Score.Level == domain.RiskMedium:
			resp.Summary.Warning++
		default:
			resp.Summary.Healthy++
		}
	}
	sort.Slice(resp.Positions, func(i, j int) bool {
		return resp.Positions[i].Position.ID < resp.Positions[j].Position.ID
	})

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h := s.coord.Health(ctx)
	status := http.StatusOK
	if !h.LastCycleOK || !h.TransportConnected {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": s.alerts.History(limit),
	})
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alerts.Thresholds())
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var t alerting.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid thresholds payload")
		return
	}
	if t.WarningHealthFactor <= t.CriticalHealthFactor {
		s.writeError(w, http.StatusBadRequest, "warning health factor must exceed critical")
		return
	}
	if t.CriticalCooldown > t.WarningCooldown {
		s.writeError(w, http.StatusBadRequest, "critical cooldown must not exceed warning cooldown")
		return
	}

	s.alerts.UpdateThresholds(t)
	s.log.Infow("thresholds updated",
		"warning_hf", t.WarningHealthFactor, "critical_hf", t.CriticalHealthFactor)
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleSinkStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.alerts.Stats())
}

func (s *Server) handleListWatch(w http.ResponseWriter, r *http.Request) {
	entries, err := s.watchlist.List(r.Context())
	if err != nil {
		s.log.Errorw("watchlist list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "watchlist unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Protocol string `json:"protocol"`
		Address  string `json:"address"`
		Label    string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid watch payload")
		return
	}
	protocol := domain.Protocol(req.Protocol)
	if !protocol.IsValid() {
		s.writeError(w, http.StatusBadRequest, "unknown protocol")
		return
	}
	if err := s.watch.Watch(r.Context(), protocol, req.Address); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry := &domain.WatchEntry{
		Address:  req.Address,
		Protocol: protocol,
		Label:    req.Label,
		AddedAt:  time.Now().UTC(),
	}
	if err := s.watchlist.Add(r.Context(), entry); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		s.log.Errorw("watchlist persist failed", "address", req.Address, "error", err)
	}
	s.log.Infow("address watched", "protocol", protocol, "address", req.Address)
	s.writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := s.watch.Unwatch(r.Context(), address); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.watchlist.Remove(r.Context(), address); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Errorw("watchlist remove failed", "address", address, "error", err)
	}
	s.log.Infow("address unwatched", "address", address)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Errorw("handler panicked", "path", r.URL.Path, "panic", rec)
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

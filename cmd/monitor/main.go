// Package main runs the liquidation monitor: watched lending positions are
// tracked over WebSocket, scored every cycle and alerted on via the
// configured sinks, with a REST API and Prometheus metrics on the side.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"solana-liq-monitor/internal/alerting"
	"solana-liq-monitor/internal/api"
	"solana-liq-monitor/internal/config"
	"solana-liq-monitor/internal/coordinator"
	"solana-liq-monitor/internal/decode"
	"solana-liq-monitor/internal/domain"
	"solana-liq-monitor/internal/logging"
	"solana-liq-monitor/internal/monitor"
	"solana-liq-monitor/internal/observability"
	"solana-liq-monitor/internal/oracle"
	"solana-liq-monitor/internal/risk"
	"solana-liq-monitor/internal/solana"
	"solana-liq-monitor/internal/storage"
	chstore "solana-liq-monitor/internal/storage/clickhouse"
	"solana-liq-monitor/internal/storage/memory"
	"solana-liq-monitor/internal/storage/migrations"
	pgstore "solana-liq-monitor/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logging.New(cfg.App.LogLevel, cfg.App.Env)
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()
	slog := log.Sugar().Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		slog.Fatalw("monitor exited", "error", err)
	}
	slog.Infow("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	slog := log.Sugar().Named("main")
	metrics := observability.NewMetrics("")

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL,
		solana.WithTimeout(cfg.Solana.RPCTimeout),
		solana.WithMaxRetries(cfg.Solana.RPCMaxRetries),
		solana.WithRateLimit(cfg.Solana.RPCRatePerMin),
		solana.WithMetrics(metrics),
	)

	wsCfg := &solana.WSClientConfig{
		ReconnectDelay:       cfg.Monitor.ReconnectDelay,
		MaxReconnectDelay:    cfg.Monitor.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Monitor.MaxReconnectAttempts,
		PingInterval:         cfg.Monitor.PingInterval,
	}
	ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, wsCfg, log.Sugar(), func(state solana.ConnState) {
		if state == solana.StateReconnecting {
			metrics.WSReconnects.Inc()
		}
	})
	if err != nil {
		return err
	}
	defer ws.Close()

	reserves := decode.NewReserveCache()
	registry := decode.NewRegistry()

	// Prices come from decoded reserve records; the resolver caches them
	// and serves the last known value when a mint has no fresh reserve.
	resolver := oracle.NewResolver(reservePriceSource(reserves), log.Sugar())

	mon := monitor.New(rpc, ws, registry, reserves, resolver.PriceFn(ctx), log,
		monitor.WithMetrics(metrics))

	engine := risk.NewEngine(risk.Config{
		PeriodsPerYear:   risk.DefaultConfig().PeriodsPerYear,
		LiquidationBonus: cfg.Risk.LiquidationBonus,
		Predictor:        risk.DefaultPredictorConfig(),
	}, log.Sugar())

	alerts := alerting.NewManager(alerting.DefaultThresholds(), log)
	alerts.SetMetrics(metrics)
	if err := addSinks(alerts, cfg, slog); err != nil {
		return err
	}

	opts := []coordinator.Option{coordinator.WithTransportHealth(ws, rpc)}

	stores, cleanup, err := buildStores(ctx, cfg, slog)
	if err != nil {
		return err
	}
	defer cleanup()
	opts = append(opts, coordinator.WithPersistence(stores.alerts, stores.snapshots))

	if err := seedWatchlist(ctx, cfg, mon, stores.watchlist, slog); err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		PollInterval:           cfg.Risk.PollInterval,
		ReserveRefreshInterval: cfg.Monitor.ReserveRefreshInterval,
	}, mon, engine, alerts, resolver, metrics, log, opts...)

	// Reserve parameters must be in the cache before the first decode.
	if err := mon.RefreshReserves(ctx); err != nil {
		slog.Warnw("initial reserve discovery incomplete", "error", err)
	}

	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Stop()

	srv := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewServer(coord, alerts, log, api.WithWatchlist(mon, stores.watchlist)).Handler(),
	}
	go func() {
		slog.Infow("api listening", "addr", cfg.API.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Errorw("api server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Infow("monitor started",
		"rpc", cfg.Solana.RPCURL, "poll_interval", cfg.Risk.PollInterval)
	return coord.Run(ctx)
}

// reservePriceSource serves mint prices from the freshest decoded reserve
// record carrying that mint.
func reservePriceSource(reserves *decode.ReserveCache) oracle.Source {
	return func(_ context.Context, mint string) (float64, error) {
		if r := reserves.ByMint(mint); r != nil && r.PriceUSD > 0 {
			return r.PriceUSD, nil
		}
		return 0, oracle.ErrPriceUnavailable
	}
}

func addSinks(alerts *alerting.Manager, cfg *config.Config, slog *zap.SugaredLogger) error {
	base := alerting.SinkConfig{
		RateLimitPerMinute: cfg.Alerts.RateLimitPerMin,
		MaxRetries:         cfg.Alerts.MaxRetries,
	}

	if cfg.Alerts.DiscordWebhookURL != "" {
		c := base
		c.Name, c.Type, c.URL = "discord", alerting.SinkDiscord, cfg.Alerts.DiscordWebhookURL
		alerts.AddSink(alerting.NewDiscordSink(c), c)
		slog.Infow("discord sink enabled")
	}
	if cfg.Alerts.WebhookURL != "" {
		c := base
		c.Name, c.Type, c.URL = "webhook", alerting.SinkWebhook, cfg.Alerts.WebhookURL
		alerts.AddSink(alerting.NewWebhookSink(c), c)
		slog.Infow("webhook sink enabled")
	}
	if cfg.Alerts.TelegramBotToken != "" {
		c := base
		c.Name, c.Type = "telegram", alerting.SinkTelegram
		c.BotToken, c.ChatID = cfg.Alerts.TelegramBotToken, cfg.Alerts.TelegramChatID
		sink, err := alerting.NewTelegramSink(c)
		if err != nil {
			return err
		}
		alerts.AddSink(sink, c)
		slog.Infow("telegram sink enabled")
	}
	return nil
}

type storeSet struct {
	alerts    storage.AlertStore
	snapshots storage.RiskSnapshotStore
	watchlist storage.WatchlistStore
}

// buildStores connects the optional persistence layers. Memory stores back
// the coordinator when postgres or clickhouse are not configured.
func buildStores(ctx context.Context, cfg *config.Config, slog *zap.SugaredLogger) (*storeSet, func(), error) {
	stores := &storeSet{
		alerts:    memory.NewAlertStore(),
		snapshots: memory.NewRiskSnapshotStore(),
		watchlist: memory.NewWatchlistStore(),
	}
	cleanup := func() {}

	if cfg.Postgres.Enabled() {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		stores.alerts = pgstore.NewAlertStore(pool)
		stores.watchlist = pgstore.NewWatchlistStore(pool)
		cleanup = pool.Close
		slog.Infow("postgres persistence enabled", "db", cfg.Postgres.Database)
	}

	if cfg.Click.Enabled() {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Click.DSN())
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores.snapshots = chstore.NewRiskSnapshotStore(conn)
		prev := cleanup
		cleanup = func() {
			conn.Close()
			prev()
		}
		slog.Infow("clickhouse archive enabled", "db", cfg.Click.Database)
	}

	return stores, cleanup, nil
}

// seedWatchlist loads persisted watch entries and the WATCH_ADDRESSES seed
// list into the monitor. Seed entries are persisted so they survive into
// the API's watchlist view.
func seedWatchlist(ctx context.Context, cfg *config.Config, mon *monitor.Monitor, store storage.WatchlistStore, slog *zap.SugaredLogger) error {
	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := mon.Watch(ctx, e.Protocol, e.Address); err != nil {
			slog.Warnw("watchlist entry skipped", "address", e.Address, "error", err)
		}
	}
	if len(entries) > 0 {
		slog.Infow("watchlist restored", "entries", len(entries))
	}

	for _, raw := range cfg.Monitor.WatchAddresses {
		proto, addr, _ := strings.Cut(raw, ":")
		protocol := domain.Protocol(strings.ToUpper(proto))
		if err := mon.Watch(ctx, protocol, addr); err != nil {
			return fmt.Errorf("seed watch %q: %w", raw, err)
		}
		err := store.Add(ctx, &domain.WatchEntry{
			Address:  addr,
			Protocol: protocol,
			Label:    "seed",
			AddedAt:  time.Now().UTC(),
		})
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			slog.Warnw("seed watch persist failed", "address", addr, "error", err)
		}
	}
	if len(cfg.Monitor.WatchAddresses) > 0 {
		slog.Infow("seed watchlist applied", "entries", len(cfg.Monitor.WatchAddresses))
	}
	return nil
}

// Package config loads process configuration from the environment, with an
// optional .env file for local development. Validation failures are fatal
// at startup and nowhere else.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Solana   SolanaConfig
	Monitor  MonitorConfig
	Risk     RiskConfig
	Alerts   AlertConfig
	API      APIConfig
	Postgres PostgresConfig
	Click    ClickHouseConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"solana-liq-monitor"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type SolanaConfig struct {
	RPCURL        string        `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	WSURL         string        `envconfig:"SOLANA_WS_URL" default:"wss://api.mainnet-beta.solana.com"`
	RPCTimeout    time.Duration `envconfig:"SOLANA_RPC_TIMEOUT" default:"30s"`
	RPCMaxRetries int           `envconfig:"SOLANA_RPC_MAX_RETRIES" default:"3"`
	RPCRatePerMin int           `envconfig:"SOLANA_RPC_RATE_PER_MIN" default:"300"`
}

type MonitorConfig struct {
	ReconnectDelay       time.Duration `envconfig:"WS_RECONNECT_DELAY" default:"1s"`
	MaxReconnectDelay    time.Duration `envconfig:"WS_MAX_RECONNECT_DELAY" default:"30s"`
	MaxReconnectAttempts int           `envconfig:"WS_MAX_RECONNECT_ATTEMPTS" default:"10"`
	PingInterval         time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`

	// ReserveRefreshInterval is how often reserve/bank/market accounts are
	// re-discovered after the initial scan at startup.
	ReserveRefreshInterval time.Duration `envconfig:"RESERVE_REFRESH_INTERVAL" default:"10m"`
	// WatchAddresses seeds the watchlist at startup. Each entry is
	// "PROTOCOL:address", e.g. "MARGINFI:9xQeW...".
	WatchAddresses []string `envconfig:"WATCH_ADDRESSES"`
}

type RiskConfig struct {
	PollInterval     time.Duration `envconfig:"RISK_POLL_INTERVAL" default:"1m"`
	LiquidationBonus float64       `envconfig:"RISK_LIQUIDATION_BONUS" default:"0.05"`
}

type AlertConfig struct {
	DiscordWebhookURL string `envconfig:"ALERT_DISCORD_WEBHOOK_URL"`
	WebhookURL        string `envconfig:"ALERT_WEBHOOK_URL"`
	TelegramBotToken  string `envconfig:"ALERT_TELEGRAM_BOT_TOKEN"`
	TelegramChatID    int64  `envconfig:"ALERT_TELEGRAM_CHAT_ID"`
	RateLimitPerMin   int    `envconfig:"ALERT_RATE_LIMIT_PER_MIN" default:"20"`
	MaxRetries        int    `envconfig:"ALERT_MAX_RETRIES" default:"3"`
}

type APIConfig struct {
	ListenAddr string `envconfig:"API_LISTEN_ADDR" default:":8080"`
}

// PostgresConfig is optional; an empty host disables postgres persistence.
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"liqmonitor"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
}

func (c PostgresConfig) Enabled() bool { return c.Host != "" }

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// ClickHouseConfig is optional; an empty host disables the snapshot archive.
type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"liqmonitor"`
}

func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

func (c ClickHouseConfig) DSN() string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
		User:   url.UserPassword(c.User, c.Password),
	}
	return u.String()
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fails fast on configuration that cannot produce a working
// process.
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL must not be empty")
	}
	if c.Solana.WSURL == "" {
		return fmt.Errorf("SOLANA_WS_URL must not be empty")
	}
	if c.Risk.PollInterval <= 0 {
		return fmt.Errorf("RISK_POLL_INTERVAL must be positive, got %s", c.Risk.PollInterval)
	}
	if c.Risk.LiquidationBonus < 0 || c.Risk.LiquidationBonus >= 1 {
		return fmt.Errorf("RISK_LIQUIDATION_BONUS must be in [0,1), got %f", c.Risk.LiquidationBonus)
	}
	if c.Monitor.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS must be positive, got %d", c.Monitor.MaxReconnectAttempts)
	}
	if (c.Alerts.TelegramBotToken == "") != (c.Alerts.TelegramChatID == 0) {
		return fmt.Errorf("ALERT_TELEGRAM_BOT_TOKEN and ALERT_TELEGRAM_CHAT_ID must be set together")
	}
	if c.Monitor.ReserveRefreshInterval <= 0 {
		return fmt.Errorf("RESERVE_REFRESH_INTERVAL must be positive, got %s", c.Monitor.ReserveRefreshInterval)
	}
	for _, entry := range c.Monitor.WatchAddresses {
		if _, _, ok := strings.Cut(entry, ":"); !ok {
			return fmt.Errorf("WATCH_ADDRESSES entry %q must be PROTOCOL:address", entry)
		}
	}
	return nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "solana-liq-monitor", cfg.App.Name)
	assert.Equal(t, time.Minute, cfg.Risk.PollInterval)
	assert.Equal(t, 10, cfg.Monitor.MaxReconnectAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Monitor.ReserveRefreshInterval)
	assert.Empty(t, cfg.Monitor.WatchAddresses)
	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.Click.Enabled())
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Risk.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Risk.LiquidationBonus = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Alerts.TelegramBotToken = "token-without-chat"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Solana.WSURL = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Monitor.ReserveRefreshInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Monitor.WatchAddresses = []string{"missing-protocol-separator"}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsSeedWatchlist(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Monitor.WatchAddresses = []string{"MARGINFI:9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"}
	assert.NoError(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	c := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "liq", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=liq sslmode=disable", c.DSN())
	assert.True(t, c.Enabled())
}

func TestClickHouseDSN(t *testing.T) {
	c := ClickHouseConfig{Host: "ch", Port: 9000, User: "default", Database: "liq"}
	assert.Equal(t, "clickhouse://default:@ch:9000/liq", c.DSN())
}

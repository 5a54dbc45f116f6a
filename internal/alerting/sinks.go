package alerting

import (
	"context"
	"time"

	"solana-liq-monitor/internal/domain"
)

// SinkType selects the payload format for a configured sink.
type SinkType string

const (
	SinkDiscord  SinkType = "discord"
	SinkTelegram SinkType = "telegram"
	SinkWebhook  SinkType = "webhook"
)

// SinkConfig configures one notification sink.
type SinkConfig struct {
	Name string
	Type SinkType
	// URL is the webhook endpoint (discord/webhook types).
	URL string
	// BotToken and ChatID apply to telegram sinks.
	BotToken string
	ChatID   int64

	// RateLimitPerMinute bounds sends per sliding 60s window; 0 means
	// unlimited.
	RateLimitPerMinute int
	// MaxRetries bounds delivery attempts per alert.
	MaxRetries int
	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration
	// Timeout bounds one delivery attempt.
	Timeout time.Duration
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Sink delivers formatted alerts to one external destination.
type Sink interface {
	// Name identifies the sink in configuration and statistics.
	Name() string

	// Send delivers one alert. Implementations perform a single attempt;
	// retry discipline lives in the Manager.
	Send(ctx context.Context, alert *domain.Alert) error
}

// SinkStats accumulates per-sink delivery statistics.
type SinkStats struct {
	Sent         int64   `json:"sent"`
	Failed       int64   `json:"failed"`
	RateLimited  int64   `json:"rate_limited"`
	LastSuccess  int64   `json:"last_success,omitempty"` // Unix milliseconds
	LastFailure  int64   `json:"last_failure,omitempty"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

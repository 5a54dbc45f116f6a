package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"solana-liq-monitor/internal/domain"
)

// WebhookSink posts alerts as a plain JSON envelope to an arbitrary HTTP
// endpoint.
type WebhookSink struct {
	name   string
	url    string
	client *http.Client
}

type webhookEnvelope struct {
	Alert     *domain.Alert `json:"alert"`
	Source    string        `json:"source"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewWebhookSink(cfg SinkConfig) *WebhookSink {
	cfg = cfg.withDefaults()
	return &WebhookSink{
		name:   cfg.Name,
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *WebhookSink) Name() string { return s.name }

func (s *WebhookSink) Send(ctx context.Context, alert *domain.Alert) error {
	body, err := json.Marshal(webhookEnvelope{
		Alert:     alert,
		Source:    "solana-liq-monitor",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

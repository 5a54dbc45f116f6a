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

const (
	colorCritical = 0xE74C3C
	colorWarning  = 0xF39C12
	colorInfo     = 0x3498DB
)

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordSink posts alerts to a Discord webhook as rich embeds.
type DiscordSink struct {
	name   string
	url    string
	client *http.Client
}

func NewDiscordSink(cfg SinkConfig) *DiscordSink {
	cfg = cfg.withDefaults()
	return &DiscordSink{
		name:   cfg.Name,
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *DiscordSink) Name() string { return s.name }

func (s *DiscordSink) Send(ctx context.Context, alert *domain.Alert) error {
	payload := discordPayload{
		Username: "liq-monitor",
		Embeds:   []discordEmbed{embedFor(alert)},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func embedFor(alert *domain.Alert) discordEmbed {
	color := colorInfo
	switch alert.Type {
	case domain.AlertCritical:
		color = colorCritical
	case domain.AlertWarning, domain.AlertPrediction:
		color = colorWarning
	}

	fields := []discordEmbedField{
		{Name: "Protocol", Value: string(alert.Protocol), Inline: true},
		{Name: "Position", Value: alert.PositionID, Inline: true},
	}
	if alert.HealthFactor > 0 {
		fields = append(fields, discordEmbedField{
			Name:   "Health Factor",
			Value:  fmt.Sprintf("%.4f", alert.HealthFactor),
			Inline: true,
		})
	}
	for k, v := range alert.Payload {
		fields = append(fields, discordEmbedField{Name: k, Value: fmt.Sprintf("%v", v), Inline: true})
	}

	return discordEmbed{
		Title:       alert.Title,
		Description: alert.Message,
		Color:       color,
		Fields:      fields,
		Timestamp:   alert.CreatedAt.UTC().Format(time.RFC3339),
	}
}

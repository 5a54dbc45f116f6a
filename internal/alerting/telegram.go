package alerting

import (
	"context"
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"solana-liq-monitor/internal/domain"
)

// telegramAPI is the slice of the bot client the sink needs; it lets tests
// substitute a fake without network access.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink delivers alerts to a Telegram chat via the Bot API.
type TelegramSink struct {
	name   string
	chatID int64
	bot    telegramAPI
}

func NewTelegramSink(cfg SinkConfig) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramSink{name: cfg.Name, chatID: cfg.ChatID, bot: bot}, nil
}

func (s *TelegramSink) Name() string { return s.name }

func (s *TelegramSink) Send(ctx context.Context, alert *domain.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(s.chatID, formatTelegram(alert))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func formatTelegram(alert *domain.Alert) string {
	icon := "ℹ️"
	switch alert.Type {
	case domain.AlertCritical:
		icon = "🚨"
	case domain.AlertWarning:
		icon = "⚠️"
	case domain.AlertPrediction:
		icon = "🔮"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", icon, alert.Title)
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Protocol: `%s`\n", alert.Protocol)
	fmt.Fprintf(&b, "Position: `%s`\n", alert.PositionID)
	if alert.HealthFactor > 0 {
		fmt.Fprintf(&b, "Health factor: `%.4f`\n", alert.HealthFactor)
	}

	keys := make([]string, 0, len(alert.Payload))
	for k := range alert.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: `%v`\n", k, alert.Payload[k])
	}
	return b.String()
}

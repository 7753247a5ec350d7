package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v3"
)

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	bot    *tele.Bot
	chat   *tele.Chat
	logger *slog.Logger
}

// NewTelegramNotifier creates a Telegram notifier. apiURL overrides the Bot
// API endpoint and may be empty. The bot runs offline: it only sends.
func NewTelegramNotifier(botToken string, chatID int64, apiURL string, logger *slog.Logger) (*TelegramNotifier, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:   botToken,
		URL:     apiURL,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramNotifier{
		bot:    b,
		chat:   &tele.Chat{ID: chatID},
		logger: logger.With("component", "telegram"),
	}, nil
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	text := fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	if _, err := t.bot.Send(t.chat, text, tele.ModeMarkdownV2); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}

	t.logger.Debug("sent alert", "title", alert.Title)
	return nil
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

// Package notify delivers certificate-expiry and fleet-lifecycle alerts.
//
// The sweep engine buckets the latest successful checks into severity tiers
// and sends one batched message per tier, deduplicated per node, tier, and
// UTC calendar day. Dedup records are written only after the sink confirms
// delivery, so a failed send is retried on the next sweep.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// Sink delivers one alert message to an external channel.
type Sink interface {
	// Enabled reports whether the sink is configured for delivery.
	Enabled() bool

	// Send delivers the message. The text uses Telegram HTML markup.
	Send(ctx context.Context, text string) error
}

// TelegramSink sends messages via the Telegram Bot API. An unconfigured sink
// (missing token or chat id) is valid and reports Enabled() == false.
type TelegramSink struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

// NewTelegramSink creates a Telegram sink.
func NewTelegramSink(botToken, chatID string, logger *slog.Logger) *TelegramSink {
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With("component", "telegram"),
	}
}

// Enabled reports whether both the bot token and chat id are configured.
func (s *TelegramSink) Enabled() bool {
	return s.botToken != "" && s.chatID != ""
}

// Send posts one sendMessage call to the Bot API.
func (s *TelegramSink) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		return fmt.Errorf("telegram sink is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"chat_id":                  s.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("encoding telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram API returned %d: %s", resp.StatusCode, string(body))
	}

	s.logger.Debug("telegram message sent", "chars", len(text))
	return nil
}

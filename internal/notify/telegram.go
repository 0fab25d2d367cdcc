package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chainflowlabs/sentinel/internal/domain"
)

// TelegramSender delivers events via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// severityEmoji maps event severity to a message prefix.
func severityEmoji(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "🚨"
	case domain.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// formatEvent renders an event as a Markdown message body shared by all HTTP
// senders: bold kind line, message, then the structured payload as key=value
// lines.
func formatEvent(evt domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n%s", severityEmoji(evt.Severity), evt.Kind, evt.Message)
	for k, v := range evt.Payload {
		fmt.Fprintf(&b, "\n%s=%v", k, v)
	}
	return b.String()
}

// Send posts the event to the configured Telegram chat using the sendMessage
// API.
func (t *TelegramSender) Send(ctx context.Context, evt domain.Event) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       formatEvent(evt),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// TelegramChannel sends alerts to a chat via bot API.
type TelegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
	baseURL  string // test override
}

// NewTelegramChannel registers bot token and chat identifier.
func NewTelegramChannel(botToken, chatID string, client *http.Client) *TelegramChannel {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		baseURL:  "https://api.telegram.org",
	}
}

// Name identifies the channel in fan-out results.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send posts a Markdown message to Telegram.
func (t *TelegramChannel) Send(ctx context.Context, message string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram channel misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", message)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}
	return nil
}

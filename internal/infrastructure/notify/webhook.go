package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// WebhookChannel posts an alert to one incoming-webhook endpoint. The
// payload shape depends on the channel name: feishu, dingtalk and wework
// use their bot formats, anything else gets a plain {"text": ...} body.
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel wires one webhook endpoint.
func NewWebhookChannel(name, url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &WebhookChannel{name: name, url: url, client: client}
}

// Name identifies the channel in fan-out results.
func (w *WebhookChannel) Name() string { return w.name }

// Send posts the alert to the webhook.
func (w *WebhookChannel) Send(ctx context.Context, message string) error {
	if w.url == "" {
		return fmt.Errorf("%s channel misconfigured", w.name)
	}

	body, err := json.Marshal(w.payload(message))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s error: %s", w.name, resp.Status)
	}
	return nil
}

func (w *WebhookChannel) payload(message string) any {
	switch w.name {
	case "feishu":
		return map[string]any{
			"msg_type": "text",
			"content":  map[string]string{"text": message},
		}
	case "dingtalk":
		return map[string]any{
			"msgtype": "markdown",
			"markdown": map[string]string{
				"title": "重要热点提醒",
				"text":  message,
			},
		}
	case "wework":
		return map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": message},
		}
	default:
		return map[string]string{"text": message}
	}
}

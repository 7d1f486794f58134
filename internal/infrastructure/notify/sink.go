// Package notify fans important-item alerts out to the configured push
// channels. Channels are independent: one failing or hanging never blocks
// the rest, and the caller gets a per-channel outcome map.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
	"github.com/starCarlos/HotSpot-Hunter/internal/ports"
)

// Channel is one concrete push target.
type Channel interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// Sink implements NotificationSink over a set of channels.
type Sink struct {
	channels []Channel
	logger   *slog.Logger
}

var _ ports.NotificationSink = (*Sink)(nil)

// NewSink builds the fan-out over explicit channels.
func NewSink(channels []Channel, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{channels: channels, logger: log}
}

// FromConfig wires every channel the configuration enables. A setup with
// no channels returns a sink whose sends report an empty map.
func FromConfig(cfg config.NotificationConfig, client *http.Client, log *slog.Logger) *Sink {
	var channels []Channel
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		channels = append(channels, NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.ChatID, client))
	}
	if cfg.FeishuWebhookURL != "" {
		channels = append(channels, NewWebhookChannel("feishu", cfg.FeishuWebhookURL, client))
	}
	if cfg.DingTalkWebhookURL != "" {
		channels = append(channels, NewWebhookChannel("dingtalk", cfg.DingTalkWebhookURL, client))
	}
	if cfg.WeworkWebhookURL != "" {
		channels = append(channels, NewWebhookChannel("wework", cfg.WeworkWebhookURL, client))
	}
	if cfg.GenericWebhookURL != "" {
		channels = append(channels, NewWebhookChannel("webhook", cfg.GenericWebhookURL, client))
	}
	return NewSink(channels, log)
}

// Enabled reports whether any channel is configured.
func (s *Sink) Enabled() bool { return len(s.channels) > 0 }

// SendImportant renders the alert once and pushes it to every channel
// concurrently. The result maps channel name to delivery success.
func (s *Sink) SendImportant(ctx context.Context, items []domain.ImportantItem) map[string]bool {
	results := make(map[string]bool, len(s.channels))
	if len(items) == 0 || len(s.channels) == 0 {
		return results
	}

	message := renderImportant(items)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, channel := range s.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			err := ch.Send(ctx, message)
			if err != nil {
				s.logger.Warn("notification failed", "channel", ch.Name(), "err", err)
			}
			mu.Lock()
			results[ch.Name()] = err == nil
			mu.Unlock()
		}(channel)
	}
	wg.Wait()
	return results
}

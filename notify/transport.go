package notify

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmdatafocus/lease_backend/models"
	"github.com/sirupsen/logrus"
)

// LogTransport writes the message to the process log instead of delivering it.
type LogTransport struct {
	Logger *logrus.Logger
}

func (t LogTransport) Send(ctx context.Context, msg Message) error {
	t.Logger.WithFields(logrus.Fields{
		"field":   "LogTransport",
		"event":   msg.Event,
		"channel": msg.Channel,
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info(msg.Body)
	return nil
}

// WebhookTransport posts the message as JSON to a provider relay.
type WebhookTransport struct {
	client *resty.Client
	url    string
}

func NewWebhookTransport(url, token string, timeout time.Duration) *WebhookTransport {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &WebhookTransport{client: client, url: url}
}

func (t *WebhookTransport) Send(ctx context.Context, msg Message) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(t.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", msg.Channel, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: status %d: %s", msg.Channel, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

var allChannels = []models.NotificationChannel{
	models.ChannelEmail, models.ChannelWhatsApp, models.ChannelSMS, models.ChannelPush,
}

// TransportsFromEnv wires NOTIFY_<CHANNEL>_WEBHOOK_URL per channel. Channels without a
// URL go to the log when NOTIFY_LOG_FALLBACK is not "false".
func TransportsFromEnv(logger *logrus.Logger) map[models.NotificationChannel]Transport {
	token := os.Getenv("NOTIFY_WEBHOOK_TOKEN")
	timeout := 10 * time.Second
	if d, err := time.ParseDuration(os.Getenv("NOTIFY_WEBHOOK_TIMEOUT")); err == nil && d > 0 {
		timeout = d
	}
	logFallback := strings.ToLower(os.Getenv("NOTIFY_LOG_FALLBACK")) != "false"

	transports := make(map[models.NotificationChannel]Transport, len(allChannels))
	for _, ch := range allChannels {
		key := "NOTIFY_" + strings.ToUpper(string(ch)) + "_WEBHOOK_URL"
		if url := strings.TrimSpace(os.Getenv(key)); url != "" {
			transports[ch] = NewWebhookTransport(url, token, timeout)
			continue
		}
		if logFallback {
			transports[ch] = LogTransport{Logger: logger}
		}
	}
	return transports
}

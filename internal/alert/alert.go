// Package alert delivers target failure notifications.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/permitstream/harvester/internal/permit"
)

// Log writes alerts to the service log. It is the always-on baseline
// delivery path.
type Log struct {
	logger *zap.Logger
}

// NewLog creates a Log alerter.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

// Alert logs the failure at error level.
func (l *Log) Alert(_ context.Context, target string, reason string, failures int) error {
	l.logger.Error("target failing repeatedly",
		zap.String("target", target),
		zap.Int("consecutive_failures", failures),
		zap.String("reason", reason))
	return nil
}

// Webhook posts alerts as JSON to a configured URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook alerter.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Target              string `json:"target"`
	Reason              string `json:"reason"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RaisedAt            string `json:"raised_at"`
}

// Alert posts the failure to the webhook. Any non-2xx response is an error.
func (w *Webhook) Alert(ctx context.Context, target string, reason string, failures int) error {
	body, err := json.Marshal(webhookPayload{
		Target:              target,
		Reason:              reason,
		ConsecutiveFailures: failures,
		RaisedAt:            time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Multi fans one alert out to several alerters, returning the first
// delivery error after trying all of them.
type Multi struct {
	alerters []permit.Alerter
}

// NewMulti creates a Multi from the given alerters.
func NewMulti(alerters ...permit.Alerter) *Multi {
	return &Multi{alerters: alerters}
}

// Alert delivers to every alerter.
func (m *Multi) Alert(ctx context.Context, target string, reason string, failures int) error {
	var firstErr error
	for _, a := range m.alerters {
		if err := a.Alert(ctx, target, reason, failures); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/veldtlabs/market-indexer/internal/metrics"
)

type Type string

const (
	TypeSyncStalled       Type = "SYNC_STALLED"
	TypeRewardsFailure    Type = "REWARDS_FAILURE"
	TypeBlockTimeExceeded Type = "BLOCKTIME_RETRIES_EXCEEDED"
)

type Alert struct {
	Type    Type
	Title   string
	Message string
	Fields  map[string]string
}

// Alerter delivers operator alerts. A nil Alerter is valid and drops alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// WebhookAlerter posts alerts as JSON to a generic webhook, suppressing
// repeats of the same type within the cooldown window.
type WebhookAlerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	lastSent map[Type]time.Time
}

func NewWebhookAlerter(webhookURL string, cooldown time.Duration, logger *slog.Logger) *WebhookAlerter {
	if cooldown <= 0 {
		cooldown = 10 * time.Minute
	}
	return &WebhookAlerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "alerter"),
		lastSent:   make(map[Type]time.Time),
	}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	w.mu.Lock()
	if last, ok := w.lastSent[alert.Type]; ok && time.Since(last) < w.cooldown {
		w.mu.Unlock()
		w.logger.Debug("alert suppressed by cooldown", "type", alert.Type)
		return nil
	}
	w.lastSent[alert.Type] = time.Now()
	w.mu.Unlock()

	payload, err := json.Marshal(map[string]interface{}{
		"type":    alert.Type,
		"title":   alert.Title,
		"message": alert.Message,
		"fields":  alert.Fields,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook status %d", resp.StatusCode)
	}

	metrics.AlertsSentTotal.WithLabelValues(string(alert.Type)).Inc()
	return nil
}

package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "consecutive_failures"
	AlertRecovered           AlertType = "recovered"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against the failure threshold and
// sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Second,
			MaxBackoff:     time.Second,
			OnRetry:        resilience.RetryLogger("monitoring", "webhook"),
		},
		now: time.Now,
	}
}

// Threshold returns the number of consecutive failed cycles that raises an
// alert. Zero disables alerting.
func (a *Alerter) Threshold() int {
	if a.cfg.FailureThreshold < 0 {
		return 0
	}
	return a.cfg.FailureThreshold
}

// Evaluate returns an alert when the failure streak has just reached the
// threshold. Longer streaks do not re-alert.
func (a *Alerter) Evaluate(snap MetricsSnapshot) []Alert {
	threshold := a.Threshold()
	if threshold == 0 || snap.ConsecutiveFailures != threshold {
		return nil
	}
	return []Alert{{
		Type:     AlertConsecutiveFailures,
		Severity: "high",
		Message: fmt.Sprintf(
			"%d consecutive pipeline cycles failed (threshold %d)",
			snap.ConsecutiveFailures, threshold,
		),
		Details: map[string]any{
			"consecutive_failures": snap.ConsecutiveFailures,
			"threshold":            threshold,
			"last_error":           snap.LastError,
			"last_file":            snap.LastFile,
			"last_run_id":          snap.LastRunID,
		},
		Timestamp: a.now().UTC(),
	}}
}

// Recovered builds the alert sent when a cycle succeeds after an alerted
// failure streak.
func (a *Alerter) Recovered(snap MetricsSnapshot) Alert {
	return Alert{
		Type:     AlertRecovered,
		Severity: "info",
		Message:  "pipeline cycle succeeded after repeated failures",
		Details: map[string]any{
			"last_run_id": snap.LastRunID,
			"last_file":   snap.LastFile,
		},
		Timestamp: a.now().UTC(),
	}
}

// SendAlerts delivers alerts to the configured webhook URL, retrying a
// transient failure once. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context, _ int) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.FromTransport(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resilience.FromStatus(resp.StatusCode, string(body))
	}
	return nil
}

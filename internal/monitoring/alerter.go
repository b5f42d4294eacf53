package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSubmissionFailureRate AlertType = "submission_failure_rate"
	AlertCredentialExhaustion  AlertType = "credential_exhaustion"
	AlertQuotaOverrun          AlertType = "quota_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check submission failure rate. A handful of attempts is too small
	// a sample to page anyone over.
	attempted := snap.URLsSubmitted + snap.URLsFailed
	if attempted >= 5 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSubmissionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Submission failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.URLsFailed, attempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.URLsFailed,
				"attempted":    attempted,
			},
			Timestamp: now,
		})
	}

	// Check credential exhaustion.
	if snap.RunsExhausted > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCredentialExhaustion,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) ended with the credential pool exhausted in last %dh",
				snap.RunsExhausted, snap.LookbackHours,
			),
			Details: map[string]any{
				"exhausted_runs":   snap.RunsExhausted,
				"unsubmitted_urls": snap.URLsUnsubmitted,
				"total_runs":       snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// Check quota budget overrun.
	if a.cfg.QuotaBudget > 0 && snap.QuotaUsed > a.cfg.QuotaBudget {
		alerts = append(alerts, Alert{
			Type:     AlertQuotaOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Quota use %d exceeds budget %d in last %dh",
				snap.QuotaUsed, a.cfg.QuotaBudget, snap.LookbackHours,
			),
			Details: map[string]any{
				"quota_used":   snap.QuotaUsed,
				"quota_budget": a.cfg.QuotaBudget,
				"total_runs":   snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
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

// sendWebhook posts a single alert to the webhook URL.
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

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

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/registry"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConfidenceDowngrade AlertType = "confidence_downgrade"
	AlertOverallDrop         AlertType = "overall_drop"
	AlertStubShare           AlertType = "stub_share"
)

// minPartitionsForShare is the partition count below which the stub share
// is too noisy to alert on.
const minPartitionsForShare = 5

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

// confidenceRank orders levels from weakest to strongest; unrecognized
// levels rank -1 and never trigger a downgrade.
func confidenceRank(level string) int {
	switch registry.ConfidenceLevel(level) {
	case registry.ConfidenceStub:
		return 0
	case registry.ConfidencePartial:
		return 1
	case registry.ConfidenceAuthoritative:
		return 2
	default:
		return -1
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, tr := range snap.Trends {
		prev := tr.Previous
		if prev == nil {
			continue
		}

		latestRank, prevRank := confidenceRank(tr.Latest.Confidence), confidenceRank(prev.Confidence)
		if latestRank >= 0 && prevRank >= 0 && latestRank < prevRank {
			alerts = append(alerts, Alert{
				Type:     AlertConfidenceDowngrade,
				Severity: "high",
				Message: fmt.Sprintf("%s downgraded from %s to %s (overall %.3f -> %.3f)",
					tr.Key, prev.Confidence, tr.Latest.Confidence, prev.Overall, tr.Latest.Overall),
				Details: map[string]any{
					"key":                 tr.Key.String(),
					"previous_confidence": prev.Confidence,
					"latest_confidence":   tr.Latest.Confidence,
					"previous_snapshot":   prev.SnapshotID,
					"latest_snapshot":     tr.Latest.SnapshotID,
				},
				Timestamp: now,
			})
			continue
		}

		drop := prev.Overall - tr.Latest.Overall
		if a.cfg.OverallDropThreshold > 0 && drop > a.cfg.OverallDropThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertOverallDrop,
				Severity: "medium",
				Message: fmt.Sprintf("%s overall completeness fell %.1f points (%.3f -> %.3f)",
					tr.Key, drop*100, prev.Overall, tr.Latest.Overall),
				Details: map[string]any{
					"key":       tr.Key.String(),
					"drop":      drop,
					"threshold": a.cfg.OverallDropThreshold,
				},
				Timestamp: now,
			})
		}
	}

	if a.cfg.StubShareThreshold > 0 && snap.Partitions >= minPartitionsForShare && snap.StubShare > a.cfg.StubShareThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertStubShare,
			Severity: "high",
			Message: fmt.Sprintf("%.1f%% of partitions are stubs, exceeds threshold %.1f%% (%d of %d)",
				snap.StubShare*100, a.cfg.StubShareThreshold*100,
				snap.ByConfidence[string(registry.ConfidenceStub)], snap.Partitions),
			Details: map[string]any{
				"stub_share": snap.StubShare,
				"threshold":  a.cfg.StubShareThreshold,
				"partitions": snap.Partitions,
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

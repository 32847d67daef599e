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

	"github.com/sells-group/list-enricher/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertEnrichmentFailureRate AlertType = "enrichment_failure_rate"
	AlertExecutionFailureRate  AlertType = "execution_failure_rate"
	AlertEnrichmentBacklog     AlertType = "enrichment_backlog"
	AlertCostOverrun           AlertType = "cost_overrun"
)

// Rates are only judged once this many outcomes exist in the window.
const minOutcomes = 5

// Alert is a single webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and posts breaches to a webhook.
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
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.EnrichmentCompleted + snap.EnrichmentFailed
	if finished >= minOutcomes && snap.EnrichmentFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEnrichmentFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("Enrichment failure rate %.1f%% exceeds %.1f%% (%d failed / %d finished in last %dh)",
				snap.EnrichmentFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.EnrichmentFailed, finished, snap.LookbackHours),
			Details: map[string]any{
				"failure_rate": snap.EnrichmentFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.EnrichmentFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	attempted := snap.ExecutionsTotal - snap.ExecutionsSkipped
	if attempted >= minOutcomes && snap.ExecutionFailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertExecutionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf("Automation execution failure rate %.1f%% exceeds %.1f%% (%d failed / %d attempted in last %dh)",
				snap.ExecutionFailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.ExecutionsFailed, attempted, snap.LookbackHours),
			Details: map[string]any{
				"failure_rate": snap.ExecutionFailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ExecutionsFailed,
				"attempted":    attempted,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BacklogThreshold > 0 && snap.EnrichmentPending > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertEnrichmentBacklog,
			Severity: "medium",
			Message: fmt.Sprintf("%d enrichment entries pending, threshold %d",
				snap.EnrichmentPending, a.cfg.BacklogThreshold),
			Details: map[string]any{
				"pending":    snap.EnrichmentPending,
				"processing": snap.EnrichmentProcessing,
				"threshold":  a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CostThresholdUSD > 0 && snap.ExtractionCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf("Extraction LLM cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.ExtractionCostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours),
			Details: map[string]any{
				"cost_usd":        snap.ExtractionCostUSD,
				"threshold_usd":   a.cfg.CostThresholdUSD,
				"extraction_runs": snap.ExtractionRuns,
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

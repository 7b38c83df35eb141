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

	"github.com/deadonfilm/enrichment-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertSyncFailure    AlertType = "sync_failure"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// minFinishedRuns is the smallest sample the failure-rate alert fires on.
const minFinishedRuns = 5

// Alert is one threshold breach, shaped for the webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns metric snapshots into alerts and pushes them to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter builds an Alerter from the monitoring thresholds.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate compares snap against the configured thresholds.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	if alert, ok := a.failureRateAlert(snap); ok {
		alerts = append(alerts, alert)
	}
	if alert, ok := a.syncFailureAlert(snap); ok {
		alerts = append(alerts, alert)
	}
	if alert, ok := a.costOverrunAlert(snap); ok {
		alerts = append(alerts, alert)
	}
	return alerts
}

func (a *Alerter) failureRateAlert(snap *MetricsSnapshot) (Alert, bool) {
	finished := snap.RunsComplete + snap.RunsFailed
	if finished < minFinishedRuns || snap.RunFailRate <= a.cfg.FailureRateThreshold {
		return Alert{}, false
	}
	msg := fmt.Sprintf(
		"Enrichment failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
		snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
		snap.RunsFailed, finished, snap.LookbackHours,
	)
	return newAlert(AlertRunFailureRate, msg, map[string]any{
		"failure_rate": snap.RunFailRate,
		"threshold":    a.cfg.FailureRateThreshold,
		"failed":       snap.RunsFailed,
		"finished":     finished,
	}), true
}

func (a *Alerter) syncFailureAlert(snap *MetricsSnapshot) (Alert, bool) {
	if snap.SyncFailed == 0 {
		return Alert{}, false
	}
	msg := fmt.Sprintf("%d dataset sync(s) failed in last %dh", snap.SyncFailed, snap.LookbackHours)
	return newAlert(AlertSyncFailure, msg, map[string]any{
		"failed_count": snap.SyncFailed,
		"total_syncs":  snap.SyncTotal,
	}), true
}

func (a *Alerter) costOverrunAlert(snap *MetricsSnapshot) (Alert, bool) {
	if a.cfg.CostThresholdUSD <= 0 || snap.RunCostUSD <= a.cfg.CostThresholdUSD {
		return Alert{}, false
	}
	msg := fmt.Sprintf(
		"Enrichment spend $%.2f exceeds threshold $%.2f in last %dh",
		snap.RunCostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
	)
	return newAlert(AlertCostOverrun, msg, map[string]any{
		"cost_usd":      snap.RunCostUSD,
		"threshold_usd": a.cfg.CostThresholdUSD,
		"runs_total":    snap.RunsTotal,
	}), true
}

func newAlert(typ AlertType, msg string, details map[string]any) Alert {
	return Alert{
		Type:      typ,
		Severity:  "high",
		Message:   msg,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts posts each alert to the webhook, returning how many were
// accepted. A missing webhook URL disables delivery.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	var sent int
	for _, alert := range alerts {
		if err := a.post(ctx, alert); err != nil {
			zap.L().Error("alert delivery failed",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("alert delivered",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
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

	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadonfilm/enrichment-cli/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     5.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     100,
		RunsComplete:  95,
		RunsFailed:    5,
		RunFailRate:   0.05,
		RunCostUSD:    1.0,
		SyncFailed:    0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RunFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     5.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  12,
		RunsFailed:    8,
		RunFailRate:   0.4, // 8/20 = 40%
		RunCostUSD:    0.50,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_SyncFailure(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     5.0,
	})

	snap := &MetricsSnapshot{
		SyncTotal:     5,
		SyncFailed:    2,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSyncFailure, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "2 dataset sync(s)")
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     1.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     50,
		RunsComplete:  48,
		RunsFailed:    2,
		RunFailRate:   0.04,
		RunCostUSD:    2.50,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$2.50")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     1.0,
	})

	snap := &MetricsSnapshot{
		RunsTotal:     20,
		RunsComplete:  10,
		RunsFailed:    10,
		RunFailRate:   0.5,
		RunCostUSD:    3.0,
		SyncTotal:     3,
		SyncFailed:    1,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRunFailureRate])
	assert.True(t, types[AlertSyncFailure])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     5.0,
	})

	// Only 3 finished runs, below the 5-run minimum for the failure rate alert.
	snap := &MetricsSnapshot{
		RunsTotal:     3,
		RunsComplete:  1,
		RunsFailed:    2,
		RunFailRate:   0.666,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertSyncFailure, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRunFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	})

	snap := &MetricsSnapshot{
		RunCostUSD:    999.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

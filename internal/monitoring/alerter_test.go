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

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
)

func trend(utility, latestConf string, latest float64, prevConf string, prev float64) Trend {
	tr := Trend{
		Key:    model.GroupKey{UtilityID: utility},
		Latest: Point{SnapshotID: utility + "-2", Confidence: latestConf, Overall: latest},
	}
	if prevConf != "" {
		tr.Previous = &Point{SnapshotID: utility + "-1", Confidence: prevConf, Overall: prev}
	}
	return tr
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		OverallDropThreshold: 0.10,
		StubShareThreshold:   0.50,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions: 2,
		Trends: []Trend{
			trend("pge", "partial", 0.62, "partial", 0.60),
			trend("smud", "stub", 0.1, "", 0),
		},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ConfidenceDowngrade(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions: 1,
		Trends:     []Trend{trend("pge", "partial", 0.5, "authoritative", 0.95)},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertConfidenceDowngrade, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "pge/*")
	assert.Equal(t, "pge-1", alerts[0].Details["previous_snapshot"])
}

func TestAlerter_Evaluate_UpgradeIsQuiet(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions: 1,
		Trends:     []Trend{trend("pge", "authoritative", 0.95, "stub", 0.2)},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_OverallDrop(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions: 1,
		Trends:     []Trend{trend("pge", "partial", 0.45, "partial", 0.80)},
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertOverallDrop, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.InDelta(t, 0.35, alerts[0].Details["drop"], 0.0001)
}

func TestAlerter_Evaluate_OverallDropDisabled(t *testing.T) {
	t.Parallel()
	a := NewAlerter(config.MonitoringConfig{})

	snap := &MetricsSnapshot{
		Partitions: 1,
		Trends:     []Trend{trend("pge", "partial", 0.45, "partial", 0.80)},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StubShare(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions:   6,
		ByConfidence: map[string]int{"stub": 4, "partial": 2},
		StubShare:    4.0 / 6.0,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStubShare, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "4 of 6")
}

func TestAlerter_Evaluate_StubShareTooFewPartitions(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		Partitions:   2,
		ByConfidence: map[string]int{"stub": 2},
		StubShare:    1,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	t.Parallel()

	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	alerts := []Alert{
		{Type: AlertConfidenceDowngrade, Severity: "high", Message: "a"},
		{Type: AlertOverallDrop, Severity: "medium", Message: "b"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = srv.URL
	a := NewAlerter(cfg)

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStubShare, Severity: "high"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	t.Parallel()
	a := NewAlerter(testMonitoringConfig())

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStubShare}})
	assert.Equal(t, 0, sent)
}

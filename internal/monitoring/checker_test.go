package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, LookbackSnapshots: 10}
	checker := NewChecker(NewCollector(&mockLister{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker.Run did not stop after context cancel")
	}
}

func TestChecker_CheckOnce(t *testing.T) {
	t.Parallel()

	st := &mockLister{snaps: []model.Snapshot{
		snapshot("s2", "pge", "stub", 0.2, 0),
		snapshot("s1", "pge", "partial", 0.6, time.Hour),
	}}
	cfg := config.MonitoringConfig{LookbackSnapshots: 25, OverallDropThreshold: 0.1}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	res, err := checker.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, st.filter.Limit)
	assert.Equal(t, 1, res.Metrics.Partitions)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, AlertConfidenceDowngrade, res.Alerts[0].Type)
	assert.Equal(t, 1, res.Count(AlertConfidenceDowngrade))
	assert.Equal(t, 0, res.Count(AlertOverallDrop))
	assert.Equal(t, 0, res.Sent)
}

func TestCheckResult_Count(t *testing.T) {
	t.Parallel()

	res := &CheckResult{Alerts: []Alert{
		{Type: AlertOverallDrop},
		{Type: AlertConfidenceDowngrade},
		{Type: AlertOverallDrop},
	}}
	assert.Equal(t, 2, res.Count(AlertOverallDrop))
	assert.Equal(t, 1, res.Count(AlertConfidenceDowngrade))
	assert.Equal(t, 0, res.Count(AlertStubShare))
}

func TestLogResult(t *testing.T) {
	t.Parallel()

	metrics := &MetricsSnapshot{Partitions: 2, ByConfidence: map[string]int{"stub": 1}, StubShare: 0.5}
	assert.NotPanics(t, func() {
		logResult(zap.NewNop(), &CheckResult{Metrics: metrics})
		logResult(zap.NewNop(), &CheckResult{Metrics: metrics, Alerts: []Alert{{Type: AlertStubShare}}, Sent: 1})
	})
}

func TestChecker_CheckOnce_Error(t *testing.T) {
	t.Parallel()

	st := &mockLister{err: assert.AnError}
	cfg := config.MonitoringConfig{LookbackSnapshots: 5}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	res, err := checker.CheckOnce(context.Background())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, assert.AnError)
}

// Package monitoring watches saved completeness snapshots for regressions
// and posts alerts to a webhook.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/registry"
)

const defaultCheckInterval = 5 * time.Minute

// CheckResult is the outcome of one regression pass over recent snapshots.
type CheckResult struct {
	Metrics *MetricsSnapshot
	Alerts  []Alert
	// Sent is how many alerts reached the webhook.
	Sent int
}

// Count returns how many alerts of the given type the pass raised.
func (r *CheckResult) Count(t AlertType) int {
	n := 0
	for _, a := range r.Alerts {
		if a.Type == t {
			n++
		}
	}
	return n
}

// Checker compares recent snapshots against their predecessors on a timer.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a snapshot regression checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

// Run checks every CheckIntervalSecs until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: watching snapshots for regressions",
		zap.Duration("interval", interval),
		zap.Int("lookback_snapshots", c.cfg.LookbackSnapshots),
		zap.Float64("overall_drop_threshold", c.cfg.OverallDropThreshold),
		zap.Float64("stub_share_threshold", c.cfg.StubShareThreshold),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			res, err := c.CheckOnce(ctx)
			if err != nil {
				log.Error("monitoring: snapshot check failed", zap.Error(err))
				continue
			}
			logResult(log, res)
		}
	}
}

// CheckOnce reduces the last LookbackSnapshots snapshots to partition
// trends, evaluates them and delivers any alerts.
func (c *Checker) CheckOnce(ctx context.Context) (*CheckResult, error) {
	metrics, err := c.collector.Collect(ctx, c.cfg.LookbackSnapshots)
	if err != nil {
		return nil, err
	}
	res := &CheckResult{Metrics: metrics, Alerts: c.alerter.Evaluate(metrics)}
	res.Sent = c.alerter.SendAlerts(ctx, res.Alerts)
	return res, nil
}

func logResult(log *zap.Logger, res *CheckResult) {
	fields := []zap.Field{
		zap.Int("snapshots_scanned", res.Metrics.SnapshotsScanned),
		zap.Int("partitions", res.Metrics.Partitions),
		zap.Int("stubs", res.Metrics.ByConfidence[string(registry.ConfidenceStub)]),
		zap.Float64("stub_share", res.Metrics.StubShare),
		zap.Int("downgrades", res.Count(AlertConfidenceDowngrade)),
		zap.Int("overall_drops", res.Count(AlertOverallDrop)),
	}
	if len(res.Alerts) == 0 {
		log.Debug("monitoring: no regressions", fields...)
		return
	}
	log.Warn("monitoring: regressions detected",
		append(fields, zap.Int("alerts", len(res.Alerts)), zap.Int("alerts_sent", res.Sent))...)
}

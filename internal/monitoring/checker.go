package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deadonfilm/enrichment-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically collects a snapshot and pushes triggered alerts to
// the configured webhook. The serve command hosts one for the lifetime of
// the process.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
}

// NewChecker builds a checker from the monitoring configuration. A zero
// check interval falls back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval. The first
// sweep happens right away so a freshly started server surfaces problems
// without waiting out a full interval.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "alertcheck"))
	log.Info("alert checker running",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback))

	c.sweep(ctx, log)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.sweep(ctx, log)
		}
	}
}

func (c *Checker) sweep(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		log.Error("metrics collection failed", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Warn("alerts raised",
		zap.Int("triggered", len(alerts)),
		zap.Int("delivered", sent))
}

package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Snapshotter supplies diagnostic snapshots.
type Snapshotter interface {
	Snapshot() Snapshot
}

// Checker evaluates the diagnostics on an interval. Alerts are always
// logged and, when a notifier is set, delivered through it.
type Checker struct {
	src      Snapshotter
	rules    Rules
	notify   Notifier
	interval time.Duration
	log      *zap.Logger

	last Snapshot
}

// NewChecker creates a checker. notify may be nil; interval defaults to
// five minutes.
func NewChecker(src Snapshotter, rules Rules, notify Notifier, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		src:      src,
		rules:    rules,
		notify:   notify,
		interval: interval,
		log:      zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks until ctx is cancelled. The first snapshot is the baseline,
// so conditions already present at start alert on the first tick only if
// they are new by then.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting alert checker", zap.Duration("interval", c.interval))
	c.last = c.src.Snapshot()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates the current snapshot against the previous one and
// returns the alerts it raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	cur := c.src.Snapshot()
	alerts := c.rules.Evaluate(c.last, cur)
	c.last = cur

	for _, a := range alerts {
		c.log.Warn(a.Message,
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("source", a.Source),
		)
	}
	if len(alerts) == 0 || c.notify == nil {
		return alerts
	}
	if err := c.notify.Notify(ctx, alerts); err != nil {
		c.log.Error("monitoring: alert delivery failed", zap.Int("alerts", len(alerts)), zap.Error(err))
	}
	return alerts
}

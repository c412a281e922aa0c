package monitoring

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Checker records each finished cycle and raises alerts on failure streaks.
// It is safe for concurrent use.
type Checker struct {
	collector *Collector
	alerter   *Alerter

	mu       sync.Mutex
	alerting bool
}

// NewChecker creates a Checker.
func NewChecker(collector *Collector, alerter *Alerter) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
	}
}

// Collector returns the underlying collector.
func (c *Checker) Collector() *Collector {
	return c.collector
}

// Observe records res and sends any alerts it triggers. It returns the number
// of alerts sent.
func (c *Checker) Observe(ctx context.Context, res CycleResult) int {
	snap := c.collector.Record(res)
	log := zap.L().With(zap.String("component", "monitoring.checker"), zap.String("run_id", res.RunID))

	c.mu.Lock()
	var alerts []Alert
	switch {
	case res.Outcome == OutcomeSuccess && c.alerting:
		c.alerting = false
		alerts = append(alerts, c.alerter.Recovered(snap))
	default:
		if triggered := c.alerter.Evaluate(snap); len(triggered) > 0 {
			c.alerting = true
			alerts = append(alerts, triggered...)
		}
	}
	c.mu.Unlock()

	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("consecutive_failures", snap.ConsecutiveFailures))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

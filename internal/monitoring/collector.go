package monitoring

import (
	"sync"
	"time"
)

// CycleOutcome is the result label recorded for a pipeline cycle.
type CycleOutcome string

const (
	OutcomeSuccess CycleOutcome = "success"
	OutcomeNoFile  CycleOutcome = "no_file"
	OutcomeFailed  CycleOutcome = "failed"
)

// CycleResult describes one finished pipeline cycle.
type CycleResult struct {
	RunID    string
	Outcome  CycleOutcome
	File     string
	Rows     int
	Duration time.Duration
	Err      error
}

// MetricsSnapshot holds a point-in-time view of loop health.
type MetricsSnapshot struct {
	CyclesTotal         int       `json:"cycles_total"`
	CyclesSucceeded     int       `json:"cycles_succeeded"`
	CyclesNoFile        int       `json:"cycles_no_file"`
	CyclesFailed        int       `json:"cycles_failed"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastRunID           string    `json:"last_run_id,omitempty"`
	LastOutcome         string    `json:"last_outcome,omitempty"`
	LastFile            string    `json:"last_file,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	LastCycleAt         time.Time `json:"last_cycle_at,omitzero"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	StartedAt           time.Time `json:"started_at"`
}

// Collector keeps cycle counters in memory and mirrors them to Prometheus.
type Collector struct {
	mu   sync.Mutex
	snap MetricsSnapshot
	now  func() time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	c := &Collector{now: time.Now}
	c.snap.StartedAt = c.now().UTC()
	return c
}

// Record adds a finished cycle. A cycle with no file to process is neither a
// success nor a failure and leaves the consecutive failure count alone.
func (c *Collector) Record(res CycleResult) MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC()
	c.snap.CyclesTotal++
	c.snap.LastRunID = res.RunID
	c.snap.LastOutcome = string(res.Outcome)
	c.snap.LastCycleAt = now
	if res.File != "" {
		c.snap.LastFile = res.File
	}

	switch res.Outcome {
	case OutcomeSuccess:
		c.snap.CyclesSucceeded++
		c.snap.ConsecutiveFailures = 0
		c.snap.LastSuccessAt = now
		c.snap.LastError = ""
	case OutcomeNoFile:
		c.snap.CyclesNoFile++
	case OutcomeFailed:
		c.snap.CyclesFailed++
		c.snap.ConsecutiveFailures++
		if res.Err != nil {
			c.snap.LastError = res.Err.Error()
		}
	}

	CyclesTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Duration > 0 {
		CycleDuration.Observe(res.Duration.Seconds())
	}
	ConsecutiveFailures.Set(float64(c.snap.ConsecutiveFailures))

	return c.snap
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

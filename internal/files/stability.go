package files

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/resilience"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultMaxWait      = 10 * time.Second
)

// Outcome reports how AwaitStable finished.
type Outcome int

const (
	// OutcomeStable means the size held for the required number of checks.
	OutcomeStable Outcome = iota
	// OutcomeTimedOut means the ceiling was reached and the caller should
	// proceed with whatever the file contains.
	OutcomeTimedOut
)

func (o Outcome) String() string {
	if o == OutcomeTimedOut {
		return "timed_out"
	}
	return "stable"
}

// Gate waits for a file's size to stop changing.
type Gate struct {
	window   time.Duration
	interval time.Duration
	maxWait  time.Duration
	stat     func(path string) (int64, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithPollInterval sets the time between size checks.
func WithPollInterval(d time.Duration) GateOption {
	return func(g *Gate) { g.interval = d }
}

// WithMaxWait sets the ceiling after which the gate gives up and proceeds.
func WithMaxWait(d time.Duration) GateOption {
	return func(g *Gate) { g.maxWait = d }
}

// WithStatFunc replaces the size probe (for testing).
func WithStatFunc(fn func(path string) (int64, error)) GateOption {
	return func(g *Gate) { g.stat = fn }
}

// WithSleepFunc replaces the wait between polls (for testing).
func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) GateOption {
	return func(g *Gate) { g.sleep = fn }
}

// NewGate creates a Gate requiring the size to hold for
// cfg.StableSizeCheckSecs.
func NewGate(cfg config.FilesConfig, opts ...GateOption) *Gate {
	g := &Gate{
		window:   time.Duration(cfg.StableSizeCheckSecs) * time.Second,
		interval: defaultPollInterval,
		maxWait:  defaultMaxWait,
		stat:     fileSize,
		sleep:    resilience.SleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// RequiredChecks is the number of consecutive equal size reads needed.
func (g *Gate) RequiredChecks() int {
	n := int(g.window / g.interval)
	if n < 1 {
		n = 1
	}
	return n
}

// AwaitStable polls path until its size has been read unchanged
// RequiredChecks times in a row. It never waits past the ceiling: a file that
// keeps changing yields OutcomeTimedOut with a nil error. Stat errors are
// logged and leave the counter untouched.
func (g *Gate) AwaitStable(ctx context.Context, path string) (Outcome, error) {
	log := zap.L().With(zap.String("path", path))
	required := g.RequiredChecks()
	maxPolls := int(g.maxWait / g.interval)
	if maxPolls < 1 {
		maxPolls = 1
	}

	var lastSize int64
	stableCount := 0
	for poll := 1; ; poll++ {
		size, err := g.stat(path)
		switch {
		case err != nil:
			log.Warn("files: error checking file size", zap.Error(err))
		case size == lastSize:
			stableCount++
			if stableCount >= required {
				log.Debug("files: file is stable", zap.Int("checks", stableCount), zap.Int64("size", size))
				return OutcomeStable, nil
			}
		default:
			log.Debug("files: file size changed", zap.Int64("size", size), zap.Int64("previous", lastSize))
			stableCount = 0
			lastSize = size
		}

		if poll >= maxPolls {
			log.Warn("files: file did not stabilize, proceeding anyway",
				zap.Duration("max_wait", g.maxWait),
				zap.Int64("size", lastSize),
			)
			return OutcomeTimedOut, nil
		}

		if err := g.sleep(ctx, g.interval); err != nil {
			return OutcomeTimedOut, err
		}
	}
}

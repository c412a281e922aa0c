package resilience

import (
	"time"

	"github.com/sells-group/extract-runner/internal/config"
)

// FromRetryConfig converts config values to a RetryConfig. Zero or negative
// values keep the defaults, except InitialBackoffSecs where 0 is allowed.
func FromRetryConfig(c config.RetryConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffSecs >= 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffSecs) * time.Second
	}
	if c.MaxBackoffSecs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffSecs) * time.Second
	}
	return cfg
}

// FromCircuitConfig builds a breaker config for the upload endpoint. It
// returns false when the breaker is disabled. The breaker stays open for one
// loop interval so the next scheduled cycle acts as the probe.
func FromCircuitConfig(c config.RetryConfig, loopInterval time.Duration) (CircuitBreakerConfig, bool) {
	if c.CircuitThreshold <= 0 {
		return CircuitBreakerConfig{}, false
	}
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = c.CircuitThreshold
	if loopInterval > 0 {
		cfg.ResetTimeout = loopInterval
	}
	return cfg, true
}

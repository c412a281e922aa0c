package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sells-group/extract-runner/internal/config"
)

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
}

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	failN(cb, 3)

	if cb.State() != CircuitOpen {
		t.Errorf("expected open state, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	failN(cb, 2)
	if failures := cb.Failures(); failures != 2 || cb.State() != CircuitClosed {
		t.Fatalf("expected 2 failures and closed, got %d %s", failures, cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return nil })

	if failures := cb.Failures(); failures != 0 {
		t.Errorf("expected counter reset, got %d", failures)
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Date(2025, 10, 16, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 5 * time.Minute})
	cb.now = func() time.Time { return now }

	var transitions []string
	cb.cfg.OnStateChange = func(from, to CircuitState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	failN(cb, 1)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(5 * time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}

	// Failed probe reopens.
	failN(cb, 1)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after failed probe, got %s", cb.State())
	}

	now = now.Add(5 * time.Minute)
	if err := cb.Execute(context.Background(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_ShouldTripFilter(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       IsRetryable,
	})

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return FromStatus(400, "bad request")
	})
	if cb.State() != CircuitClosed {
		t.Errorf("client errors should not trip the breaker, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return FromStatus(503, "unavailable")
	})
	if cb.State() != CircuitOpen {
		t.Errorf("server errors should trip the breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrorsKeepStreak(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, context.Canceled) },
	})

	failN(cb, 1)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return context.Canceled })
	if failures := cb.Failures(); failures != 1 {
		t.Fatalf("cancelled call should not touch the streak, got %d failures", failures)
	}

	failN(cb, 1)
	if cb.State() != CircuitOpen {
		t.Errorf("expected open, got %s", cb.State())
	}
}

func TestCircuitBreaker_InconclusiveProbeReprobes(t *testing.T) {
	now := time.Date(2025, 10, 16, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
	cb.now = func() time.Time { return now }

	failN(cb, 1)
	now = now.Add(time.Minute)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return context.Canceled })

	var called bool
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected a second probe, got err=%v called=%v", err, called)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestFromCircuitConfig(t *testing.T) {
	if _, ok := FromCircuitConfig(config.RetryConfig{}, time.Minute); ok {
		t.Error("threshold 0 should disable the breaker")
	}

	cfg, ok := FromCircuitConfig(config.RetryConfig{CircuitThreshold: 4}, 10*time.Minute)
	if !ok {
		t.Fatal("expected breaker enabled")
	}
	if cfg.FailureThreshold != 4 {
		t.Errorf("threshold = %d, want 4", cfg.FailureThreshold)
	}
	if cfg.ResetTimeout != 10*time.Minute {
		t.Errorf("reset timeout = %s, want 10m", cfg.ResetTimeout)
	}
}

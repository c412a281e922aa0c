package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/extract-runner/internal/config"
)

type webhookRecorder struct {
	mu    sync.Mutex
	types []AlertType
}

func (w *webhookRecorder) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var a Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		w.mu.Lock()
		w.types = append(w.types, a.Type)
		w.mu.Unlock()
		rw.WriteHeader(http.StatusNoContent)
	})
}

func (w *webhookRecorder) received() []AlertType {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]AlertType(nil), w.types...)
}

func TestChecker_AlertsOncePerStreakAndOnRecovery(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(t))
	defer srv.Close()

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailureThreshold: 2}
	c := NewChecker(NewCollector(), NewAlerter(cfg))
	ctx := context.Background()
	fail := CycleResult{Outcome: OutcomeFailed, Err: errors.New("upload failed")}

	assert.Equal(t, 0, c.Observe(ctx, fail))
	assert.Equal(t, 1, c.Observe(ctx, fail))
	assert.Equal(t, 0, c.Observe(ctx, fail))
	assert.Equal(t, 0, c.Observe(ctx, CycleResult{Outcome: OutcomeNoFile}))
	assert.Equal(t, 1, c.Observe(ctx, CycleResult{Outcome: OutcomeSuccess}))
	assert.Equal(t, 0, c.Observe(ctx, CycleResult{Outcome: OutcomeSuccess}))

	require.Equal(t, []AlertType{AlertConsecutiveFailures, AlertRecovered}, rec.received())
	assert.Equal(t, 6, c.Collector().Snapshot().CyclesTotal)
}

func TestChecker_NoWebhookStillRecords(t *testing.T) {
	c := NewChecker(NewCollector(), NewAlerter(config.MonitoringConfig{FailureThreshold: 1}))

	sent := c.Observe(context.Background(), CycleResult{Outcome: OutcomeFailed, Err: errors.New("x")})
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, c.Collector().Snapshot().ConsecutiveFailures)
}

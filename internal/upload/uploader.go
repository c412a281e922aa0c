// Package upload pushes a finished report to the HTTP ingestion endpoint,
// retrying transient failures with capped exponential backoff.
package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/monitoring"
	"github.com/sells-group/extract-runner/internal/resilience"
)

const maxResponseBody = 64 << 10

// Uploader sends files to the configured endpoint.
type Uploader struct {
	cfg     config.APIConfig
	retry   resilience.RetryConfig
	client  *http.Client
	breaker *resilience.CircuitBreaker
	encode  encoder
	auth    authenticator
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.client = c }
}

// WithBreaker guards every Upload call with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(u *Uploader) { u.breaker = cb }
}

// WithSleep replaces the wait between retries (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(u *Uploader) { u.retry.Sleep = fn }
}

// New validates the upload and auth modes and credentials and creates an
// Uploader. Configuration errors are reported here rather than on first use.
func New(api config.APIConfig, retry config.RetryConfig, opts ...Option) (*Uploader, error) {
	enc, err := encoderFor(api.Mode)
	if err != nil {
		return nil, err
	}
	auth, err := authFor(api)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(api.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	u := &Uploader{
		cfg:    api,
		retry:  resilience.FromRetryConfig(retry),
		client: &http.Client{Timeout: timeout},
		encode: enc,
		auth:   auth,
	}
	u.retry.OnRetry = resilience.RetryLogger("upload", api.Mode)
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Upload sends the file at path, presenting it as displayName (the base name
// of path when empty). The file is read and encoded once; each attempt replays
// the same body.
func (u *Uploader) Upload(ctx context.Context, path, displayName string) error {
	if displayName == "" {
		displayName = filepath.Base(path)
	}
	log := zap.L().With(
		zap.String("path", path),
		zap.String("display_name", displayName),
		zap.String("mode", u.cfg.Mode),
	)

	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "upload: read %s", path)
	}
	p, err := u.encode(u.cfg, displayName, data)
	if err != nil {
		return err
	}
	monitoring.UploadBytes.Add(float64(len(data)))

	attempts := 0
	send := func(ctx context.Context) error {
		return resilience.Do(ctx, u.retry, func(ctx context.Context, attempt int) error {
			attempts = attempt
			log.Debug("upload: attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", u.retry.MaxAttempts))
			return u.attempt(ctx, log, p)
		})
	}

	if u.breaker != nil {
		err = u.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}

	switch {
	case err == nil:
		log.Info("upload: file uploaded", zap.Int("attempt", attempts))
		return nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		log.Warn("upload: endpoint circuit is open, skipping upload")
		return eris.Wrap(err, "upload: skipped")
	case ctx.Err() != nil:
		return eris.Wrap(err, "upload: cancelled")
	case attempts >= u.retry.MaxAttempts:
		return eris.Wrapf(err, "upload: failed after %d attempts", attempts)
	default:
		return eris.Wrapf(err, "upload: non-retryable error on attempt %d", attempts)
	}
}

func (u *Uploader) attempt(ctx context.Context, log *zap.Logger, p *payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(p.body))
	if err != nil {
		return eris.Wrap(err, "upload: create request")
	}
	req.Header.Set("Content-Type", p.contentType)
	u.auth(req)

	start := time.Now()
	resp, err := u.client.Do(req)
	monitoring.UploadDuration.WithLabelValues(u.cfg.Mode).Observe(time.Since(start).Seconds())
	if err != nil {
		rerr := resilience.FromTransport(err)
		monitoring.UploadAttemptsTotal.WithLabelValues(u.cfg.Mode, rerr.Kind.String()).Inc()
		log.Warn("upload: request failed", zap.String("kind", rerr.Kind.String()), zap.Error(err))
		return rerr
	}
	defer resp.Body.Close() //nolint:errcheck

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	log.Debug("upload: response", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))

	if resilience.IsSuccessStatus(resp.StatusCode) {
		monitoring.UploadAttemptsTotal.WithLabelValues(u.cfg.Mode, "success").Inc()
		return nil
	}

	rerr := resilience.FromStatus(resp.StatusCode, string(body))
	monitoring.UploadAttemptsTotal.WithLabelValues(u.cfg.Mode, rerr.Kind.String()).Inc()
	log.Warn("upload: endpoint rejected upload",
		zap.Int("status", resp.StatusCode),
		zap.String("kind", rerr.Kind.String()),
	)
	return rerr
}

// NewBreaker returns the cross-cycle breaker for the upload endpoint, or nil
// when retry.circuit_threshold is 0. Cancelled uploads do not count as
// failures.
func NewBreaker(retry config.RetryConfig, loopInterval time.Duration) *resilience.CircuitBreaker {
	cfg, ok := resilience.FromCircuitConfig(retry, loopInterval)
	if !ok {
		return nil
	}
	cfg.ShouldTrip = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		monitoring.CircuitState.Set(float64(to))
		zap.L().Warn("upload: circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return resilience.NewCircuitBreaker(cfg)
}

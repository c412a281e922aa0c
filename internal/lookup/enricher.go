package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/extract-runner/internal/config"
	"github.com/sells-group/extract-runner/internal/monitoring"
	"github.com/sells-group/extract-runner/internal/resilience"
)

const (
	sampleRows  = 5
	sampleParts = 10
	maxBodyLog  = 1000
)

// StatusError is a non-2xx response from the lookup service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lookup: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap exposes the status classification.
func (e *StatusError) Unwrap() error {
	return resilience.FromStatus(e.StatusCode, e.Body)
}

// Enricher queries the lookup service for part numbers and posts enriched
// rows back.
type Enricher struct {
	cfg     config.LookupConfig
	client  *http.Client
	limiter *rate.Limiter
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Enricher) { e.client = c }
}

// WithLimiter paces lookup and post requests.
func WithLimiter(l *rate.Limiter) Option {
	return func(e *Enricher) { e.limiter = l }
}

// New creates an Enricher. A positive cfg.RatePerSec installs a limiter
// allowing that many requests per second.
func New(cfg config.LookupConfig, opts ...Option) *Enricher {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	e := &Enricher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich parses the report at path and fills each row's lookup fields. Rows
// are returned even when nothing matched.
func (e *Enricher) Enrich(ctx context.Context, path string) ([]Row, error) {
	log := zap.L().With(zap.String("path", path))
	log.Info("lookup: starting enrichment")

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lookup: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rows, err := ParseRows(f)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		log.Warn("lookup: no rows found in report")
		return rows, nil
	}
	for i, r := range rows[:min(sampleRows, len(rows))] {
		log.Debug("lookup: sample row",
			zap.Int("n", i+1),
			zap.String("plant", r.Plant),
			zap.String("delivery", r.Delivery),
			zap.String("part_no", r.PartNo),
		)
	}

	parts := UniquePartNumbers(rows)
	if len(parts) == 0 {
		log.Warn("lookup: no part numbers found, rows will be posted without lookup data",
			zap.Int("rows", len(rows)),
		)
		return rows, nil
	}
	log.Info("lookup: unique part numbers", zap.Int("count", len(parts)))
	log.Debug("lookup: sample part numbers", zap.Strings("parts", parts[:min(sampleParts, len(parts))]))

	records, err := e.Lookup(ctx, parts)
	if err != nil {
		return nil, err
	}

	matched := Merge(rows, records)
	monitoring.LookupMatchesTotal.Add(float64(len(records)))
	monitoring.RowsProcessed.WithLabelValues("enrich").Add(float64(len(rows)))
	if len(records) == 0 {
		log.Info("lookup: no lookup data found, rows will be posted with blank duns, cof and country")
	}
	log.Info("lookup: enrichment complete",
		zap.Int("rows", len(rows)),
		zap.Int("records", len(records)),
		zap.Int("rows_matched", matched),
	)
	return rows, nil
}

// Lookup queries the service in chunks of cfg.ChunkSize part numbers and
// returns the combined records. Any failed chunk fails the whole lookup.
func (e *Enricher) Lookup(ctx context.Context, parts []string) (map[string]Record, error) {
	size := e.cfg.ChunkSize
	if size <= 0 {
		size = len(parts)
	}

	all := make(map[string]Record, len(parts))
	for start := 0; start < len(parts); start += size {
		chunk := parts[start:min(start+size, len(parts))]
		recs, err := e.lookupChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for k, v := range recs {
			all[k] = v
		}
	}
	return all, nil
}

func (e *Enricher) lookupChunk(ctx context.Context, chunk []string) (map[string]Record, error) {
	target := e.cfg.URL + url.QueryEscape(strings.Join(chunk, ","))
	log := zap.L().With(zap.Int("parts", len(chunk)))
	log.Debug("lookup: requesting chunk", zap.String("url", target))

	if err := e.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: create request")
	}
	e.setCookie(req)

	resp, err := e.client.Do(req)
	if err != nil {
		monitoring.LookupRequestsTotal.WithLabelValues("get", "error").Inc()
		return nil, eris.Wrapf(resilience.FromTransport(err), "lookup: get %s", e.cfg.URL)
	}
	defer resp.Body.Close() //nolint:errcheck
	monitoring.LookupRequestsTotal.WithLabelValues("get", strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "lookup: read response body")
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &StatusError{Op: "lookup", StatusCode: resp.StatusCode, Body: string(body)}
	}
	log.Debug("lookup: response received",
		zap.Int("bytes", len(body)),
		zap.String("body", preview(body, maxBodyLog)),
	)

	recs, err := DecodeResponse(body)
	if err != nil {
		return nil, err
	}
	log.Info("lookup: chunk complete", zap.Int("records", len(recs)))
	return recs, nil
}

// Post submits rows as a JSON array in the tableData form field.
func (e *Enricher) Post(ctx context.Context, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return eris.Wrap(err, "lookup: marshal rows")
	}

	form := url.Values{}
	form.Set("tableData", string(payload))
	form.Set("save", "")

	if err := e.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.PostURL, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "lookup: create post request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	e.setCookie(req)

	zap.L().Debug("lookup: posting enriched rows", zap.Int("rows", len(rows)), zap.String("url", e.cfg.PostURL))

	resp, err := e.client.Do(req)
	if err != nil {
		monitoring.LookupRequestsTotal.WithLabelValues("post", "error").Inc()
		return eris.Wrapf(resilience.FromTransport(err), "lookup: post %s", e.cfg.PostURL)
	}
	defer resp.Body.Close() //nolint:errcheck
	monitoring.LookupRequestsTotal.WithLabelValues("post", strconv.Itoa(resp.StatusCode)).Inc()

	if !isSuccess(resp.StatusCode) {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Op: "post", StatusCode: resp.StatusCode, Body: string(body)}
	}

	zap.L().Info("lookup: posted enriched rows", zap.Int("rows", len(rows)))
	return nil
}

func (e *Enricher) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "lookup: rate limiter wait")
	}
	return nil
}

func (e *Enricher) setCookie(req *http.Request) {
	if e.cfg.Cookie != "" {
		req.Header.Set("Cookie", e.cfg.Cookie)
	}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// Package obs implements the client for the external trace/feedback
// platform. Every call shares one token-bucket rate limiter and one retry
// policy: capabilities never roll their own backoff. Transient exhaustion
// surfaces as TransientError ("no data this round"); non-critical reads
// degrade to empty results instead.
package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"vcycle/internal/logging"
	"vcycle/internal/types"
)

// Config wires a Client.
type Config struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxRetries         int
	BaseDelay          time.Duration
	MaxDelay           time.Duration
}

// Client talks to the observability platform. Safe for concurrent use; the
// limiter is the process-wide budget shared by every capability.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New creates a Client. Zero-valued config fields get working defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 1000
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	perSecond := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
	logging.Obs("Client ready: %s budget=%d/min burst=%d retries=%d",
		cfg.BaseURL, cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.MaxRetries)

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(perSecond, cfg.RateLimitBurst),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
}

// call describes one platform request for the shared policy engine.
type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
	// altMethod, when set, is tried once after a 405 before giving up.
	// Covers platform versions that expose the same resource as GET
	// with query params instead of POST with a body.
	altMethod string
	// critical calls (deployment-relevant writes) always raise on
	// failure; non-critical reads degrade to an empty result.
	critical bool
}

// ListRuns fetches one page of runs matching the filter.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) (*RunPage, error) {
	var page RunPage
	err := c.do(ctx, call{
		op:        "ListRuns",
		method:    http.MethodPost,
		path:      "/api/v1/runs/query",
		body:      filter,
		altMethod: http.MethodGet,
	}, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAllRuns follows pagination until the filter window is exhausted.
// The limiter naturally spaces the page fetches.
func (c *Client) ListAllRuns(ctx context.Context, filter RunFilter) ([]types.RunRecord, error) {
	var all []types.RunRecord
	for {
		page, err := c.ListRuns(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Runs...)
		if page.NextCursor == "" {
			return all, nil
		}
		filter.Cursor = page.NextCursor
	}
}

// GetRunStats fetches server-side aggregated stats, optionally grouped.
// Non-critical: degrades to an empty aggregation when the platform is
// misbehaving, so dashboards keep rendering.
func (c *Client) GetRunStats(ctx context.Context, filter RunFilter, groupBy string) (*RunStats, error) {
	q := url.Values{}
	if groupBy != "" {
		q.Set("group_by", groupBy)
	}
	var stats RunStats
	err := c.do(ctx, call{
		op:        "GetRunStats",
		method:    http.MethodPost,
		path:      "/api/v1/runs/stats",
		query:     q,
		body:      filter,
		altMethod: http.MethodGet,
	}, &stats)
	if err != nil {
		if IsTransient(err) {
			return nil, err
		}
		logging.Obs("GetRunStats degraded to empty result: %v", err)
		return &RunStats{GroupBy: groupBy, Groups: map[string]StatGroup{}}, nil
	}
	if stats.Groups == nil {
		stats.Groups = map[string]StatGroup{}
	}
	return &stats, nil
}

// CreateFeedback writes a feedback record for a run. Critical: errors are
// always surfaced, never swallowed.
func (c *Client) CreateFeedback(ctx context.Context, runID string, payload FeedbackPayload) (*types.FeedbackRecord, error) {
	var rec types.FeedbackRecord
	err := c.do(ctx, call{
		op:       "CreateFeedback",
		method:   http.MethodPost,
		path:     "/api/v1/runs/" + url.PathEscape(runID) + "/feedback",
		body:     payload,
		critical: true,
	}, &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListDatasets lists the platform's datasets. Non-critical read.
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var out []Dataset
	err := c.do(ctx, call{
		op:     "ListDatasets",
		method: http.MethodGet,
		path:   "/api/v1/datasets",
	}, &out)
	if err != nil {
		if IsTransient(err) {
			return nil, err
		}
		logging.Obs("ListDatasets degraded to empty result: %v", err)
		return nil, nil
	}
	return out, nil
}

// CreateDataset makes a named dataset. Critical write.
func (c *Client) CreateDataset(ctx context.Context, name, description string) (*Dataset, error) {
	var ds Dataset
	err := c.do(ctx, call{
		op:     "CreateDataset",
		method: http.MethodPost,
		path:   "/api/v1/datasets",
		body: map[string]string{
			"name":        name,
			"description": description,
		},
		critical: true,
	}, &ds)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// AddExamples appends examples to a dataset. Critical write.
func (c *Client) AddExamples(ctx context.Context, datasetID string, examples []Example) error {
	return c.do(ctx, call{
		op:       "AddExamples",
		method:   http.MethodPost,
		path:     "/api/v1/datasets/" + url.PathEscape(datasetID) + "/examples",
		body:     map[string]any{"examples": examples},
		critical: true,
	}, nil)
}

// BulkExport starts an async export job and returns its handle.
func (c *Client) BulkExport(ctx context.Context, filter RunFilter) (*ExportJob, error) {
	var job ExportJob
	err := c.do(ctx, call{
		op:     "BulkExport",
		method: http.MethodPost,
		path:   "/api/v1/bulk-exports",
		body:   filter,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// PollExport refreshes an export job's status.
func (c *Client) PollExport(ctx context.Context, jobID string) (*ExportJob, error) {
	var job ExportJob
	err := c.do(ctx, call{
		op:     "PollExport",
		method: http.MethodGet,
		path:   "/api/v1/bulk-exports/" + url.PathEscape(jobID),
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// EnqueueAnnotation adds a run to a human annotation queue.
func (c *Client) EnqueueAnnotation(ctx context.Context, item AnnotationItem) error {
	return c.do(ctx, call{
		op:     "EnqueueAnnotation",
		method: http.MethodPost,
		path:   "/api/v1/annotation-queues/" + url.PathEscape(item.Queue) + "/items",
		body:   item,
	}, nil)
}

// do runs one call through the shared limiter and retry policy.
func (c *Client) do(ctx context.Context, req call, out any) error {
	method := req.method
	triedAlt := false

	var lastStatus int
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.baseDelay, c.maxDelay, attempt)
			obsRetries.WithLabelValues(req.op).Inc()
			logging.ObsDebug("%s retry %d/%d after %s (last status %d)",
				req.op, attempt, c.maxRetries, delay, lastStatus)
			select {
			case <-ctx.Done():
				return &TransientError{Op: req.op, StatusCode: lastStatus, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		// Acquire budget before every attempt. Wait suspends the caller
		// until a slot frees; nothing is silently dropped.
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransientError{Op: req.op, Attempts: attempt, Err: err}
		}
		if waited := time.Since(waitStart); waited > 10*time.Millisecond {
			obsRateWait.Observe(waited.Seconds())
		}

		status, err := c.roundTrip(ctx, method, req, out)
		lastStatus, lastErr = status, err

		switch {
		case err == nil:
			obsRequests.WithLabelValues(req.op, "ok").Inc()
			return nil

		case status == http.StatusMethodNotAllowed && req.altMethod != "" && !triedAlt:
			// One documented alternate endpoint shape, tried once.
			logging.Obs("%s got 405, retrying as %s", req.op, req.altMethod)
			method = req.altMethod
			triedAlt = true
			// Alternate attempt does not consume a retry.
			attempt--

		case retryable(status, err):
			continue

		default:
			obsRequests.WithLabelValues(req.op, "error").Inc()
			return err
		}
	}

	obsRequests.WithLabelValues(req.op, "exhausted").Inc()
	return &TransientError{Op: req.op, StatusCode: lastStatus, Attempts: c.maxRetries + 1, Err: lastErr}
}

// roundTrip performs a single HTTP exchange. Returns the status code (0 on
// transport error) and a non-nil error for any non-2xx outcome.
func (c *Client) roundTrip(ctx context.Context, method string, req call, out any) (int, error) {
	u := c.baseURL + req.path
	var body io.Reader

	if method == http.MethodGet {
		q := req.query
		if q == nil {
			q = url.Values{}
		}
		// The alternate GET shape carries the filter as query params.
		if f, ok := req.body.(RunFilter); ok {
			encodeFilterQuery(q, f)
		}
		if enc := q.Encode(); enc != "" {
			u += "?" + enc
		}
	} else if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return 0, fmt.Errorf("%s: failed to encode request: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		if len(req.query) > 0 {
			u += "?" + req.query.Encode()
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", req.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, &apiError{Op: req.op, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%s: failed to decode response: %w", req.op, err)
	}
	return resp.StatusCode, nil
}

// retryable reports whether an attempt outcome is worth another try:
// transport errors, timeouts, 429 and 5xx.
func retryable(status int, err error) bool {
	if status == 0 && err != nil {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// backoffDelay is exponential with a ceiling: base * 2^(attempt-1).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func encodeFilterQuery(q url.Values, f RunFilter) {
	if f.ModelID != "" {
		q.Set("model_id", f.ModelID)
	}
	if f.SpectrumID != "" {
		q.Set("spectrum_id", f.SpectrumID)
	}
	if !f.Start.IsZero() {
		q.Set("start_time", f.Start.UTC().Format(time.RFC3339))
	}
	if !f.End.IsZero() {
		q.Set("end_time", f.End.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
}

package obs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(srv *httptest.Server, retries int) *Client {
	return New(Config{
		BaseURL:            srv.URL,
		APIKey:             "test-key",
		Timeout:            2 * time.Second,
		RateLimitPerMinute: 60000, // effectively unlimited for tests
		RateLimitBurst:     1000,
		MaxRetries:         retries,
		BaseDelay:          time.Millisecond,
		MaxDelay:           5 * time.Millisecond,
	})
}

func TestListRunsPagination(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/query" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Error("missing API key header")
		}
		var f RunFilter
		json.NewDecoder(r.Body).Decode(&f)

		n := atomic.AddInt32(&calls, 1)
		page := map[string]any{
			"runs": []map[string]any{{"id": "run-" + f.Cursor, "model_id": "m1", "score": 0.9, "has_score": true}},
		}
		if n == 1 {
			page["next_cursor"] = "p2"
		}
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := testClient(srv, 2)
	runs, err := c.ListAllRuns(context.Background(), RunFilter{ModelID: "m1"})
	if err != nil {
		t.Fatalf("ListAllRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2 (pagination not followed)", len(runs))
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(RunPage{})
	}))
	defer srv.Close()

	c := testClient(srv, 4)
	if _, err := c.ListRuns(context.Background(), RunFilter{}); err != nil {
		t.Fatalf("should succeed after retries: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestExhaustionRaisesTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(srv, 2)
	_, err := c.ListRuns(context.Background(), RunFilter{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !IsTransient(err) {
		t.Fatalf("error should be TransientError, got %T: %v", err, err)
	}
}

func TestMethodNotAllowedFallsBackToGet(t *testing.T) {
	var sawGet atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusMethodNotAllowed)
		case http.MethodGet:
			sawGet.Store(true)
			if r.URL.Query().Get("model_id") != "m1" {
				t.Errorf("filter not carried in query params: %s", r.URL.RawQuery)
			}
			json.NewEncoder(w).Encode(RunPage{})
		}
	}))
	defer srv.Close()

	c := testClient(srv, 2)
	if _, err := c.ListRuns(context.Background(), RunFilter{ModelID: "m1"}); err != nil {
		t.Fatalf("alternate endpoint should succeed: %v", err)
	}
	if !sawGet.Load() {
		t.Error("client never tried the alternate GET endpoint")
	}
}

func TestNonCriticalReadDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Permanent client error, not transient: degraded path.
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(srv, 1)
	stats, err := c.GetRunStats(context.Background(), RunFilter{}, "model_id")
	if err != nil {
		t.Fatalf("non-critical read should degrade, not error: %v", err)
	}
	if stats == nil || len(stats.Groups) != 0 {
		t.Errorf("degraded result should be empty, got %+v", stats)
	}
}

func TestCriticalWriteRaises(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := testClient(srv, 1)
	if _, err := c.CreateFeedback(context.Background(), "run-1", FeedbackPayload{Score: 1}); err == nil {
		t.Fatal("critical write must surface errors")
	}
}

func TestRateLimiterSuspendsCaller(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RunPage{})
	}))
	defer srv.Close()

	// 60/min = 1/sec with burst 1: the second call must wait ~1s.
	c := New(Config{
		BaseURL:            srv.URL,
		Timeout:            2 * time.Second,
		RateLimitPerMinute: 60,
		RateLimitBurst:     1,
		MaxRetries:         1,
		BaseDelay:          time.Millisecond,
	})

	ctx := context.Background()
	if _, err := c.ListRuns(ctx, RunFilter{}); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if _, err := c.ListRuns(ctx, RunFilter{}); err != nil {
		t.Fatal(err)
	}
	if waited := time.Since(start); waited < 500*time.Millisecond {
		t.Errorf("second call should have been suspended by the bucket, waited only %s", waited)
	}
}

func TestRateLimiterRespectsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RunPage{})
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:            srv.URL,
		RateLimitPerMinute: 1,
		RateLimitBurst:     1,
		MaxRetries:         1,
	})

	ctx := context.Background()
	if _, err := c.ListRuns(ctx, RunFilter{}); err != nil {
		t.Fatal(err)
	}

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := c.ListRuns(cctx, RunFilter{})
	if err == nil {
		t.Fatal("expected cancellation while waiting on the bucket")
	}
	if !IsTransient(err) {
		t.Errorf("cancellation during wait should be transient, got %T", err)
	}
}

func TestBulkExportAndPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/bulk-exports":
			json.NewEncoder(w).Encode(ExportJob{ID: "job-1", Status: ExportPending})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/bulk-exports/job-1":
			json.NewEncoder(w).Encode(ExportJob{ID: "job-1", Status: ExportCompleted, DownloadURL: "https://x/y.jsonl"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv, 1)
	job, err := c.BulkExport(context.Background(), RunFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-1" || job.Status != ExportPending {
		t.Fatalf("job = %+v", job)
	}

	job, err = c.PollExport(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != ExportCompleted || job.DownloadURL == "" {
		t.Errorf("polled job = %+v", job)
	}
}

package notion_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pagemule/pagemule/internal/notion"
)

// newTestClient wires a client at the test server with a recording
// sleeper so retries run without real delays.
func newTestClient(t *testing.T, srv *httptest.Server, policy notion.RetryPolicy) (*notion.Client, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	c := notion.New("test-token",
		notion.WithBaseURL(srv.URL),
		notion.WithRetryPolicy(policy),
		notion.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)
	return c, &delays
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":"rate_limited"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(t, srv, notion.RetryPolicy{MaxRetries: 3, BackoffFactor: 2})

	_, err := c.Get(context.Background(), "/pages/x")
	var apiErr *notion.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", apiErr.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Errorf("server saw %d calls, want 4 (initial + 3 retries)", got)
	}
	if len(*delays) != 3 {
		t.Fatalf("slept %d times, want 3", len(*delays))
	}
	for i, d := range *delays {
		if d != time.Second {
			t.Errorf("delay[%d] = %v, want exactly 1s from Retry-After", i, d)
		}
	}
}

func TestServerErrorUsesExponentialBackoff(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"object":"page","id":"p1"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(t, srv, notion.RetryPolicy{MaxRetries: 3, BackoffFactor: 2})

	if _, err := c.Get(context.Background(), "/pages/p1"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(*delays) != 2 {
		t.Fatalf("slept %d times, want 2", len(*delays))
	}
	// factor^attempt seconds, jittered ±20%
	bounds := [][2]time.Duration{
		{1600 * time.Millisecond, 2400 * time.Millisecond},
		{3200 * time.Millisecond, 4800 * time.Millisecond},
	}
	for i, d := range *delays {
		if d < bounds[i][0] || d > bounds[i][1] {
			t.Errorf("delay[%d] = %v, want within [%v, %v]", i, d, bounds[i][0], bounds[i][1])
		}
	}
}

func TestClientErrorFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"object_not_found","message":"no such page"}`))
	}))
	defer srv.Close()

	c, delays := newTestClient(t, srv, notion.DefaultRetryPolicy())

	_, err := c.Get(context.Background(), "/pages/missing")
	var apiErr *notion.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "object_not_found" {
		t.Errorf("APIError = %+v, want 404 object_not_found", apiErr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry on 4xx)", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestPlainPostIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, notion.DefaultRetryPolicy())

	_, err := c.Post(context.Background(), "/pages", map[string]string{})
	if err == nil {
		t.Fatal("Post() error = nil, want APIError")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("server saw %d calls, want 1 (POST without idempotency is never retried)", calls)
	}
}

func TestIdempotentPostIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"results":[],"has_more":false}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, notion.DefaultRetryPolicy())

	if _, err := c.QueryDatabase(context.Background(), "db1", notion.QueryRequest{}); err != nil {
		t.Fatalf("QueryDatabase() error = %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
}

func TestRequestSendsAuthAndVersionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if r.Header.Get("Notion-Version") == "" {
			t.Error("Notion-Version header missing")
		}
		w.Write([]byte(`{"object":"user","id":"bot","type":"bot"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv, notion.DefaultRetryPolicy())
	me, err := c.Me(context.Background())
	if err != nil {
		t.Fatalf("Me() error = %v", err)
	}
	if me.ID != "bot" {
		t.Errorf("Me().ID = %q, want bot", me.ID)
	}
}

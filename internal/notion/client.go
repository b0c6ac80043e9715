// Package notion wraps the remote workspace REST API. The client owns
// the retry/backoff policy: HTTP 429 honors the Retry-After header,
// 5xx uses jittered exponential backoff, every other 4xx fails
// immediately. Non-idempotent POSTs are never retried unless the caller
// explicitly marks the request idempotent (read-only query/search, or
// an operation guarded by an idempotency key upstream).
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	apiVersion     = "2022-06-28"

	defaultMaxRetries    = 3
	defaultBackoffFactor = 2.0
)

// APIError is the terminal failure of a request: the last observed
// status and body once retries (if any) are exhausted.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("workspace API error %d (%s): %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("workspace API error %d: %s", e.Status, e.Body)
}

// Retriable reports whether the status is worth retrying at all.
func (e *APIError) Retriable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// RetryPolicy configures the retry loop. MaxRetries counts retries
// after the initial attempt; BackoffFactor is the base of the 5xx
// exponential delay (factor^attempt seconds, jittered ±20%).
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor float64
}

// DefaultRetryPolicy mirrors the remote service's published guidance.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: defaultMaxRetries, BackoffFactor: defaultBackoffFactor}
}

// Client issues requests against the workspace API.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	policy  RetryPolicy

	// sleep is injectable so the retry loop is testable without real
	// delays. A sleep in progress always runs to completion; there is
	// no cancellation mid-backoff.
	sleep func(time.Duration)

	// newBackOff builds the 5xx delay sequence for one request.
	newBackOff func() backoff.BackOff
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint (tests).
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option { return func(c *Client) { c.policy = p } }

// WithSleeper replaces the backoff sleep function (tests).
func WithSleeper(f func(time.Duration)) Option { return func(c *Client) { c.sleep = f } }

// New creates a workspace API client authenticated with the given
// integration token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
		policy:  DefaultRetryPolicy(),
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newBackOff == nil {
		factor := c.policy.BackoffFactor
		c.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Duration(factor * float64(time.Second))
			bo.Multiplier = factor
			bo.RandomizationFactor = 0.2
			bo.MaxElapsedTime = 0 // attempts are bounded by MaxRetries, not wall time
			// The constructor latches the default interval; Reset picks
			// up the fields set above.
			bo.Reset()
			return bo
		}
	}
	return c
}

// requestOptions carry per-request flags.
type requestOptions struct {
	idempotent bool
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// Idempotent marks a POST safe to retry: the operation is read-only or
// the caller deduplicates it with an idempotency key.
func Idempotent() RequestOption {
	return func(o *requestOptions) { o.idempotent = true }
}

// Request performs one API call with the retry policy applied and
// returns the raw response body on success.
func (c *Client) Request(ctx context.Context, method, path string, body interface{}, opts ...RequestOption) (json.RawMessage, error) {
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	// GET/PATCH/DELETE are idempotent against this API; POST only when
	// explicitly marked, to avoid duplicate creation on replay.
	retriable := method != http.MethodPost || ro.idempotent

	bo := c.newBackOff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, method, path, payload)
		if err != nil {
			lastErr = err
			if !retriable || attempt >= c.policy.MaxRetries {
				return nil, fmt.Errorf("%s %s: %w", method, path, err)
			}
			c.waitRetry(method, path, attempt, bo.NextBackOff(), err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%s %s: read response: %w", method, path, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if attempt > 0 {
				log.Info().Str("method", method).Str("path", path).Int("attempt", attempt+1).Msg("request succeeded after retry")
			}
			return respBody, nil
		}

		apiErr := &APIError{Status: resp.StatusCode, Code: errorCode(respBody), Body: string(respBody)}
		lastErr = apiErr

		if !apiErr.Retriable() || !retriable || attempt >= c.policy.MaxRetries {
			log.Warn().
				Str("method", method).
				Str("path", path).
				Int("status", resp.StatusCode).
				Int("attempt", attempt+1).
				Msg("request failed")
			return nil, apiErr
		}

		delay := bo.NextBackOff()
		if resp.StatusCode == http.StatusTooManyRequests {
			// Rate limited: the Retry-After header is authoritative and
			// used verbatim, no jitter.
			if after := retryAfter(resp); after > 0 {
				delay = after
			}
		}
		c.waitRetry(method, path, attempt, delay, lastErr)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.hc.Do(req)
}

func (c *Client) waitRetry(method, path string, attempt int, delay time.Duration, cause error) {
	log.Warn().
		Str("method", method).
		Str("path", path).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Err(cause).
		Msg("retrying request")
	c.sleep(delay)
}

// retryAfter reads the Retry-After header as whole seconds.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(h, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// errorCode extracts the machine-readable code from an error body.
func errorCode(body []byte) string {
	var e struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Code
}

// ── Convenience verbs ───────────────────────────────────────

func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body interface{}, opts ...RequestOption) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, path, body, opts...)
}

func (c *Client) Patch(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, path, nil)
}

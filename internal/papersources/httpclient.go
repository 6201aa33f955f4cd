package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Transport defaults, sized for the anonymous E-utilities quota.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRateLimit     = 3
	DefaultBurstSize     = 3
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxRetryDelay = 10 * time.Second
	DefaultUserAgent     = "Helixir-ClinicalTrialExtractor/1.0"
)

// HTTPClientConfig configures the HTTP client. Zero fields take the Default values.
type HTTPClientConfig struct {
	Timeout       time.Duration // per attempt
	RateLimit     float64       // requests per second
	BurstSize     int
	MaxRetries    int           // attempts after the first
	RetryDelay    time.Duration // doubled on every attempt
	MaxRetryDelay time.Duration
	UserAgent     string

	// APIKey is appended to every request as the APIKeyParam query parameter.
	APIKey      string
	APIKeyParam string

	// OnRetry, when set, is called before each wait between attempts.
	OnRetry func(req *http.Request, attempt int, delay time.Duration, cause error)
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// StatusError is returned when the upstream kept answering with a retryable
// status until the attempts ran out.
type StatusError struct {
	StatusCode int
	Attempts   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream still returned status %d after %d attempts", e.StatusCode, e.Attempts)
}

// HTTPClient sends rate-limited requests and retries throttling, server
// errors and network failures. It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient builds a client from cfg.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()
	return &HTTPClient{
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do sends req, waiting for a rate-limit token before every attempt.
//
// Responses with a non-retryable status, 4xx included, are handed back
// untouched. A body is replayed through req.GetBody on retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.decorate(req)
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		last := attempt == c.config.MaxRetries

		var (
			cause error
			delay time.Duration
		)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			cause = fmt.Errorf("request failed: %w", err)
			if last {
				return nil, cause
			}
			delay = c.backoff(attempt)
		case !retryableStatus(resp.StatusCode):
			return resp, nil
		default:
			delay = c.retryAfter(resp.Header.Get("Retry-After"), attempt)
			discard(resp)
			if last {
				return nil, &StatusError{StatusCode: resp.StatusCode, Attempts: attempt + 1}
			}
			cause = fmt.Errorf("server returned status %d", resp.StatusCode)
		}

		if c.config.OnRetry != nil {
			c.config.OnRetry(req, attempt+1, delay, cause)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		if err := rewind(req); err != nil {
			return nil, err
		}
	}
}

func (c *HTTPClient) decorate(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey == "" || c.config.APIKeyParam == "" {
		return
	}
	q := req.URL.Query()
	q.Set(c.config.APIKeyParam, c.config.APIKey)
	req.URL.RawQuery = q.Encode()
}

// retryableStatus covers 429 and every 5xx.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// backoff is RetryDelay doubled per zero-based attempt, capped at MaxRetryDelay.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := c.config.RetryDelay << uint(attempt)
	if d <= 0 || d > c.config.MaxRetryDelay {
		return c.config.MaxRetryDelay
	}
	return d
}

// retryAfter reads a Retry-After value given in seconds or as an HTTP date.
// Missing, past or unparseable values fall back to backoff.
func (c *HTTPClient) retryAfter(header string, attempt int) time.Duration {
	if header == "" {
		return c.backoff(attempt)
	}
	if secs, err := strconv.ParseInt(header, 10, 64); err == nil {
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
		return c.backoff(attempt)
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return c.backoff(attempt)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func rewind(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot replay request body: %w", err)
	}
	req.Body = body
	return nil
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps the provider response body read into memory.
const maxResponseBytes = 10 << 20

// transport posts JSON to one provider and retries transient failures.
// Provider structs embed it.
type transport struct {
	provider    string
	httpClient  *http.Client
	header      http.Header
	maxRetries  int
	retryDelay  time.Duration
	decodeError func(statusCode int, body []byte) *APIError
}

func newTransport(provider string, opts ProviderOptions, header http.Header, decodeError func(int, []byte) *APIError) transport {
	header.Set("Content-Type", "application/json")
	return transport{
		provider: provider,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		header:      header,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
		decodeError: decodeError,
	}
}

// postJSON sends payload to url and returns the body of the first 200 response
// together with the duration of that attempt.
func (t *transport) postJSON(ctx context.Context, url string, payload interface{}) ([]byte, time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to marshal request: %w", t.provider, err)
	}

	var (
		respBody []byte
		elapsed  time.Duration
	)
	err = t.retry(ctx, func() error {
		start := time.Now()
		var attemptErr error
		respBody, attemptErr = t.attempt(ctx, url, body)
		elapsed = time.Since(start)
		return attemptErr
	})
	if err != nil {
		return nil, 0, err
	}
	return respBody, elapsed, nil
}

func (t *transport) attempt(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", t.provider, err)
	}
	req.Header = t.header.Clone()

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: request failed: %w", t.provider, ctx.Err())
		}
		return nil, networkError(t.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, networkError(t.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, t.decodeError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// retry runs fn up to maxRetries+1 times, sleeping retryDelay<<n between
// attempts. Only transient errors are retried.
func (t *transport) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for n := 0; n <= t.maxRetries; n++ {
		if n > 0 {
			timer := time.NewTimer(t.retryDelay << (n - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context cancelled during retry wait: %w", t.provider, ctx.Err())
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return err
		}
		lastErr = err
	}
	if t.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("%s: exhausted %d retries: %w", t.provider, t.maxRetries, lastErr)
}

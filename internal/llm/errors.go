package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// APIError is a failure reported by a provider, or a request that never got
// a response (StatusCode 0). Every APIError matches domain.ErrUpstream.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	// Type and Code are the provider's own error classification, when sent.
	Type string
	Code string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
}

// IsTransient reports whether a retry may succeed: rate limiting, server
// errors and network failures.
func (e *APIError) IsTransient() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= http.StatusInternalServerError
	}
}

func (e *APIError) Is(target error) bool { return target == domain.ErrUpstream }

func isTransientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsTransient()
}

func networkError(provider string, err error) *APIError {
	return &APIError{
		Provider: provider,
		Message:  fmt.Sprintf("request failed: %v", err),
		Type:     "network_error",
	}
}

// ErrorType returns a low-cardinality label for err, used in failure metrics.
func ErrorType(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Type != "":
		return apiErr.Type
	case apiErr != nil:
		return fmt.Sprintf("http_%d", apiErr.StatusCode)
	case errors.Is(err, domain.ErrParse):
		return "parse"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}

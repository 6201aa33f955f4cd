package httpserver

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/clinical-trial-extractor/internal/observability"
)

// Header names for request tracing.
const (
	headerRequestID     = "X-Request-ID"
	headerCorrelationID = "X-Correlation-ID"
)

// requestContextMiddleware copies the chi request id into the observability
// context and ensures every request has a correlation id. Both ids are echoed
// in the response headers.
func requestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		correlationID := r.Header.Get(headerCorrelationID)
		if correlationID == "" {
			correlationID = requestID
		}
		if correlationID == "" {
			buf := make([]byte, 8)
			if _, err := rand.Read(buf); err != nil {
				correlationID = fmt.Sprintf("%x", time.Now().UnixNano())
			} else {
				correlationID = fmt.Sprintf("%x", buf)
			}
		}

		ctx := r.Context()
		if requestID != "" {
			ctx = observability.WithRequestID(ctx, requestID)
			w.Header().Set(headerRequestID, requestID)
		}
		ctx = observability.WithCorrelationID(ctx, correlationID)
		w.Header().Set(headerCorrelationID, correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware logs every request and records its metrics under the
// matched route pattern.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		s.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), duration.Seconds())

		logger := observability.WithRequestContext(r.Context(), s.logger)
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("request served")
	})
}

// Package observability provides logging, metrics, and request context support
// for the clinical-trial extraction service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for PubMed calls, LLM calls, extractions, and the API
//   - Context helpers for propagating request and correlation IDs
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("pmcid", pmcid).Msg("extraction started")
//
// Add article context to a logger:
//
//	logger = observability.WithArticleContext(logger, pmcid, pmid)
//
// # Metrics
//
// Initialize metrics once per process:
//
//	metrics := observability.NewMetrics("clinical_trial_extractor")
//
// Record metrics:
//
//	metrics.RecordPubMedRequest("esearch", elapsed.Seconds())
//	metrics.RecordExtraction(observability.ExtractionOutcomeCompleted)
//
// A nil *Metrics is valid and records nothing, which keeps tests free of
// global registry state.
//
// # Context Helpers
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	reqID := observability.RequestIDFromContext(ctx)
//
// # Standard Fields
//
//   - request_id: HTTP request identifier
//   - correlation_id: caller-supplied correlation identifier
//   - pmcid: external article identifier
//   - pmid: PubMed identifier
//   - provider, model: LLM provider and model name
package observability

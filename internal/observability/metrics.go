package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Extraction outcome label values.
const (
	ExtractionOutcomeCompleted    = "completed"
	ExtractionOutcomeInsufficient = "insufficient"
	ExtractionOutcomeFailed       = "failed"
)

// Metrics contains all Prometheus metrics for the clinical-trial extraction service.
// Metrics are organized by subsystem: PubMed requests, searches, LLM operations,
// extractions, storage, events, and HTTP. All counters and histograms are registered
// via promauto with the default Prometheus registry.
//
// Every Record method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// PubMedRequestsTotal counts E-utilities requests, labeled by endpoint.
	PubMedRequestsTotal *prometheus.CounterVec

	// PubMedRequestsFailed counts failed E-utilities requests, labeled by endpoint and error type.
	PubMedRequestsFailed *prometheus.CounterVec

	// PubMedRequestDuration observes E-utilities request duration in seconds, labeled by endpoint.
	PubMedRequestDuration *prometheus.HistogramVec

	// SearchesTotal counts searches, labeled by outcome (completed, failed).
	SearchesTotal *prometheus.CounterVec

	// SearchResults observes the number of records returned per search.
	SearchResults prometheus.Histogram

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation, model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds, labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed counts tokens consumed by LLM operations, labeled by operation, model, and token type.
	LLMTokensUsed *prometheus.CounterVec

	// ExtractionsTotal counts extraction requests, labeled by outcome.
	ExtractionsTotal *prometheus.CounterVec

	// ArticlesSaved counts stored records, labeled by operation (created, updated).
	ArticlesSaved *prometheus.CounterVec

	// EventsPublished counts events written to the event stream, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsFailed counts events that could not be published, labeled by event type.
	EventsFailed *prometheus.CounterVec

	// HTTPRequestsTotal counts API requests, labeled by method, route pattern, and status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration observes API request duration in seconds, labeled by method and route pattern.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// PubMed
		PubMedRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubmed_requests_total",
			Help:      "Total number of PubMed E-utilities requests",
		}, []string{"endpoint"}),
		PubMedRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pubmed_requests_failed_total",
			Help:      "Total number of failed PubMed E-utilities requests",
		}, []string{"endpoint", "error_type"}),
		PubMedRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pubmed_request_duration_seconds",
			Help:      "Duration of PubMed E-utilities requests in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),

		// Searches
		SearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of PubMed searches by outcome",
		}, []string{"outcome"}),
		SearchResults: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results_count",
			Help:      "Number of records returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM API requests",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM API requests",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM API requests in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"operation", "model"}),
		LLMTokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens consumed by LLM operations",
		}, []string{"operation", "model", "token_type"}),

		// Extractions and storage
		ExtractionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Total number of clinical-trial extractions by outcome",
		}, []string{"outcome"}),
		ArticlesSaved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_saved_total",
			Help:      "Total number of stored clinical-trial records by operation",
		}, []string{"operation"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published",
		}, []string{"event_type"}),
		EventsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_failed_total",
			Help:      "Total number of events that failed to publish",
		}, []string{"event_type"}),

		// HTTP
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordPubMedRequest records a completed E-utilities request.
func (m *Metrics) RecordPubMedRequest(endpoint string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PubMedRequestsTotal.WithLabelValues(endpoint).Inc()
	m.PubMedRequestDuration.WithLabelValues(endpoint).Observe(durationSeconds)
}

// RecordPubMedRequestFailed records a failed E-utilities request.
func (m *Metrics) RecordPubMedRequestFailed(endpoint, errorType string) {
	if m == nil {
		return
	}
	m.PubMedRequestsFailed.WithLabelValues(endpoint, errorType).Inc()
}

// RecordSearchCompleted records a successful search and its result count.
func (m *Metrics) RecordSearchCompleted(resultCount int) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues("completed").Inc()
	m.SearchResults.Observe(float64(resultCount))
}

// RecordSearchFailed records a failed search.
func (m *Metrics) RecordSearchFailed() {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues("failed").Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
	m.LLMTokensUsed.WithLabelValues(operation, model, "input").Add(float64(inputTokens))
	m.LLMTokensUsed.WithLabelValues(operation, model, "output").Add(float64(outputTokens))
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	if m == nil {
		return
	}
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// RecordExtraction records an extraction outcome.
func (m *Metrics) RecordExtraction(outcome string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(outcome).Inc()
}

// RecordArticleSaved records an upsert; created distinguishes inserts from updates.
func (m *Metrics) RecordArticleSaved(created bool) {
	if m == nil {
		return
	}
	op := "updated"
	if created {
		op = "created"
	}
	m.ArticlesSaved.WithLabelValues(op).Inc()
}

// RecordEventPublished records a published event.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventFailed records an event that could not be published.
func (m *Metrics) RecordEventFailed(eventType string) {
	if m == nil {
		return
	}
	m.EventsFailed.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records a served API request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

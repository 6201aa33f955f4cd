package outbox

import (
	"fmt"
	"time"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
)

// defaultServiceName is recorded as the event source when none is configured.
const defaultServiceName = "clinical-trial-extractor"

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// AggregateID is the record's PMCID.
	AggregateID string
	// EventType is the type of event (e.g., "article.saved").
	EventType string
	// Payload is the event payload that will be JSON-serialized.
	Payload interface{}
	// RequestID of the API request that caused the event (optional).
	RequestID string
	// CorrelationID for request tracing (optional).
	CorrelationID string
}

// Emitter creates outbox events enriched with service metadata.
type Emitter struct {
	config EmitterConfig
	now    func() time.Time
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config, now: time.Now}
}

// Emit creates an event from the given parameters.
func (e *Emitter) Emit(params EmitParams) (*domain.OutboxEvent, error) {
	if params.AggregateID == "" {
		return nil, fmt.Errorf("aggregate_id is required")
	}
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	event, err := domain.NewOutboxEvent(params.EventType, params.AggregateID, domain.AggregateTypeArticle, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	event.CreatedAt = e.now().UTC()

	metadata := map[string]interface{}{
		"source": e.config.ServiceName,
	}
	if params.RequestID != "" {
		metadata["request_id"] = params.RequestID
	}
	if params.CorrelationID != "" {
		metadata["correlation_id"] = params.CorrelationID
	}

	return event.WithMetadata(metadata), nil
}

// EmitArticleSaved builds an article.saved event for a stored record.
func (e *Emitter) EmitArticleSaved(article *domain.Article, created bool, requestID, correlationID string) (*domain.OutboxEvent, error) {
	return e.Emit(EmitParams{
		AggregateID: article.PMCID,
		EventType:   domain.EventTypeArticleSaved,
		Payload: domain.ArticleSavedPayload{
			ArticleID: article.ID,
			PMCID:     article.PMCID,
			DOI:       article.DOI,
			Created:   created,
			Processed: article.Processed,
			SavedAt:   article.UpdatedAt,
		},
		RequestID:     requestID,
		CorrelationID: correlationID,
	})
}

// EmitArticleExtracted builds an article.extracted event for an extraction attempt.
func (e *Emitter) EmitArticleExtracted(pmcid, outcome, model, requestID, correlationID string) (*domain.OutboxEvent, error) {
	return e.Emit(EmitParams{
		AggregateID: pmcid,
		EventType:   domain.EventTypeArticleExtracted,
		Payload: domain.ArticleExtractedPayload{
			PMCID:   pmcid,
			Outcome: outcome,
			Model:   model,
		},
		RequestID:     requestID,
		CorrelationID: correlationID,
	})
}

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published article events.
const (
	EventTypeArticleSaved     = "article.saved"
	EventTypeArticleExtracted = "article.extracted"
)

// AggregateTypeArticle is the aggregate type carried by every article event.
const AggregateTypeArticle = "article"

// OutboxEvent represents an event to be published to the event stream.
type OutboxEvent struct {
	EventID       string                 `json:"event_id"`
	EventVersion  int                    `json:"event_version"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	Payload       json.RawMessage        `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *OutboxEvent) WithMetadata(metadata map[string]interface{}) *OutboxEvent {
	e.Metadata = metadata
	return e
}

// ArticleSavedPayload is the payload for article.saved events.
type ArticleSavedPayload struct {
	ArticleID int64     `json:"article_id"`
	PMCID     string    `json:"pmcid"`
	DOI       string    `json:"doi,omitempty"`
	Created   bool      `json:"created"`
	Processed bool      `json:"processed"`
	SavedAt   time.Time `json:"saved_at"`
}

// ArticleExtractedPayload is the payload for article.extracted events.
type ArticleExtractedPayload struct {
	PMCID   string `json:"pmcid"`
	Outcome string `json:"outcome"`
	Model   string `json:"model,omitempty"`
}

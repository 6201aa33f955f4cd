package outbox

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/clinical-trial-extractor/internal/domain"
	"github.com/helixir/clinical-trial-extractor/internal/observability"
)

// Notifier emits and publishes article events on behalf of the API.
// Publishing is best-effort: errors are logged and counted, never returned.
// A nil *Notifier is valid and does nothing.
type Notifier struct {
	emitter   *Emitter
	publisher Publisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewNotifier creates a Notifier. metrics may be nil.
func NewNotifier(emitter *Emitter, publisher Publisher, logger zerolog.Logger, metrics *observability.Metrics) *Notifier {
	return &Notifier{
		emitter:   emitter,
		publisher: publisher,
		logger:    logger.With().Str("component", "notifier").Logger(),
		metrics:   metrics,
	}
}

// ArticleSaved publishes article.saved for a stored record.
func (n *Notifier) ArticleSaved(ctx context.Context, article *domain.Article, created bool) {
	if n == nil {
		return
	}
	event, err := n.emitter.EmitArticleSaved(article, created,
		observability.RequestIDFromContext(ctx), observability.CorrelationIDFromContext(ctx))
	n.publish(ctx, domain.EventTypeArticleSaved, event, err)
}

// ArticleExtracted publishes article.extracted for an extraction attempt.
func (n *Notifier) ArticleExtracted(ctx context.Context, pmcid, outcome, model string) {
	if n == nil {
		return
	}
	event, err := n.emitter.EmitArticleExtracted(pmcid, outcome, model,
		observability.RequestIDFromContext(ctx), observability.CorrelationIDFromContext(ctx))
	n.publish(ctx, domain.EventTypeArticleExtracted, event, err)
}

func (n *Notifier) publish(ctx context.Context, eventType string, event *domain.OutboxEvent, emitErr error) {
	logger := observability.WithRequestContext(ctx, n.logger).With().Str("event_type", eventType).Logger()

	if emitErr != nil {
		logger.Error().Err(emitErr).Msg("failed to build event")
		n.metrics.RecordEventFailed(eventType)
		return
	}

	if err := n.publisher.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Str("event_id", event.EventID).Msg("failed to publish event")
		n.metrics.RecordEventFailed(eventType)
		return
	}
	n.metrics.RecordEventPublished(eventType)
}

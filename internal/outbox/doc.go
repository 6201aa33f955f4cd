// Package outbox publishes article lifecycle events to Kafka.
//
// # Overview
//
// Every stored record produces an article.saved event and every extraction
// attempt an article.extracted event. Events are JSON-encoded
// domain.OutboxEvent values keyed by PMCID, so all events of one record land
// on the same partition in order.
//
// # Components
//
//   - Emitter: builds domain.OutboxEvent values enriched with service metadata
//   - KafkaPublisher: writes events to a topic with kafka-go
//   - NopPublisher: discards events when Kafka is disabled
//   - Notifier: best-effort glue used by the HTTP layer; failures are logged
//     and counted but never fail the request
//
// # Usage
//
//	publisher := outbox.NewKafkaPublisher(cfg.Kafka, logger)
//	notifier := outbox.NewNotifier(outbox.NewEmitter(outbox.EmitterConfig{}), publisher, logger, metrics)
//	notifier.ArticleSaved(ctx, stored, created)
package outbox

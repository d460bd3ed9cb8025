package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"message-sync/internal/observability"
	"message-sync/internal/rabbitmq"
)

// AuditEmitter publishes sync lifecycle events (send failures, upload
// failures, auth failures) to the audit exchange.
type AuditEmitter struct {
	publisher   rabbitmq.Publisher
	routingKey  string
	service     string
	environment string
	logger      zerolog.Logger
}

// AuditEnvelope is the published event schema.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload carries the event body.
type AuditPayload struct {
	Level          string `json:"level"`
	Event          string `json:"event"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// NewAuditEmitter builds an emitter bound to a routing key.
func NewAuditEmitter(publisher rabbitmq.Publisher, routingKey, service, environment string, logger zerolog.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger.With().Str("component", "audit").Logger(),
	}
}

// Emit publishes a lifecycle event. Safe to call on a nil emitter.
func (e *AuditEmitter) Emit(ctx context.Context, level, event, text, conversationID string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.logger.Debug().
		Str("level", level).
		Str("event", event).
		Str("conversation_id", conversationID).
		Msg(text)

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "sync_audit",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload: AuditPayload{
			Level:          level,
			Event:          event,
			Text:           text,
			ConversationID: conversationID,
		},
	}

	var traceID string
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		traceID = span.TraceID().String()
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, observability.BuildHeaders("", traceID)); err != nil {
		e.logger.Warn().Err(err).Msg("audit publish failed")
	}
}

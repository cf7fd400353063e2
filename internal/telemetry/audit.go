// Package telemetry emits sync lifecycle audit events to the platform's
// audit exchange.
package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher publishes audit events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter wraps a publisher with the audit envelope. A nil emitter
// or publisher is a no-op, so call sites never guard.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// AuditEnvelope is the versioned audit event shape.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload describes one sync lifecycle transition.
type AuditPayload struct {
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// NewAuditEmitter builds an emitter for the given service identity.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes a lifecycle event (push connect, disconnect, unread
// divergence). Publish failures are logged, never propagated.
func (e *AuditEmitter) Emit(ctx context.Context, event, detail, userID string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "sync_lifecycle",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Payload: AuditPayload{
			Event:  event,
			Detail: detail,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

package ports

import (
	"context"
	"encoding/json"
	"time"

	"agora/contexts/access-control/operator-registry/domain/entities"
)

// EventEnvelope mirrors the canonical contracts envelope. The module keeps its
// own copy so context layers stay decoupled from generated contract packages.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	Sequence         uint64          `json:"sequence"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

// OutboxMessage is one pending relay row.
type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

// GrantInput activates (or re-activates) a grant together with its outbox
// row. The adapter rejects an already-active grant under its own
// serialization.
type GrantInput struct {
	Grant    entities.OperatorGrant
	Envelope EventEnvelope
}

// RevokeInput revokes an active grant together with its outbox row.
type RevokeInput struct {
	OperatorID string
	RevokedAt  time.Time
	Envelope   EventEnvelope
}

// GrantRepository owns grant state. Every mutating method is all-or-nothing:
// memory adapters run one mutex-guarded critical section, postgres adapters
// one transaction.
type GrantRepository interface {
	Grant(ctx context.Context, input GrantInput) error
	Revoke(ctx context.Context, input RevokeInput) error
	// SeedGrant activates a grant without an event; used for configured root
	// operators at startup. Activating an already-active grant is a no-op.
	SeedGrant(ctx context.Context, grant entities.OperatorGrant) error

	GetGrant(ctx context.Context, operatorID string) (entities.OperatorGrant, bool, error)
	ListActiveGrants(ctx context.Context) ([]entities.OperatorGrant, error)
}

type IdempotencyRecord struct {
	Key             string
	Operation       string
	RequestHash     string
	ResponsePayload []byte
	ExpiresAt       time.Time
}

type IdempotencyStore interface {
	GetRecord(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	PutRecord(ctx context.Context, record IdempotencyRecord) error
}

// EventSequences allocates the per-event-type monotonic sequence carried by
// every published envelope.
type EventSequences interface {
	NextEventSequence(ctx context.Context, eventType string) (uint64, error)
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

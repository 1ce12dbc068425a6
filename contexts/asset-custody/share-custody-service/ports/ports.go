package ports

import (
	"context"
	"encoding/json"
	"time"

	"agora/contexts/asset-custody/share-custody-service/domain/entities"
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

// UpsertLockInput commits the accumulated lock row together with its outbox
// row. The adapter re-checks the accumulated amount against the holder's
// projected balance inside its own serialization and fails
// ErrInsufficientBalance, so two interleaved locks can never together exceed
// the balance.
type UpsertLockInput struct {
	HolderID     string
	ShareClassID string
	Amount       int64
	UnlockAt     time.Time
	LockedAt     time.Time
	Envelope     EventEnvelope
}

// ReleaseLockInput subtracts from (or clears) a lock row atomically with the
// outbox row. The adapter re-checks existence, unlock time, and remaining
// amount under its own serialization.
type ReleaseLockInput struct {
	HolderID     string
	ShareClassID string
	Amount       int64
	Now          time.Time
	Envelope     EventEnvelope
}

// RegisterFractionInput inserts the ownership record together with its outbox
// row; duplicate fraction ids fail under the adapter's serialization.
type RegisterFractionInput struct {
	Fraction entities.FractionEntry
	Envelope EventEnvelope
}

// CustodyRepository owns lock and fraction state. Every mutating method is
// all-or-nothing: memory adapters run one mutex-guarded critical section,
// postgres adapters one transaction.
type CustodyRepository interface {
	UpsertLock(ctx context.Context, input UpsertLockInput) (entities.BalanceLock, error)
	ReleaseLock(ctx context.Context, input ReleaseLockInput) (entities.BalanceLock, error)
	RegisterFraction(ctx context.Context, input RegisterFractionInput) error

	GetLock(ctx context.Context, holderID string, shareClassID string) (entities.BalanceLock, bool, error)
	ListLocks(ctx context.Context, holderID string) ([]entities.BalanceLock, error)
	GetFraction(ctx context.Context, fractionID string) (entities.FractionEntry, error)
	ListFractions(ctx context.Context, limit int) ([]entities.FractionEntry, error)
}

// ShareHolding is the locally projected external ledger balance.
type ShareHolding struct {
	ShareClassID string
	HolderID     string
	Amount       int64
	UpdatedAt    time.Time
}

// HoldingsProjection is the read model of the external multi-asset ledger.
// Commands only ever read it; projection workers write it.
type HoldingsProjection interface {
	GetHolding(ctx context.Context, shareClassID string, holderID string) (ShareHolding, bool, error)
	GetTotalMinted(ctx context.Context, shareClassID string) (int64, bool, error)
	UpsertHolding(ctx context.Context, holding ShareHolding) error
	UpsertSupply(ctx context.Context, shareClassID string, totalMinted int64, updatedAt time.Time) error
}

// OperatorDirectory gates fraction registration; wired to the access-control
// context in bootstrap.
type OperatorDirectory interface {
	IsAuthorized(ctx context.Context, operatorID string) (bool, error)
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

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, consumerGroup string, handler func(context.Context, EventEnvelope) error) error
}

// EventDedupStore gates at-least-once consumers: the first reservation wins,
// replays with an identical payload hash report already processed.
type EventDedupStore interface {
	ReserveEvent(ctx context.Context, eventID string, payloadHash string, expiresAt time.Time) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

package ports

import (
	"context"
	"encoding/json"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
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

// CreateProposalInput commits a new proposal together with its outbox row.
// The id has already been reserved through NextProposalID.
type CreateProposalInput struct {
	Proposal entities.Proposal
	Envelope EventEnvelope
}

// OpenVotingInput records the voting start atomically with the outbox row. The
// adapter re-checks under its own serialization that voting was not opened.
type OpenVotingInput struct {
	ProposalID     uint64
	VotingStartsAt time.Time
	Envelope       EventEnvelope
}

// AppendVoteInput inserts a vote record and increments its running tally
// counter as one mutation: both commit or neither does. Adapters enforce the
// (proposal_id, voter_id) uniqueness under the same serialization.
type AppendVoteInput struct {
	Vote     entities.VoteRecord
	Envelope EventEnvelope
}

// FinalizeProposalInput freezes the yes/no snapshot. Adapters reject repeat
// finalizations under their own serialization.
type FinalizeProposalInput struct {
	ProposalID  uint64
	FinalizedAt time.Time
	YesWeight   int64
	NoWeight    int64
	Envelope    EventEnvelope
}

// ProposalRepository owns proposal, vote, and tally state. Every mutating
// method is all-or-nothing: memory adapters run one mutex-guarded critical
// section, postgres adapters one transaction.
type ProposalRepository interface {
	NextProposalID(ctx context.Context) (uint64, error)
	CreateProposal(ctx context.Context, input CreateProposalInput) error
	OpenVoting(ctx context.Context, input OpenVotingInput) error
	AppendVote(ctx context.Context, input AppendVoteInput) error
	FinalizeProposal(ctx context.Context, input FinalizeProposalInput) error

	GetProposal(ctx context.Context, proposalID uint64) (entities.Proposal, error)
	GetProposalByFraction(ctx context.Context, fractionID string) (entities.Proposal, error)
	ListProposals(ctx context.Context, limit int) ([]entities.Proposal, error)
	CountProposals(ctx context.Context) (uint64, error)
	GetVote(ctx context.Context, proposalID uint64, voterID string) (entities.VoteRecord, bool, error)
	GetTally(ctx context.Context, proposalID uint64, option string) (int64, error)
	ListTallies(ctx context.Context, proposalID uint64) ([]entities.TallyEntry, error)
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
	CountHolders(ctx context.Context, shareClassID string) (int64, error)
	UpsertHolding(ctx context.Context, holding ShareHolding) error
	UpsertSupply(ctx context.Context, shareClassID string, totalMinted int64, updatedAt time.Time) error
}

// OperatorDirectory is the authorization capability consumed by commands that
// gate on operator status. Wired to the access-control context in bootstrap.
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

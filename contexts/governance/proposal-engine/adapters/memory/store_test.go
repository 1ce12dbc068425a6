package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"
)

func testEnvelope(eventID string, eventType string, data map[string]any) ports.EventEnvelope {
	payload, _ := json.Marshal(data)
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		SourceService:    "proposal-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		Sequence:         1,
		PartitionKeyPath: "proposal_id",
		PartitionKey:     "1",
		Data:             payload,
	}
}

func TestCreateProposalCommitsOutboxRowAtomically(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	proposal := entities.Proposal{
		ProposalID: 1,
		Title:      "Atomic write",
		CreatorID:  "op-1",
		CreatedAt:  time.Now().UTC(),
		Deadline:   time.Now().UTC().Add(time.Hour),
	}
	envelope := testEnvelope("evt-1", "governance.proposal_created", map[string]any{"proposal_id": 1})
	if err := store.CreateProposal(ctx, ports.CreateProposalInput{Proposal: proposal, Envelope: envelope}); err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	pending, err := store.ListPendingOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != "governance.proposal_created" {
		t.Fatalf("expected one pending proposal_created row, got %+v", pending)
	}

	// Re-appending the identical envelope is tolerated; a drifted payload
	// under the same event id is a conflict.
	if err := store.CreateProposal(ctx, ports.CreateProposalInput{Proposal: proposal, Envelope: envelope}); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate proposal id, got %v", err)
	}
	drifted := testEnvelope("evt-1", "governance.proposal_created", map[string]any{"proposal_id": 2})
	if err := store.OpenVoting(ctx, ports.OpenVotingInput{
		ProposalID:     1,
		VotingStartsAt: time.Now().UTC(),
		Envelope:       drifted,
	}); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected ErrConflict for payload drift on same event id, got %v", err)
	}
}

func TestAppendVoteRejectsDuplicateVoter(t *testing.T) {
	store := NewStore([]entities.Proposal{{
		ProposalID: 7,
		Title:      "Dup voter",
		Deadline:   time.Now().UTC().Add(time.Hour),
	}})
	ctx := context.Background()

	vote := entities.VoteRecord{
		VoteID:     "vote-1",
		ProposalID: 7,
		VoterID:    "alice",
		Choice:     entities.ChoiceYes,
		Weight:     10,
		CastAt:     time.Now().UTC(),
	}
	if err := store.AppendVote(ctx, ports.AppendVoteInput{
		Vote:     vote,
		Envelope: testEnvelope("evt-vote-1", "governance.vote_cast", map[string]any{"voter_id": "alice"}),
	}); err != nil {
		t.Fatalf("append vote failed: %v", err)
	}

	vote.VoteID = "vote-2"
	if err := store.AppendVote(ctx, ports.AppendVoteInput{
		Vote:     vote,
		Envelope: testEnvelope("evt-vote-2", "governance.vote_cast", map[string]any{"voter_id": "alice"}),
	}); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}

	tally, err := store.GetTally(ctx, 7, entities.ChoiceYes)
	if err != nil {
		t.Fatalf("get tally failed: %v", err)
	}
	if tally != 10 {
		t.Fatalf("expected tally untouched by rejected vote, got %d", tally)
	}
}

func TestEventSequencesAreScopedPerType(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	for want := uint64(1); want <= 3; want++ {
		got, err := store.NextEventSequence(ctx, "governance.vote_cast")
		if err != nil {
			t.Fatalf("next sequence failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected sequence %d, got %d", want, got)
		}
	}
	got, err := store.NextEventSequence(ctx, "governance.proposal_created")
	if err != nil {
		t.Fatalf("next sequence failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected independent counter per event type, got %d", got)
	}
}

func TestIdempotencyRecordsExpire(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	record := ports.IdempotencyRecord{
		Key:             "idem-expiry",
		Operation:       "create_proposal",
		RequestHash:     "hash-1",
		ResponsePayload: []byte(`{}`),
		ExpiresAt:       now.Add(time.Hour),
	}
	if err := store.PutRecord(ctx, record); err != nil {
		t.Fatalf("put record failed: %v", err)
	}
	if _, found, err := store.GetRecord(ctx, "idem-expiry", now); err != nil || !found {
		t.Fatalf("expected live record, found=%v err=%v", found, err)
	}
	if _, found, err := store.GetRecord(ctx, "idem-expiry", now.Add(2*time.Hour)); err != nil || found {
		t.Fatalf("expected expired record to be gone, found=%v err=%v", found, err)
	}

	// After expiry the key is reusable with a different request hash.
	record.RequestHash = "hash-2"
	if err := store.PutRecord(ctx, record); err != nil {
		t.Fatalf("re-put after expiry failed: %v", err)
	}
}

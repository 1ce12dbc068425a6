package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type dedupRecord struct {
	payloadHash string
	expiresAt   time.Time
}

type holdingKey struct {
	shareClassID string
	holderID     string
}

type voteKey struct {
	proposalID uint64
	voterID    string
}

type tallyKey struct {
	proposalID uint64
	option     string
}

// Store is the in-memory adapter behind every proposal-engine port. One mutex
// guards all state, so each mutating method is a single serialized critical
// section: vote insert and tally increment commit together, and no partial
// state is ever observable.
type Store struct {
	mu sync.RWMutex

	nextProposalID uint64
	proposals      map[uint64]entities.Proposal
	votes          map[voteKey]entities.VoteRecord
	tallies        map[tallyKey]int64

	holdings map[holdingKey]ports.ShareHolding
	supply   map[string]int64

	operators map[string]bool

	idempotency map[string]ports.IdempotencyRecord
	sequences   map[string]uint64
	outbox      map[string]outboxRecord
	eventDedup  map[string]dedupRecord

	nowFn func() time.Time
}

func NewStore(seed []entities.Proposal) *Store {
	store := &Store{
		nextProposalID: 1,
		proposals:      make(map[uint64]entities.Proposal, len(seed)),
		votes:          make(map[voteKey]entities.VoteRecord),
		tallies:        make(map[tallyKey]int64),
		holdings:       make(map[holdingKey]ports.ShareHolding),
		supply:         make(map[string]int64),
		operators:      make(map[string]bool),
		idempotency:    make(map[string]ports.IdempotencyRecord),
		sequences:      make(map[string]uint64),
		outbox:         make(map[string]outboxRecord),
		eventDedup:     make(map[string]dedupRecord),
		nowFn:          func() time.Time { return time.Now().UTC() },
	}
	for _, proposal := range seed {
		store.proposals[proposal.ProposalID] = proposal
		if proposal.ProposalID >= store.nextProposalID {
			store.nextProposalID = proposal.ProposalID + 1
		}
	}
	return store
}

// SetNow pins the store clock; tests drive the voting window with it.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := now.UTC()
	s.nowFn = func() time.Time { return pinned }
}

// AdvanceNow moves a pinned clock forward.
func (s *Store) AdvanceNow(delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.nowFn()
	pinned := current.Add(delta)
	s.nowFn = func() time.Time { return pinned }
}

// SetHolding seeds the projected external-ledger balance for a holder.
func (s *Store) SetHolding(shareClassID string, holderID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := holdingKey{strings.TrimSpace(shareClassID), strings.TrimSpace(holderID)}
	s.holdings[key] = ports.ShareHolding{
		ShareClassID: key.shareClassID,
		HolderID:     key.holderID,
		Amount:       amount,
		UpdatedAt:    s.nowFn(),
	}
}

// SetOperator seeds the local operator directory used by gated commands.
func (s *Store) SetOperator(operatorID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[strings.TrimSpace(operatorID)] = active
}

func (s *Store) IsAuthorized(_ context.Context, operatorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operators[strings.TrimSpace(operatorID)], nil
}

// SetSupply seeds the projected total minted amount for a share class.
func (s *Store) SetSupply(shareClassID string, totalMinted int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply[strings.TrimSpace(shareClassID)] = totalMinted
}

func (s *Store) NextProposalID(_ context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextProposalID
	s.nextProposalID++
	return id, nil
}

func (s *Store) CreateProposal(_ context.Context, input ports.CreateProposalInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal := input.Proposal
	if _, exists := s.proposals[proposal.ProposalID]; exists {
		return domainerrors.ErrConflict
	}
	if proposal.FractionID != "" {
		for _, existing := range s.proposals {
			if existing.FractionID == proposal.FractionID {
				return domainerrors.ErrFractionAlreadyLinked
			}
		}
	}
	s.proposals[proposal.ProposalID] = proposal
	return s.appendOutboxLocked(input.Envelope)
}

func (s *Store) OpenVoting(_ context.Context, input ports.OpenVotingInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[input.ProposalID]
	if !ok {
		return domainerrors.ErrProposalNotFound
	}
	if proposal.VotingOpened() {
		return domainerrors.ErrInvalidWindow
	}
	startsAt := input.VotingStartsAt.UTC()
	proposal.VotingStartsAt = &startsAt
	s.proposals[input.ProposalID] = proposal
	return s.appendOutboxLocked(input.Envelope)
}

func (s *Store) AppendVote(_ context.Context, input ports.AppendVoteInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vote := input.Vote
	key := voteKey{vote.ProposalID, strings.TrimSpace(vote.VoterID)}
	proposal, ok := s.proposals[vote.ProposalID]
	if !ok {
		return domainerrors.ErrProposalNotFound
	}
	if proposal.Finalized {
		return domainerrors.ErrVotingClosed
	}
	if _, exists := s.votes[key]; exists {
		return domainerrors.ErrAlreadyVoted
	}
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return err
	}
	s.votes[key] = vote
	s.tallies[tallyKey{vote.ProposalID, vote.Choice}] += vote.Weight
	return nil
}

func (s *Store) FinalizeProposal(_ context.Context, input ports.FinalizeProposalInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[input.ProposalID]
	if !ok {
		return domainerrors.ErrProposalNotFound
	}
	if proposal.Finalized {
		return domainerrors.ErrAlreadyFinalized
	}
	finalizedAt := input.FinalizedAt.UTC()
	proposal.Finalized = true
	proposal.FinalizedAt = &finalizedAt
	proposal.FinalYesWeight = input.YesWeight
	proposal.FinalNoWeight = input.NoWeight
	s.proposals[input.ProposalID] = proposal
	return s.appendOutboxLocked(input.Envelope)
}

func (s *Store) GetProposal(_ context.Context, proposalID uint64) (entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proposal, ok := s.proposals[proposalID]
	if !ok {
		return entities.Proposal{}, domainerrors.ErrProposalNotFound
	}
	return proposal, nil
}

func (s *Store) GetProposalByFraction(_ context.Context, fractionID string) (entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fractionID = strings.TrimSpace(fractionID)
	for _, proposal := range s.proposals {
		if proposal.FractionID != "" && proposal.FractionID == fractionID {
			return proposal, nil
		}
	}
	return entities.Proposal{}, domainerrors.ErrFractionPollNotFound
}

func (s *Store) ListProposals(_ context.Context, limit int) ([]entities.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Proposal, 0, len(s.proposals))
	for _, proposal := range s.proposals {
		items = append(items, proposal)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ProposalID < items[j].ProposalID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) CountProposals(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextProposalID - 1, nil
}

func (s *Store) GetVote(_ context.Context, proposalID uint64, voterID string) (entities.VoteRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.votes[voteKey{proposalID, strings.TrimSpace(voterID)}]
	return vote, ok, nil
}

func (s *Store) GetTally(_ context.Context, proposalID uint64, option string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tallies[tallyKey{proposalID, strings.TrimSpace(option)}], nil
}

func (s *Store) ListTallies(_ context.Context, proposalID uint64) ([]entities.TallyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]entities.TallyEntry, 0)
	for key, weight := range s.tallies {
		if key.proposalID != proposalID {
			continue
		}
		entries = append(entries, entities.TallyEntry{Option: key.option, Weight: weight})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Option < entries[j].Option
	})
	return entries, nil
}

func (s *Store) GetHolding(_ context.Context, shareClassID string, holderID string) (ports.ShareHolding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holding, ok := s.holdings[holdingKey{strings.TrimSpace(shareClassID), strings.TrimSpace(holderID)}]
	return holding, ok, nil
}

func (s *Store) GetTotalMinted(_ context.Context, shareClassID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, ok := s.supply[strings.TrimSpace(shareClassID)]
	return total, ok, nil
}

func (s *Store) CountHolders(_ context.Context, shareClassID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shareClassID = strings.TrimSpace(shareClassID)
	var count int64
	for key, holding := range s.holdings {
		if key.shareClassID == shareClassID && holding.Amount > 0 {
			count++
		}
	}
	return count, nil
}

func (s *Store) UpsertHolding(_ context.Context, holding ports.ShareHolding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := holdingKey{strings.TrimSpace(holding.ShareClassID), strings.TrimSpace(holding.HolderID)}
	holding.ShareClassID = key.shareClassID
	holding.HolderID = key.holderID
	holding.UpdatedAt = holding.UpdatedAt.UTC()
	s.holdings[key] = holding
	return nil
}

func (s *Store) UpsertSupply(_ context.Context, shareClassID string, totalMinted int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply[strings.TrimSpace(shareClassID)] = totalMinted
	return nil
}

func (s *Store) GetRecord(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) PutRecord(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	existing, exists := s.idempotency[key]
	if exists {
		if existing.RequestHash != record.RequestHash {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	record.Key = key
	record.ExpiresAt = record.ExpiresAt.UTC()
	s.idempotency[key] = record
	return nil
}

func (s *Store) NextEventSequence(_ context.Context, eventType string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eventType = strings.TrimSpace(eventType)
	s.sequences[eventType]++
	return s.sequences[eventType], nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) ReserveEvent(
	_ context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(eventID)
	existing, ok := s.eventDedup[key]
	if ok {
		if !existing.expiresAt.IsZero() && s.nowFn().After(existing.expiresAt.UTC()) {
			delete(s.eventDedup, key)
		} else {
			if existing.payloadHash != strings.TrimSpace(payloadHash) {
				return false, domainerrors.ErrConflict
			}
			return true, nil
		}
	}

	s.eventDedup[key] = dedupRecord{
		payloadHash: strings.TrimSpace(payloadHash),
		expiresAt:   expiresAt.UTC(),
	}
	return false, nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) appendOutboxLocked(envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.nowFn()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

var _ ports.ProposalRepository = (*Store)(nil)
var _ ports.OperatorDirectory = (*Store)(nil)
var _ ports.HoldingsProjection = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.EventSequences = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/access-control/operator-registry/domain/entities"
	domainerrors "agora/contexts/access-control/operator-registry/domain/errors"
	"agora/contexts/access-control/operator-registry/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

// Store is the in-memory adapter behind every operator-registry port. One
// mutex guards all state, so each mutating method is a single serialized
// critical section.
type Store struct {
	mu sync.RWMutex

	grants map[string]entities.OperatorGrant

	idempotency map[string]ports.IdempotencyRecord
	sequences   map[string]uint64
	outbox      map[string]outboxRecord

	nowFn func() time.Time
}

func NewStore(seed []entities.OperatorGrant) *Store {
	store := &Store{
		grants:      make(map[string]entities.OperatorGrant, len(seed)),
		idempotency: make(map[string]ports.IdempotencyRecord),
		sequences:   make(map[string]uint64),
		outbox:      make(map[string]outboxRecord),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
	for _, grant := range seed {
		store.grants[grant.OperatorID] = grant
	}
	return store
}

// SetNow pins the store clock.
func (s *Store) SetNow(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pinned := now.UTC()
	s.nowFn = func() time.Time { return pinned }
}

func (s *Store) Grant(_ context.Context, input ports.GrantInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant := input.Grant
	if existing, found := s.grants[grant.OperatorID]; found && existing.Active() {
		return domainerrors.ErrOperatorAlreadyGranted
	}
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return err
	}
	s.grants[grant.OperatorID] = grant
	return nil
}

func (s *Store) Revoke(_ context.Context, input ports.RevokeInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, found := s.grants[strings.TrimSpace(input.OperatorID)]
	if !found || !grant.Active() {
		return domainerrors.ErrOperatorNotGranted
	}
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return err
	}
	revokedAt := input.RevokedAt.UTC()
	grant.RevokedAt = &revokedAt
	s.grants[grant.OperatorID] = grant
	return nil
}

func (s *Store) SeedGrant(_ context.Context, grant entities.OperatorGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found := s.grants[grant.OperatorID]; found && existing.Active() {
		return nil
	}
	s.grants[grant.OperatorID] = grant
	return nil
}

func (s *Store) GetGrant(_ context.Context, operatorID string) (entities.OperatorGrant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, found := s.grants[strings.TrimSpace(operatorID)]
	return grant, found, nil
}

func (s *Store) ListActiveGrants(_ context.Context) ([]entities.OperatorGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.OperatorGrant, 0, len(s.grants))
	for _, grant := range s.grants {
		if grant.Active() {
			items = append(items, grant)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].OperatorID < items[j].OperatorID
	})
	return items, nil
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

var _ ports.GrantRepository = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.EventSequences = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	"agora/contexts/asset-custody/share-custody-service/ports"

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

type lockKey struct {
	holderID     string
	shareClassID string
}

type holdingKey struct {
	shareClassID string
	holderID     string
}

// Store is the in-memory adapter behind every share-custody port. One mutex
// guards all state, so each mutating method is a single serialized critical
// section and no partial state is ever observable.
type Store struct {
	mu sync.RWMutex

	locks     map[lockKey]entities.BalanceLock
	fractions map[string]entities.FractionEntry

	holdings map[holdingKey]ports.ShareHolding
	supply   map[string]int64

	operators map[string]bool

	idempotency map[string]ports.IdempotencyRecord
	sequences   map[string]uint64
	outbox      map[string]outboxRecord
	eventDedup  map[string]dedupRecord

	nowFn func() time.Time
}

func NewStore(seed []entities.FractionEntry) *Store {
	store := &Store{
		locks:       make(map[lockKey]entities.BalanceLock),
		fractions:   make(map[string]entities.FractionEntry, len(seed)),
		holdings:    make(map[holdingKey]ports.ShareHolding),
		supply:      make(map[string]int64),
		operators:   make(map[string]bool),
		idempotency: make(map[string]ports.IdempotencyRecord),
		sequences:   make(map[string]uint64),
		outbox:      make(map[string]outboxRecord),
		eventDedup:  make(map[string]dedupRecord),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
	for _, fraction := range seed {
		store.fractions[fraction.FractionID] = fraction
	}
	return store
}

// SetNow pins the store clock; tests drive unlock windows with it.
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

// SetSupply seeds the projected total minted amount for a share class.
func (s *Store) SetSupply(shareClassID string, totalMinted int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supply[strings.TrimSpace(shareClassID)] = totalMinted
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

func (s *Store) UpsertLock(_ context.Context, input ports.UpsertLockInput) (entities.BalanceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey{strings.TrimSpace(input.HolderID), strings.TrimSpace(input.ShareClassID)}
	lockedAt := input.LockedAt.UTC()
	lock, found := s.locks[key]
	if !found {
		lock = entities.BalanceLock{
			HolderID:     key.holderID,
			ShareClassID: key.shareClassID,
			CreatedAt:    lockedAt,
		}
	}
	lock.Amount += input.Amount
	holding := s.holdings[holdingKey{key.shareClassID, key.holderID}]
	if lock.Amount > holding.Amount {
		return entities.BalanceLock{}, domainerrors.ErrInsufficientBalance
	}
	if input.UnlockAt.UTC().After(lock.UnlockAt.UTC()) {
		lock.UnlockAt = input.UnlockAt.UTC()
	}
	lock.UpdatedAt = lockedAt
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return entities.BalanceLock{}, err
	}
	s.locks[key] = lock
	return lock, nil
}

func (s *Store) ReleaseLock(_ context.Context, input ports.ReleaseLockInput) (entities.BalanceLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey{strings.TrimSpace(input.HolderID), strings.TrimSpace(input.ShareClassID)}
	lock, found := s.locks[key]
	if !found {
		return entities.BalanceLock{}, domainerrors.ErrLockNotFound
	}
	if !lock.Unlockable(input.Now) {
		return entities.BalanceLock{}, domainerrors.ErrUnlockTooEarly
	}
	if input.Amount > lock.Amount {
		return entities.BalanceLock{}, domainerrors.ErrInsufficientLocked
	}
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return entities.BalanceLock{}, err
	}
	lock.Amount -= input.Amount
	lock.UpdatedAt = input.Now.UTC()
	if lock.Amount == 0 {
		delete(s.locks, key)
		return lock, nil
	}
	s.locks[key] = lock
	return lock, nil
}

func (s *Store) RegisterFraction(_ context.Context, input ports.RegisterFractionInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fraction := input.Fraction
	if _, exists := s.fractions[fraction.FractionID]; exists {
		return domainerrors.ErrFractionExists
	}
	if err := s.appendOutboxLocked(input.Envelope); err != nil {
		return err
	}
	s.fractions[fraction.FractionID] = fraction
	return nil
}

func (s *Store) GetLock(_ context.Context, holderID string, shareClassID string) (entities.BalanceLock, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, found := s.locks[lockKey{strings.TrimSpace(holderID), strings.TrimSpace(shareClassID)}]
	return lock, found, nil
}

func (s *Store) ListLocks(_ context.Context, holderID string) ([]entities.BalanceLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holderID = strings.TrimSpace(holderID)
	items := make([]entities.BalanceLock, 0)
	for key, lock := range s.locks {
		if key.holderID == holderID {
			items = append(items, lock)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ShareClassID < items[j].ShareClassID
	})
	return items, nil
}

func (s *Store) GetFraction(_ context.Context, fractionID string) (entities.FractionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fraction, found := s.fractions[strings.TrimSpace(fractionID)]
	if !found {
		return entities.FractionEntry{}, domainerrors.ErrFractionNotFound
	}
	return fraction, nil
}

func (s *Store) ListFractions(_ context.Context, limit int) ([]entities.FractionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.FractionEntry, 0, len(s.fractions))
	for _, fraction := range s.fractions {
		items = append(items, fraction)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].FractionID < items[j].FractionID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) GetHolding(_ context.Context, shareClassID string, holderID string) (ports.ShareHolding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	holding, found := s.holdings[holdingKey{strings.TrimSpace(shareClassID), strings.TrimSpace(holderID)}]
	return holding, found, nil
}

func (s *Store) GetTotalMinted(_ context.Context, shareClassID string) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total, found := s.supply[strings.TrimSpace(shareClassID)]
	return total, found, nil
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

var _ ports.CustodyRepository = (*Store)(nil)
var _ ports.HoldingsProjection = (*Store)(nil)
var _ ports.OperatorDirectory = (*Store)(nil)
var _ ports.IdempotencyStore = (*Store)(nil)
var _ ports.EventSequences = (*Store)(nil)
var _ ports.OutboxRepository = (*Store)(nil)
var _ ports.EventDedupStore = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)

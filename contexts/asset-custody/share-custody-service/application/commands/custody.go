package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/asset-custody/share-custody-service/application"
	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	"agora/contexts/asset-custody/share-custody-service/ports"
)

const (
	eventTokensLocked    = "custody.tokens_locked"
	eventTokensUnlocked  = "custody.tokens_unlocked"
	eventFractionCreated = "custody.fraction_created"
)

type LockTokensCommand struct {
	IdempotencyKey string
	HolderID       string
	ShareClassID   string
	Amount         int64
	UnlockAt       time.Time
}

type LockTokensResult struct {
	Lock     entities.BalanceLock `json:"lock"`
	Replayed bool                 `json:"replayed"`
}

type UnlockTokensCommand struct {
	IdempotencyKey string
	HolderID       string
	ShareClassID   string
	// Amount zero releases the full locked amount.
	Amount int64
}

type UnlockTokensResult struct {
	Lock     entities.BalanceLock `json:"lock"`
	Released int64                `json:"released"`
	Replayed bool                 `json:"replayed"`
}

type RegisterFractionCommand struct {
	IdempotencyKey string
	ActorID        string
	FractionID     string
	AssetID        string
	TotalMinted    int64
	NominalOwner   string
	VotingDeadline *time.Time
}

type RegisterFractionResult struct {
	Fraction entities.FractionEntry `json:"fraction"`
	Replayed bool                   `json:"replayed"`
}

// CustodyUseCase orchestrates the locked-balance sub-ledger and fraction
// registration. Every mutation validates before writing, commits state and
// outbox row together, and is replay-safe via idempotency key + request hash.
type CustodyUseCase struct {
	Custody        ports.CustodyRepository
	Holdings       ports.HoldingsProjection
	Operators      ports.OperatorDirectory
	Idempotency    ports.IdempotencyStore
	Sequences      ports.EventSequences
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// LockTokens accumulates a holder's lock for one share class. The total
// locked amount never exceeds the projected balance at lock time, and a later
// unlock time always wins over the existing one.
func (uc CustodyUseCase) LockTokens(ctx context.Context, cmd LockTokensCommand) (LockTokensResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("token lock started",
		"event", "custody_lock_started",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"holder_id", strings.TrimSpace(cmd.HolderID),
		"share_class_id", strings.TrimSpace(cmd.ShareClassID),
		"amount", cmd.Amount,
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return LockTokensResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.HolderID) == "" {
		return LockTokensResult{}, domainerrors.ErrInvalidHolder
	}
	if strings.TrimSpace(cmd.ShareClassID) == "" {
		return LockTokensResult{}, domainerrors.ErrInvalidShareClass
	}
	if cmd.Amount <= 0 {
		return LockTokensResult{}, domainerrors.ErrInvalidAmount
	}

	now := uc.now()
	if !cmd.UnlockAt.UTC().After(now) {
		return LockTokensResult{}, domainerrors.ErrInvalidUnlockTime
	}

	requestHash, err := hashRequest(struct {
		HolderID     string `json:"holder_id"`
		ShareClassID string `json:"share_class_id"`
		Amount       int64  `json:"amount"`
		UnlockAt     string `json:"unlock_at"`
		Op           string `json:"op"`
	}{
		HolderID:     strings.TrimSpace(cmd.HolderID),
		ShareClassID: strings.TrimSpace(cmd.ShareClassID),
		Amount:       cmd.Amount,
		UnlockAt:     cmd.UnlockAt.UTC().Format(time.RFC3339Nano),
		Op:           "lock_tokens",
	})
	if err != nil {
		return LockTokensResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return LockTokensResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return LockTokensResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay LockTokensResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return LockTokensResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	holderID := strings.TrimSpace(cmd.HolderID)
	shareClassID := strings.TrimSpace(cmd.ShareClassID)

	holding, _, err := uc.Holdings.GetHolding(ctx, shareClassID, holderID)
	if err != nil {
		return LockTokensResult{}, err
	}

	existing, found, err := uc.Custody.GetLock(ctx, holderID, shareClassID)
	if err != nil {
		return LockTokensResult{}, err
	}
	lockedTotal := cmd.Amount
	unlockAt := cmd.UnlockAt.UTC()
	createdAt := now
	if found {
		lockedTotal += existing.Amount
		if existing.UnlockAt.UTC().After(unlockAt) {
			unlockAt = existing.UnlockAt.UTC()
		}
		createdAt = existing.CreatedAt
	}
	if lockedTotal > holding.Amount {
		return LockTokensResult{}, domainerrors.ErrInsufficientBalance
	}

	envelope, err := uc.buildEnvelope(ctx, eventTokensLocked, "holder_id", holderID, now, map[string]any{
		"holder_id":      holderID,
		"share_class_id": shareClassID,
		"amount":         cmd.Amount,
		"locked_total":   lockedTotal,
		"unlock_at":      unlockAt.Format(time.RFC3339),
	})
	if err != nil {
		return LockTokensResult{}, err
	}

	lock, err := uc.Custody.UpsertLock(ctx, ports.UpsertLockInput{
		HolderID:     holderID,
		ShareClassID: shareClassID,
		Amount:       cmd.Amount,
		UnlockAt:     unlockAt,
		LockedAt:     now,
		Envelope:     envelope,
	})
	if err != nil {
		logger.Error("token lock write failed",
			"event", "custody_lock_write_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "application",
			"holder_id", holderID,
			"share_class_id", shareClassID,
			"error", err.Error(),
		)
		return LockTokensResult{}, err
	}
	lock.CreatedAt = createdAt

	result := LockTokensResult{Lock: lock}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "lock_tokens", requestHash, result, now); err != nil {
		return LockTokensResult{}, err
	}

	logger.Info("tokens locked",
		"event", "custody_tokens_locked",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"holder_id", holderID,
		"share_class_id", shareClassID,
		"locked_total", lock.Amount,
	)
	return result, nil
}

// UnlockTokens releases part or all of a lock once its unlock time has
// passed. A zero amount means the full locked amount; releasing everything
// clears the row.
func (uc CustodyUseCase) UnlockTokens(ctx context.Context, cmd UnlockTokensCommand) (UnlockTokensResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("token unlock started",
		"event", "custody_unlock_started",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"holder_id", strings.TrimSpace(cmd.HolderID),
		"share_class_id", strings.TrimSpace(cmd.ShareClassID),
		"amount", cmd.Amount,
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return UnlockTokensResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.HolderID) == "" {
		return UnlockTokensResult{}, domainerrors.ErrInvalidHolder
	}
	if strings.TrimSpace(cmd.ShareClassID) == "" {
		return UnlockTokensResult{}, domainerrors.ErrInvalidShareClass
	}
	if cmd.Amount < 0 {
		return UnlockTokensResult{}, domainerrors.ErrInvalidAmount
	}

	now := uc.now()
	requestHash, err := hashRequest(struct {
		HolderID     string `json:"holder_id"`
		ShareClassID string `json:"share_class_id"`
		Amount       int64  `json:"amount"`
		Op           string `json:"op"`
	}{
		HolderID:     strings.TrimSpace(cmd.HolderID),
		ShareClassID: strings.TrimSpace(cmd.ShareClassID),
		Amount:       cmd.Amount,
		Op:           "unlock_tokens",
	})
	if err != nil {
		return UnlockTokensResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return UnlockTokensResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return UnlockTokensResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay UnlockTokensResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return UnlockTokensResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	holderID := strings.TrimSpace(cmd.HolderID)
	shareClassID := strings.TrimSpace(cmd.ShareClassID)

	existing, found, err := uc.Custody.GetLock(ctx, holderID, shareClassID)
	if err != nil {
		return UnlockTokensResult{}, err
	}
	if !found {
		return UnlockTokensResult{}, domainerrors.ErrLockNotFound
	}
	if !existing.Unlockable(now) {
		return UnlockTokensResult{}, domainerrors.ErrUnlockTooEarly
	}
	released := cmd.Amount
	if released == 0 {
		released = existing.Amount
	}
	if released > existing.Amount {
		return UnlockTokensResult{}, domainerrors.ErrInsufficientLocked
	}
	lockedTotal := existing.Amount - released

	envelope, err := uc.buildEnvelope(ctx, eventTokensUnlocked, "holder_id", holderID, now, map[string]any{
		"holder_id":      holderID,
		"share_class_id": shareClassID,
		"amount":         released,
		"locked_total":   lockedTotal,
	})
	if err != nil {
		return UnlockTokensResult{}, err
	}

	lock, err := uc.Custody.ReleaseLock(ctx, ports.ReleaseLockInput{
		HolderID:     holderID,
		ShareClassID: shareClassID,
		Amount:       released,
		Now:          now,
		Envelope:     envelope,
	})
	if err != nil {
		logger.Error("token unlock write failed",
			"event", "custody_unlock_write_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "application",
			"holder_id", holderID,
			"share_class_id", shareClassID,
			"error", err.Error(),
		)
		return UnlockTokensResult{}, err
	}

	result := UnlockTokensResult{Lock: lock, Released: released}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "unlock_tokens", requestHash, result, now); err != nil {
		return UnlockTokensResult{}, err
	}

	logger.Info("tokens unlocked",
		"event", "custody_tokens_unlocked",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"holder_id", holderID,
		"share_class_id", shareClassID,
		"released", released,
		"locked_total", lock.Amount,
	)
	return result, nil
}

// RegisterFraction records the ownership entry for a fractionalized asset and
// emits the event the governance context creates the linked poll from.
func (uc CustodyUseCase) RegisterFraction(ctx context.Context, cmd RegisterFractionCommand) (RegisterFractionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("fraction registration started",
		"event", "custody_fraction_register_started",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"fraction_id", strings.TrimSpace(cmd.FractionID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return RegisterFractionResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.FractionID) == "" {
		return RegisterFractionResult{}, domainerrors.ErrInvalidFraction
	}
	if strings.TrimSpace(cmd.AssetID) == "" {
		return RegisterFractionResult{}, domainerrors.ErrInvalidAsset
	}
	if strings.TrimSpace(cmd.NominalOwner) == "" {
		return RegisterFractionResult{}, domainerrors.ErrInvalidOwner
	}
	if cmd.TotalMinted <= 0 {
		return RegisterFractionResult{}, domainerrors.ErrInvalidSupply
	}

	now := uc.now()
	deadline := ""
	if cmd.VotingDeadline != nil {
		deadline = cmd.VotingDeadline.UTC().Format(time.RFC3339)
	}
	requestHash, err := hashRequest(struct {
		FractionID   string `json:"fraction_id"`
		AssetID      string `json:"asset_id"`
		TotalMinted  int64  `json:"total_minted"`
		NominalOwner string `json:"nominal_owner"`
		Deadline     string `json:"voting_deadline"`
		Op           string `json:"op"`
	}{
		FractionID:   strings.TrimSpace(cmd.FractionID),
		AssetID:      strings.TrimSpace(cmd.AssetID),
		TotalMinted:  cmd.TotalMinted,
		NominalOwner: strings.TrimSpace(cmd.NominalOwner),
		Deadline:     deadline,
		Op:           "register_fraction",
	})
	if err != nil {
		return RegisterFractionResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return RegisterFractionResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return RegisterFractionResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay RegisterFractionResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return RegisterFractionResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	if err := uc.requireOperator(ctx, cmd.ActorID); err != nil {
		return RegisterFractionResult{}, err
	}

	fraction := entities.FractionEntry{
		FractionID:    strings.TrimSpace(cmd.FractionID),
		AssetID:       strings.TrimSpace(cmd.AssetID),
		TotalMinted:   cmd.TotalMinted,
		TrackedAmount: cmd.TotalMinted,
		NominalOwner:  strings.TrimSpace(cmd.NominalOwner),
		CreatedAt:     now,
	}

	data := map[string]any{
		"fraction_id":   fraction.FractionID,
		"asset_id":      fraction.AssetID,
		"total_minted":  fraction.TotalMinted,
		"nominal_owner": fraction.NominalOwner,
	}
	if deadline != "" {
		data["voting_deadline"] = deadline
	}
	envelope, err := uc.buildEnvelope(ctx, eventFractionCreated, "fraction_id", fraction.FractionID, now, data)
	if err != nil {
		return RegisterFractionResult{}, err
	}

	if err := uc.Custody.RegisterFraction(ctx, ports.RegisterFractionInput{
		Fraction: fraction,
		Envelope: envelope,
	}); err != nil {
		if errors.Is(err, domainerrors.ErrFractionExists) {
			return RegisterFractionResult{}, err
		}
		logger.Error("fraction registration write failed",
			"event", "custody_fraction_register_write_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "application",
			"fraction_id", fraction.FractionID,
			"error", err.Error(),
		)
		return RegisterFractionResult{}, err
	}

	result := RegisterFractionResult{Fraction: fraction}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "register_fraction", requestHash, result, now); err != nil {
		return RegisterFractionResult{}, err
	}

	logger.Info("fraction registered",
		"event", "custody_fraction_registered",
		"module", "asset-custody/share-custody-service",
		"layer", "application",
		"fraction_id", fraction.FractionID,
		"total_minted", fraction.TotalMinted,
	)
	return result, nil
}

func (uc CustodyUseCase) storeIdempotency(
	ctx context.Context,
	key string,
	operation string,
	requestHash string,
	result any,
	now time.Time,
) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return uc.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
		Key:             strings.TrimSpace(key),
		Operation:       operation,
		RequestHash:     requestHash,
		ResponsePayload: payload,
		ExpiresAt:       now.Add(uc.idempotencyTTL()),
	})
}

func (uc CustodyUseCase) requireOperator(ctx context.Context, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return domainerrors.ErrNotAuthorized
	}
	authorized, err := uc.Operators.IsAuthorized(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	if !authorized {
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

func (uc CustodyUseCase) buildEnvelope(
	ctx context.Context,
	eventType string,
	partitionKeyPath string,
	partitionKey string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	sequence, err := uc.Sequences.NextEventSequence(ctx, eventType)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return newCustodyEnvelope(eventID, eventType, sequence, partitionKeyPath, partitionKey, occurredAt, data)
}

func (uc CustodyUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc CustodyUseCase) idempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

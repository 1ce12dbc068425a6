package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/access-control/operator-registry/application"
	"agora/contexts/access-control/operator-registry/domain/entities"
	domainerrors "agora/contexts/access-control/operator-registry/domain/errors"
	"agora/contexts/access-control/operator-registry/ports"
)

const (
	eventOperatorGranted = "access.operator_granted"
	eventOperatorRevoked = "access.operator_revoked"

	sourceService = "operator-registry"
)

type GrantOperatorCommand struct {
	IdempotencyKey string
	ActorID        string
	OperatorID     string
	Reason         string
}

type GrantOperatorResult struct {
	Grant    entities.OperatorGrant `json:"grant"`
	Replayed bool                   `json:"replayed"`
}

type RevokeOperatorCommand struct {
	IdempotencyKey string
	ActorID        string
	OperatorID     string
	Reason         string
}

type RevokeOperatorResult struct {
	Grant    entities.OperatorGrant `json:"grant"`
	Replayed bool                   `json:"replayed"`
}

// OperatorUseCase orchestrates grant/revoke. Both mutations require the actor
// itself to hold an active grant; root operators are seeded from configuration
// so the chain has an anchor.
type OperatorUseCase struct {
	Grants         ports.GrantRepository
	Idempotency    ports.IdempotencyStore
	Sequences      ports.EventSequences
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// SeedRootOperators activates the configured root grants. Seeding is
// idempotent and emits no events.
func (uc OperatorUseCase) SeedRootOperators(ctx context.Context, operatorIDs []string) error {
	logger := application.ResolveLogger(uc.Logger)
	now := uc.now()
	for _, operatorID := range operatorIDs {
		operatorID = strings.TrimSpace(operatorID)
		if operatorID == "" {
			continue
		}
		if err := uc.Grants.SeedGrant(ctx, entities.OperatorGrant{
			OperatorID: operatorID,
			GrantedBy:  "policy",
			Reason:     "configured root operator",
			GrantedAt:  now,
		}); err != nil {
			return err
		}
	}
	logger.Info("root operators seeded",
		"event", "access_root_operators_seeded",
		"module", "access-control/operator-registry",
		"layer", "application",
		"count", len(operatorIDs),
	)
	return nil
}

// GrantOperator activates a grant for the operator. The actor must hold an
// active grant; granting an already-active operator fails.
func (uc OperatorUseCase) GrantOperator(ctx context.Context, cmd GrantOperatorCommand) (GrantOperatorResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("operator grant started",
		"event", "access_grant_started",
		"module", "access-control/operator-registry",
		"layer", "application",
		"operator_id", strings.TrimSpace(cmd.OperatorID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return GrantOperatorResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.OperatorID) == "" {
		return GrantOperatorResult{}, domainerrors.ErrInvalidOperatorID
	}

	now := uc.now()
	requestHash, err := hashRequest(struct {
		ActorID    string `json:"actor_id"`
		OperatorID string `json:"operator_id"`
		Reason     string `json:"reason"`
		Op         string `json:"op"`
	}{
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OperatorID: strings.TrimSpace(cmd.OperatorID),
		Reason:     strings.TrimSpace(cmd.Reason),
		Op:         "grant_operator",
	})
	if err != nil {
		return GrantOperatorResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return GrantOperatorResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return GrantOperatorResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay GrantOperatorResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return GrantOperatorResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	if err := uc.requireActiveOperator(ctx, cmd.ActorID); err != nil {
		return GrantOperatorResult{}, err
	}

	if existing, found, err := uc.Grants.GetGrant(ctx, strings.TrimSpace(cmd.OperatorID)); err != nil {
		return GrantOperatorResult{}, err
	} else if found && existing.Active() {
		return GrantOperatorResult{}, domainerrors.ErrOperatorAlreadyGranted
	}

	grant := entities.OperatorGrant{
		OperatorID: strings.TrimSpace(cmd.OperatorID),
		GrantedBy:  strings.TrimSpace(cmd.ActorID),
		Reason:     strings.TrimSpace(cmd.Reason),
		GrantedAt:  now,
	}
	envelope, err := uc.buildEnvelope(ctx, eventOperatorGranted, grant.OperatorID, now, map[string]any{
		"operator_id": grant.OperatorID,
		"granted_by":  grant.GrantedBy,
		"reason":      grant.Reason,
	})
	if err != nil {
		return GrantOperatorResult{}, err
	}

	if err := uc.Grants.Grant(ctx, ports.GrantInput{Grant: grant, Envelope: envelope}); err != nil {
		logger.Error("operator grant write failed",
			"event", "access_grant_write_failed",
			"module", "access-control/operator-registry",
			"layer", "application",
			"operator_id", grant.OperatorID,
			"error", err.Error(),
		)
		return GrantOperatorResult{}, err
	}

	result := GrantOperatorResult{Grant: grant}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "grant_operator", requestHash, result, now); err != nil {
		return GrantOperatorResult{}, err
	}

	logger.Info("operator granted",
		"event", "access_operator_granted",
		"module", "access-control/operator-registry",
		"layer", "application",
		"operator_id", grant.OperatorID,
		"granted_by", grant.GrantedBy,
	)
	return result, nil
}

// RevokeOperator revokes an active grant. Revoking a missing or already
// revoked grant fails.
func (uc OperatorUseCase) RevokeOperator(ctx context.Context, cmd RevokeOperatorCommand) (RevokeOperatorResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("operator revoke started",
		"event", "access_revoke_started",
		"module", "access-control/operator-registry",
		"layer", "application",
		"operator_id", strings.TrimSpace(cmd.OperatorID),
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return RevokeOperatorResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.OperatorID) == "" {
		return RevokeOperatorResult{}, domainerrors.ErrInvalidOperatorID
	}

	now := uc.now()
	requestHash, err := hashRequest(struct {
		ActorID    string `json:"actor_id"`
		OperatorID string `json:"operator_id"`
		Reason     string `json:"reason"`
		Op         string `json:"op"`
	}{
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OperatorID: strings.TrimSpace(cmd.OperatorID),
		Reason:     strings.TrimSpace(cmd.Reason),
		Op:         "revoke_operator",
	})
	if err != nil {
		return RevokeOperatorResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return RevokeOperatorResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return RevokeOperatorResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay RevokeOperatorResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return RevokeOperatorResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	if err := uc.requireActiveOperator(ctx, cmd.ActorID); err != nil {
		return RevokeOperatorResult{}, err
	}

	grant, found, err := uc.Grants.GetGrant(ctx, strings.TrimSpace(cmd.OperatorID))
	if err != nil {
		return RevokeOperatorResult{}, err
	}
	if !found || !grant.Active() {
		return RevokeOperatorResult{}, domainerrors.ErrOperatorNotGranted
	}

	envelope, err := uc.buildEnvelope(ctx, eventOperatorRevoked, grant.OperatorID, now, map[string]any{
		"operator_id": grant.OperatorID,
		"revoked_by":  strings.TrimSpace(cmd.ActorID),
		"reason":      strings.TrimSpace(cmd.Reason),
	})
	if err != nil {
		return RevokeOperatorResult{}, err
	}

	if err := uc.Grants.Revoke(ctx, ports.RevokeInput{
		OperatorID: grant.OperatorID,
		RevokedAt:  now,
		Envelope:   envelope,
	}); err != nil {
		logger.Error("operator revoke write failed",
			"event", "access_revoke_write_failed",
			"module", "access-control/operator-registry",
			"layer", "application",
			"operator_id", grant.OperatorID,
			"error", err.Error(),
		)
		return RevokeOperatorResult{}, err
	}

	revokedAt := now
	grant.RevokedAt = &revokedAt
	result := RevokeOperatorResult{Grant: grant}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "revoke_operator", requestHash, result, now); err != nil {
		return RevokeOperatorResult{}, err
	}

	logger.Info("operator revoked",
		"event", "access_operator_revoked",
		"module", "access-control/operator-registry",
		"layer", "application",
		"operator_id", grant.OperatorID,
		"revoked_by", strings.TrimSpace(cmd.ActorID),
	)
	return result, nil
}

func (uc OperatorUseCase) requireActiveOperator(ctx context.Context, actorID string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return domainerrors.ErrForbidden
	}
	grant, found, err := uc.Grants.GetGrant(ctx, actorID)
	if err != nil {
		return err
	}
	if !found || !grant.Active() {
		return domainerrors.ErrForbidden
	}
	return nil
}

func (uc OperatorUseCase) storeIdempotency(
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

func (uc OperatorUseCase) buildEnvelope(
	ctx context.Context,
	eventType string,
	operatorID string,
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
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    sourceService,
		TraceID:          eventID,
		SchemaVersion:    1,
		Sequence:         sequence,
		PartitionKeyPath: "operator_id",
		PartitionKey:     operatorID,
		Data:             payload,
	}, nil
}

func (uc OperatorUseCase) now() time.Time {
	if uc.Clock != nil {
		return uc.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc OperatorUseCase) idempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func hashRequest(payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/asset-custody/share-custody-service/application/commands"
	"agora/contexts/asset-custody/share-custody-service/application/queries"
	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	httptransport "agora/contexts/asset-custody/share-custody-service/transport/http"
)

type Handler struct {
	Custody commands.CustodyUseCase
	Queries queries.CustodyQueryUseCase
	Logger  *slog.Logger
}

func (h Handler) LockTokensHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.LockTokensRequest,
) (httptransport.LockResponse, error) {
	unlockAt, err := parseTime(req.UnlockAt)
	if err != nil {
		return httptransport.LockResponse{}, domainerrors.ErrInvalidUnlockTime
	}
	result, err := h.Custody.LockTokens(ctx, commands.LockTokensCommand{
		IdempotencyKey: idempotencyKey,
		HolderID:       userID,
		ShareClassID:   req.ShareClassID,
		Amount:         req.Amount,
		UnlockAt:       unlockAt,
	})
	if err != nil {
		return httptransport.LockResponse{}, err
	}
	response := lockResponse(result.Lock)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) UnlockTokensHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.UnlockTokensRequest,
) (httptransport.UnlockResponse, error) {
	result, err := h.Custody.UnlockTokens(ctx, commands.UnlockTokensCommand{
		IdempotencyKey: idempotencyKey,
		HolderID:       userID,
		ShareClassID:   req.ShareClassID,
		Amount:         req.Amount,
	})
	if err != nil {
		return httptransport.UnlockResponse{}, err
	}
	return httptransport.UnlockResponse{
		HolderID:     result.Lock.HolderID,
		ShareClassID: result.Lock.ShareClassID,
		Released:     result.Released,
		LockedTotal:  result.Lock.Amount,
		Replayed:     result.Replayed,
	}, nil
}

func (h Handler) RegisterFractionHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.RegisterFractionRequest,
) (httptransport.FractionResponse, error) {
	var deadline *time.Time
	if strings.TrimSpace(req.VotingDeadline) != "" {
		parsed, err := parseTime(req.VotingDeadline)
		if err != nil {
			return httptransport.FractionResponse{}, domainerrors.ErrInvalidUnlockTime
		}
		deadline = &parsed
	}
	result, err := h.Custody.RegisterFraction(ctx, commands.RegisterFractionCommand{
		IdempotencyKey: idempotencyKey,
		ActorID:        userID,
		FractionID:     req.FractionID,
		AssetID:        req.AssetID,
		TotalMinted:    req.TotalMinted,
		NominalOwner:   req.NominalOwner,
		VotingDeadline: deadline,
	})
	if err != nil {
		return httptransport.FractionResponse{}, err
	}
	response := fractionResponse(result.Fraction)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) ListLocksHandler(ctx context.Context, holderID string) (httptransport.LockListResponse, error) {
	locks, err := h.Queries.ListLocks(ctx, holderID)
	if err != nil {
		return httptransport.LockListResponse{}, err
	}
	items := make([]httptransport.LockResponse, 0, len(locks))
	for _, lock := range locks {
		items = append(items, lockResponse(lock))
	}
	return httptransport.LockListResponse{Items: items}, nil
}

func (h Handler) GetHoldingHandler(ctx context.Context, holderID string, shareClassID string) (httptransport.HoldingResponse, error) {
	view, err := h.Queries.GetHolding(ctx, holderID, shareClassID)
	if err != nil {
		return httptransport.HoldingResponse{}, err
	}
	return httptransport.HoldingResponse{
		HolderID:     view.HolderID,
		ShareClassID: view.ShareClassID,
		Amount:       view.Amount,
		Locked:       view.Locked,
		Spendable:    view.Spendable,
	}, nil
}

func (h Handler) GetFractionHandler(ctx context.Context, fractionID string) (httptransport.FractionResponse, error) {
	fraction, err := h.Queries.GetFraction(ctx, fractionID)
	if err != nil {
		return httptransport.FractionResponse{}, err
	}
	return fractionResponse(fraction), nil
}

func (h Handler) ListFractionsHandler(ctx context.Context, limit int) (httptransport.FractionListResponse, error) {
	fractions, err := h.Queries.ListFractions(ctx, limit)
	if err != nil {
		return httptransport.FractionListResponse{}, err
	}
	items := make([]httptransport.FractionResponse, 0, len(fractions))
	for _, fraction := range fractions {
		items = append(items, fractionResponse(fraction))
	}
	return httptransport.FractionListResponse{Items: items}, nil
}

func lockResponse(lock entities.BalanceLock) httptransport.LockResponse {
	return httptransport.LockResponse{
		HolderID:     lock.HolderID,
		ShareClassID: lock.ShareClassID,
		Amount:       lock.Amount,
		UnlockAt:     lock.UnlockAt.UTC().Format(time.RFC3339),
		CreatedAt:    lock.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    lock.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func fractionResponse(fraction entities.FractionEntry) httptransport.FractionResponse {
	return httptransport.FractionResponse{
		FractionID:    fraction.FractionID,
		AssetID:       fraction.AssetID,
		TotalMinted:   fraction.TotalMinted,
		TrackedAmount: fraction.TrackedAmount,
		NominalOwner:  fraction.NominalOwner,
		CreatedAt:     fraction.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func parseTime(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

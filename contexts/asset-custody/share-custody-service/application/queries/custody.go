package queries

import (
	"context"
	"strings"

	"agora/contexts/asset-custody/share-custody-service/domain/entities"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	"agora/contexts/asset-custody/share-custody-service/ports"
)

type CustodyQueryUseCase struct {
	Custody  ports.CustodyRepository
	Holdings ports.HoldingsProjection
}

// HoldingView is a holder's position in one share class: the projected
// balance, the locked portion, and what remains spendable.
type HoldingView struct {
	HolderID     string
	ShareClassID string
	Amount       int64
	Locked       int64
	Spendable    int64
}

func (uc CustodyQueryUseCase) GetHolding(ctx context.Context, holderID string, shareClassID string) (HoldingView, error) {
	holderID = strings.TrimSpace(holderID)
	shareClassID = strings.TrimSpace(shareClassID)
	if holderID == "" {
		return HoldingView{}, domainerrors.ErrInvalidHolder
	}
	if shareClassID == "" {
		return HoldingView{}, domainerrors.ErrInvalidShareClass
	}

	holding, _, err := uc.Holdings.GetHolding(ctx, shareClassID, holderID)
	if err != nil {
		return HoldingView{}, err
	}
	var locked int64
	if lock, found, err := uc.Custody.GetLock(ctx, holderID, shareClassID); err != nil {
		return HoldingView{}, err
	} else if found {
		locked = lock.Amount
	}
	return HoldingView{
		HolderID:     holderID,
		ShareClassID: shareClassID,
		Amount:       holding.Amount,
		Locked:       locked,
		Spendable:    holding.Amount - locked,
	}, nil
}

func (uc CustodyQueryUseCase) ListLocks(ctx context.Context, holderID string) ([]entities.BalanceLock, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, domainerrors.ErrInvalidHolder
	}
	return uc.Custody.ListLocks(ctx, holderID)
}

func (uc CustodyQueryUseCase) GetFraction(ctx context.Context, fractionID string) (entities.FractionEntry, error) {
	if strings.TrimSpace(fractionID) == "" {
		return entities.FractionEntry{}, domainerrors.ErrInvalidFraction
	}
	return uc.Custody.GetFraction(ctx, strings.TrimSpace(fractionID))
}

func (uc CustodyQueryUseCase) ListFractions(ctx context.Context, limit int) ([]entities.FractionEntry, error) {
	return uc.Custody.ListFractions(ctx, limit)
}

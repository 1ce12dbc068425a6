package queries

import (
	"context"
	"strings"

	"agora/contexts/access-control/operator-registry/domain/entities"
	domainerrors "agora/contexts/access-control/operator-registry/domain/errors"
	"agora/contexts/access-control/operator-registry/ports"
)

type OperatorQueryUseCase struct {
	Grants ports.GrantRepository
}

// CheckOperator reports whether the operator currently holds an active grant.
// Unknown operators are simply unauthorized, not an error.
func (uc OperatorQueryUseCase) CheckOperator(ctx context.Context, operatorID string) (bool, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return false, domainerrors.ErrInvalidOperatorID
	}
	grant, found, err := uc.Grants.GetGrant(ctx, operatorID)
	if err != nil {
		return false, err
	}
	return found && grant.Active(), nil
}

func (uc OperatorQueryUseCase) GetOperator(ctx context.Context, operatorID string) (entities.OperatorGrant, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return entities.OperatorGrant{}, domainerrors.ErrInvalidOperatorID
	}
	grant, found, err := uc.Grants.GetGrant(ctx, operatorID)
	if err != nil {
		return entities.OperatorGrant{}, err
	}
	if !found {
		return entities.OperatorGrant{}, domainerrors.ErrOperatorNotFound
	}
	return grant, nil
}

func (uc OperatorQueryUseCase) ListOperators(ctx context.Context) ([]entities.OperatorGrant, error) {
	return uc.Grants.ListActiveGrants(ctx)
}

// IsAuthorized adapts the registry to the OperatorDirectory capability other
// contexts consume.
func (uc OperatorQueryUseCase) IsAuthorized(ctx context.Context, operatorID string) (bool, error) {
	if strings.TrimSpace(operatorID) == "" {
		return false, nil
	}
	return uc.CheckOperator(ctx, operatorID)
}

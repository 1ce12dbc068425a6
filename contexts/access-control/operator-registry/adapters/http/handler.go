package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"agora/contexts/access-control/operator-registry/application/commands"
	"agora/contexts/access-control/operator-registry/application/queries"
	"agora/contexts/access-control/operator-registry/domain/entities"
	httptransport "agora/contexts/access-control/operator-registry/transport/http"
)

type Handler struct {
	Operators commands.OperatorUseCase
	Queries   queries.OperatorQueryUseCase
	Logger    *slog.Logger
}

func (h Handler) GrantOperatorHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.GrantOperatorRequest,
) (httptransport.OperatorResponse, error) {
	result, err := h.Operators.GrantOperator(ctx, commands.GrantOperatorCommand{
		IdempotencyKey: idempotencyKey,
		ActorID:        userID,
		OperatorID:     req.OperatorID,
		Reason:         req.Reason,
	})
	if err != nil {
		return httptransport.OperatorResponse{}, err
	}
	response := operatorResponse(result.Grant)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) RevokeOperatorHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.RevokeOperatorRequest,
) (httptransport.OperatorResponse, error) {
	result, err := h.Operators.RevokeOperator(ctx, commands.RevokeOperatorCommand{
		IdempotencyKey: idempotencyKey,
		ActorID:        userID,
		OperatorID:     req.OperatorID,
		Reason:         req.Reason,
	})
	if err != nil {
		return httptransport.OperatorResponse{}, err
	}
	response := operatorResponse(result.Grant)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetOperatorHandler(ctx context.Context, operatorID string) (httptransport.OperatorResponse, error) {
	grant, err := h.Queries.GetOperator(ctx, operatorID)
	if err != nil {
		return httptransport.OperatorResponse{}, err
	}
	return operatorResponse(grant), nil
}

func (h Handler) CheckOperatorHandler(ctx context.Context, operatorID string) (httptransport.OperatorCheckResponse, error) {
	authorized, err := h.Queries.CheckOperator(ctx, operatorID)
	if err != nil {
		return httptransport.OperatorCheckResponse{}, err
	}
	return httptransport.OperatorCheckResponse{
		OperatorID: operatorID,
		Authorized: authorized,
	}, nil
}

func (h Handler) ListOperatorsHandler(ctx context.Context) (httptransport.OperatorListResponse, error) {
	grants, err := h.Queries.ListOperators(ctx)
	if err != nil {
		return httptransport.OperatorListResponse{}, err
	}
	items := make([]httptransport.OperatorResponse, 0, len(grants))
	for _, grant := range grants {
		items = append(items, operatorResponse(grant))
	}
	return httptransport.OperatorListResponse{Items: items}, nil
}

func operatorResponse(grant entities.OperatorGrant) httptransport.OperatorResponse {
	response := httptransport.OperatorResponse{
		OperatorID: grant.OperatorID,
		GrantedBy:  grant.GrantedBy,
		Reason:     grant.Reason,
		GrantedAt:  grant.GrantedAt.UTC().Format(time.RFC3339),
		Active:     grant.Active(),
	}
	if grant.RevokedAt != nil {
		response.RevokedAt = grant.RevokedAt.UTC().Format(time.RFC3339)
	}
	return response
}

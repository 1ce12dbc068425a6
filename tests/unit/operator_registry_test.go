package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	operatorregistry "agora/contexts/access-control/operator-registry"
	domainerrors "agora/contexts/access-control/operator-registry/domain/errors"
	httptransport "agora/contexts/access-control/operator-registry/transport/http"
)

func TestOperatorGrantAndRevokeLifecycle(t *testing.T) {
	module := operatorregistry.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	ctx := context.Background()
	if err := module.Operators.SeedRootOperators(ctx, []string{"root-1"}); err != nil {
		t.Fatalf("seed root operators failed: %v", err)
	}

	granted, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-1", httptransport.GrantOperatorRequest{
		OperatorID: "op-2",
		Reason:     "governance on-call",
	})
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if !granted.Active || granted.GrantedBy != "root-1" {
		t.Fatalf("unexpected grant response: %+v", granted)
	}

	if _, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-2", httptransport.GrantOperatorRequest{
		OperatorID: "op-2",
	}); !errors.Is(err, domainerrors.ErrOperatorAlreadyGranted) {
		t.Fatalf("expected ErrOperatorAlreadyGranted, got %v", err)
	}

	// A freshly granted operator can grant others.
	if _, err := module.Handler.GrantOperatorHandler(ctx, "op-2", "idem-grant-3", httptransport.GrantOperatorRequest{
		OperatorID: "op-3",
	}); err != nil {
		t.Fatalf("grant by delegated operator failed: %v", err)
	}

	if _, err := module.Handler.GrantOperatorHandler(ctx, "outsider", "idem-grant-4", httptransport.GrantOperatorRequest{
		OperatorID: "op-4",
	}); !errors.Is(err, domainerrors.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-operator actor, got %v", err)
	}

	listed, err := module.Handler.ListOperatorsHandler(ctx)
	if err != nil {
		t.Fatalf("list operators failed: %v", err)
	}
	if len(listed.Items) != 3 {
		t.Fatalf("expected three active grants, got %d", len(listed.Items))
	}

	revoked, err := module.Handler.RevokeOperatorHandler(ctx, "root-1", "idem-revoke-1", httptransport.RevokeOperatorRequest{
		OperatorID: "op-3",
		Reason:     "rotation",
	})
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if revoked.Active || revoked.RevokedAt == "" {
		t.Fatalf("expected inactive grant after revoke: %+v", revoked)
	}

	if _, err := module.Handler.RevokeOperatorHandler(ctx, "root-1", "idem-revoke-2", httptransport.RevokeOperatorRequest{
		OperatorID: "op-3",
	}); !errors.Is(err, domainerrors.ErrOperatorNotGranted) {
		t.Fatalf("expected ErrOperatorNotGranted on second revoke, got %v", err)
	}
	if _, err := module.Handler.RevokeOperatorHandler(ctx, "root-1", "idem-revoke-3", httptransport.RevokeOperatorRequest{
		OperatorID: "op-unknown",
	}); !errors.Is(err, domainerrors.ErrOperatorNotGranted) {
		t.Fatalf("expected ErrOperatorNotGranted for unknown operator, got %v", err)
	}

	check, err := module.Handler.CheckOperatorHandler(ctx, "op-3")
	if err != nil {
		t.Fatalf("check operator failed: %v", err)
	}
	if check.Authorized {
		t.Fatalf("expected revoked operator to be unauthorized")
	}

	// Revoked operators keep their audit row.
	grant, err := module.Handler.GetOperatorHandler(ctx, "op-3")
	if err != nil {
		t.Fatalf("get operator failed: %v", err)
	}
	if grant.Active {
		t.Fatalf("expected stored grant to be inactive: %+v", grant)
	}
	if _, err := module.Handler.GetOperatorHandler(ctx, "op-never"); !errors.Is(err, domainerrors.ErrOperatorNotFound) {
		t.Fatalf("expected ErrOperatorNotFound, got %v", err)
	}

	// Re-granting a revoked operator reactivates the grant.
	regranted, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-5", httptransport.GrantOperatorRequest{
		OperatorID: "op-3",
		Reason:     "back on rotation",
	})
	if err != nil {
		t.Fatalf("re-grant failed: %v", err)
	}
	if !regranted.Active {
		t.Fatalf("expected reactivated grant: %+v", regranted)
	}
}

func TestOperatorGrantReplayAndSeedIdempotence(t *testing.T) {
	module := operatorregistry.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	ctx := context.Background()
	if err := module.Operators.SeedRootOperators(ctx, []string{"root-1", "root-2"}); err != nil {
		t.Fatalf("seed root operators failed: %v", err)
	}
	// Seeding again, with overlap, changes nothing and emits nothing.
	if err := module.Operators.SeedRootOperators(ctx, []string{"root-1"}); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	pending, err := module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no events from seeding, got %d", len(pending))
	}

	request := httptransport.GrantOperatorRequest{OperatorID: "op-9", Reason: "initial"}
	first, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-replay", request)
	if err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	second, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-replay", request)
	if err != nil {
		t.Fatalf("replay grant failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed grant response")
	}
	if first.GrantedAt != second.GrantedAt {
		t.Fatalf("replay must return the stored grant, got %s and %s", first.GrantedAt, second.GrantedAt)
	}

	request.Reason = "tampered"
	if _, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-replay", request); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}

	if _, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "", httptransport.GrantOperatorRequest{OperatorID: "op-10"}); !errors.Is(err, domainerrors.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-grant-empty", httptransport.GrantOperatorRequest{}); !errors.Is(err, domainerrors.ErrInvalidOperatorID) {
		t.Fatalf("expected ErrInvalidOperatorID, got %v", err)
	}

	// Grants and revocations land in the outbox for the relay.
	pending, err = module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending grant event, got %d", len(pending))
	}
	if pending[0].EventType != "access.operator_granted" {
		t.Fatalf("unexpected event type: %s", pending[0].EventType)
	}
}

package unit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sharecustody "agora/contexts/asset-custody/share-custody-service"
	domainerrors "agora/contexts/asset-custody/share-custody-service/domain/errors"
	httptransport "agora/contexts/asset-custody/share-custody-service/transport/http"
)

func TestCustodyLockAndUnlockLifecycle(t *testing.T) {
	module := sharecustody.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetHolding("class-1", "alice", 100)

	ctx := context.Background()
	lock, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-lock-1", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       60,
		UnlockAt:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if lock.Amount != 60 {
		t.Fatalf("expected locked total 60, got %d", lock.Amount)
	}

	// A second lock exceeding the projected balance is rejected.
	if _, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-lock-2", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       50,
		UnlockAt:     now.Add(24 * time.Hour).Format(time.RFC3339),
	}); !errors.Is(err, domainerrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// An additional lock with an earlier unlock keeps the later unlock time.
	lock, err = module.Handler.LockTokensHandler(ctx, "alice", "idem-lock-3", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       40,
		UnlockAt:     now.Add(12 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	if lock.Amount != 100 {
		t.Fatalf("expected locked total 100, got %d", lock.Amount)
	}
	if lock.UnlockAt != now.Add(24*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expected later unlock time to win, got %s", lock.UnlockAt)
	}

	holding, err := module.Handler.GetHoldingHandler(ctx, "alice", "class-1")
	if err != nil {
		t.Fatalf("holding query failed: %v", err)
	}
	if holding.Amount != 100 || holding.Locked != 100 || holding.Spendable != 0 {
		t.Fatalf("unexpected holding view: %+v", holding)
	}

	if _, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-unlock-early", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
		Amount:       30,
	}); !errors.Is(err, domainerrors.ErrUnlockTooEarly) {
		t.Fatalf("expected ErrUnlockTooEarly, got %v", err)
	}

	module.Store.AdvanceNow(25 * time.Hour)

	partial, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-unlock-1", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
		Amount:       30,
	})
	if err != nil {
		t.Fatalf("partial unlock failed: %v", err)
	}
	if partial.Released != 30 || partial.LockedTotal != 70 {
		t.Fatalf("unexpected partial unlock: %+v", partial)
	}

	if _, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-unlock-over", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
		Amount:       500,
	}); !errors.Is(err, domainerrors.ErrInsufficientLocked) {
		t.Fatalf("expected ErrInsufficientLocked, got %v", err)
	}

	// Zero amount releases whatever remains.
	full, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-unlock-2", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
	})
	if err != nil {
		t.Fatalf("full unlock failed: %v", err)
	}
	if full.Released != 70 || full.LockedTotal != 0 {
		t.Fatalf("unexpected full unlock: %+v", full)
	}

	if _, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-unlock-3", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
	}); !errors.Is(err, domainerrors.ErrLockNotFound) {
		t.Fatalf("expected ErrLockNotFound after full release, got %v", err)
	}

	locks, err := module.Handler.ListLocksHandler(ctx, "alice")
	if err != nil {
		t.Fatalf("list locks failed: %v", err)
	}
	if len(locks.Items) != 0 {
		t.Fatalf("expected no remaining locks, got %d", len(locks.Items))
	}
}

func TestCustodyLockReplayAndValidation(t *testing.T) {
	module := sharecustody.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetHolding("class-1", "alice", 100)

	ctx := context.Background()
	request := httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       25,
		UnlockAt:     now.Add(24 * time.Hour).Format(time.RFC3339),
	}
	first, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-replay-lock", request)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	second, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-replay-lock", request)
	if err != nil {
		t.Fatalf("replay lock failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed lock response")
	}
	if second.Amount != first.Amount {
		t.Fatalf("replay must not double the lock: got %d", second.Amount)
	}
	holding, err := module.Handler.GetHoldingHandler(ctx, "alice", "class-1")
	if err != nil {
		t.Fatalf("holding query failed: %v", err)
	}
	if holding.Locked != 25 {
		t.Fatalf("expected locked 25 after replay, got %d", holding.Locked)
	}

	if _, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-bad-amount", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       -5,
		UnlockAt:     now.Add(time.Hour).Format(time.RFC3339),
	}); !errors.Is(err, domainerrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if _, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-bad-unlock", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       5,
		UnlockAt:     now.Add(-time.Hour).Format(time.RFC3339),
	}); !errors.Is(err, domainerrors.ErrInvalidUnlockTime) {
		t.Fatalf("expected ErrInvalidUnlockTime, got %v", err)
	}

	if _, err := module.Handler.LockTokensHandler(ctx, "alice", "", request); !errors.Is(err, domainerrors.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}

func TestCustodyRegisterFraction(t *testing.T) {
	module := sharecustody.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)

	ctx := context.Background()
	request := httptransport.RegisterFractionRequest{
		FractionID:   "frac-1",
		AssetID:      "asset-9",
		TotalMinted:  1000,
		NominalOwner: "owner-1",
	}
	fraction, err := module.Handler.RegisterFractionHandler(ctx, "op-1", "idem-frac-1", request)
	if err != nil {
		t.Fatalf("register fraction failed: %v", err)
	}
	if fraction.TrackedAmount != 1000 {
		t.Fatalf("expected tracked amount to start at total minted, got %d", fraction.TrackedAmount)
	}

	replay, err := module.Handler.RegisterFractionHandler(ctx, "op-1", "idem-frac-1", request)
	if err != nil {
		t.Fatalf("replay register failed: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("expected replayed fraction response")
	}

	if _, err := module.Handler.RegisterFractionHandler(ctx, "op-1", "idem-frac-dup", request); !errors.Is(err, domainerrors.ErrFractionExists) {
		t.Fatalf("expected ErrFractionExists, got %v", err)
	}

	if _, err := module.Handler.RegisterFractionHandler(ctx, "mallory", "idem-frac-unauth", httptransport.RegisterFractionRequest{
		FractionID:   "frac-2",
		AssetID:      "asset-10",
		TotalMinted:  10,
		NominalOwner: "owner-2",
	}); !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-operator, got %v", err)
	}

	if _, err := module.Handler.RegisterFractionHandler(ctx, "op-1", "idem-frac-supply", httptransport.RegisterFractionRequest{
		FractionID:   "frac-3",
		AssetID:      "asset-11",
		TotalMinted:  0,
		NominalOwner: "owner-3",
	}); !errors.Is(err, domainerrors.ErrInvalidSupply) {
		t.Fatalf("expected ErrInvalidSupply, got %v", err)
	}

	stored, err := module.Handler.GetFractionHandler(ctx, "frac-1")
	if err != nil {
		t.Fatalf("get fraction failed: %v", err)
	}
	if stored.AssetID != "asset-9" || stored.NominalOwner != "owner-1" {
		t.Fatalf("unexpected stored fraction: %+v", stored)
	}
	if _, err := module.Handler.GetFractionHandler(ctx, "frac-missing"); !errors.Is(err, domainerrors.ErrFractionNotFound) {
		t.Fatalf("expected ErrFractionNotFound, got %v", err)
	}

	listed, err := module.Handler.ListFractionsHandler(ctx, 10)
	if err != nil {
		t.Fatalf("list fractions failed: %v", err)
	}
	if len(listed.Items) != 1 {
		t.Fatalf("expected one registered fraction, got %d", len(listed.Items))
	}
}

func TestCustodyConcurrentLocksNeverExceedBalance(t *testing.T) {
	module := sharecustody.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetHolding("class-1", "alice", 100)

	ctx := context.Background()
	unlockAt := now.Add(24 * time.Hour).Format(time.RFC3339)

	// Two racing locks of 60 against a balance of 100: each may pass the
	// use-case pre-check against the same snapshot, so the store itself
	// must reject whichever commits second.
	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = module.Handler.LockTokensHandler(ctx, "alice", fmt.Sprintf("idem-race-%d", i), httptransport.LockTokensRequest{
				ShareClassID: "class-1",
				Amount:       60,
				UnlockAt:     unlockAt,
			})
		}(i)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domainerrors.ErrInsufficientBalance):
			rejected++
		default:
			t.Fatalf("unexpected lock error: %v", err)
		}
	}
	if succeeded != 1 || rejected != 1 {
		t.Fatalf("expected exactly one winner, got %d success / %d rejected", succeeded, rejected)
	}

	holding, err := module.Handler.GetHoldingHandler(ctx, "alice", "class-1")
	if err != nil {
		t.Fatalf("holding query failed: %v", err)
	}
	if holding.Locked != 60 {
		t.Fatalf("expected locked 60 after the race, got %d", holding.Locked)
	}
	if holding.Locked > holding.Amount {
		t.Fatalf("locked %d exceeds balance %d", holding.Locked, holding.Amount)
	}
}

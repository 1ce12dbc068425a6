package unit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sharecustody "agora/contexts/asset-custody/share-custody-service"
	httptransport "agora/contexts/asset-custody/share-custody-service/transport/http"
)

func TestShareCustodyOpenAPIContractIncludesImplementedRoutes(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	requireOpenAPIRoutes(t, root, "share-custody-service", map[string][]string{
		"/api/custody/v1/locks":                 {"post"},
		"/api/custody/v1/locks/release":         {"post"},
		"/api/custody/v1/holders/{holder_id}/locks":                        {"get"},
		"/api/custody/v1/holders/{holder_id}/holdings/{share_class_id}":    {"get"},
		"/api/custody/v1/fractions":               {"post", "get"},
		"/api/custody/v1/fractions/{fraction_id}": {"get"},
	})
}

func TestShareCustodyEventSchemasCoverCanonicalEventSet(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	requireEnvelopeSchema(t, root, "custody.tokens_locked", "share-custody-service", "holder_id")
	requireEnvelopeSchema(t, root, "custody.tokens_unlocked", "share-custody-service", "holder_id")
	requireEnvelopeSchema(t, root, "custody.fraction_created", "share-custody-service", "fraction_id")
}

func TestShareCustodyEmittedEnvelopesMatchContract(t *testing.T) {
	module := sharecustody.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetHolding("class-1", "alice", 100)
	module.Store.SetOperator("op-1", true)

	ctx := context.Background()
	if _, err := module.Handler.LockTokensHandler(ctx, "alice", "idem-contract-lock", httptransport.LockTokensRequest{
		ShareClassID: "class-1",
		Amount:       40,
		UnlockAt:     now.Add(time.Hour).Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	module.Store.AdvanceNow(2 * time.Hour)
	if _, err := module.Handler.UnlockTokensHandler(ctx, "alice", "idem-contract-unlock", httptransport.UnlockTokensRequest{
		ShareClassID: "class-1",
	}); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if _, err := module.Handler.RegisterFractionHandler(ctx, "op-1", "idem-contract-fraction", httptransport.RegisterFractionRequest{
		FractionID:   "frac-contract-1",
		AssetID:      "asset-contract-1",
		TotalMinted:  500,
		NominalOwner: "owner-contract-1",
	}); err != nil {
		t.Fatalf("register fraction failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}

	expectedPartitionPaths := map[string]string{
		"custody.tokens_locked":    "holder_id",
		"custody.tokens_unlocked":  "holder_id",
		"custody.fraction_created": "fraction_id",
	}
	seen := make(map[string]bool, len(expectedPartitionPaths))
	for _, message := range pending {
		var envelope map[string]any
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			t.Fatalf("decode outbox envelope failed: %v", err)
		}
		eventType, _ := envelope["event_type"].(string)
		expectedPath, tracked := expectedPartitionPaths[eventType]
		if !tracked {
			t.Fatalf("unexpected event type in outbox: %s", eventType)
		}
		seen[eventType] = true

		if source, _ := envelope["source_service"].(string); source != "share-custody-service" {
			t.Fatalf("event %s has wrong source_service: %q", eventType, source)
		}
		if path, _ := envelope["partition_key_path"].(string); path != expectedPath {
			t.Fatalf("event %s has wrong partition_key_path: %q", eventType, path)
		}
		if key, _ := envelope["partition_key"].(string); key == "" {
			t.Fatalf("event %s is missing a partition key", eventType)
		}
	}
	for eventType := range expectedPartitionPaths {
		if !seen[eventType] {
			t.Fatalf("lifecycle did not emit %s", eventType)
		}
	}
}

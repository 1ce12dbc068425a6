package unit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	operatorregistry "agora/contexts/access-control/operator-registry"
	httptransport "agora/contexts/access-control/operator-registry/transport/http"
)

func TestOperatorRegistryOpenAPIContractIncludesImplementedRoutes(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	requireOpenAPIRoutes(t, root, "operator-registry", map[string][]string{
		"/api/access/v1/operators":               {"get"},
		"/api/access/v1/operators/grant":         {"post"},
		"/api/access/v1/operators/revoke":        {"post"},
		"/api/access/v1/operators/{operator_id}": {"get"},
	})
}

func TestOperatorRegistryEventSchemasCoverCanonicalEventSet(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	requireEnvelopeSchema(t, root, "access.operator_granted", "operator-registry", "operator_id")
	requireEnvelopeSchema(t, root, "access.operator_revoked", "operator-registry", "operator_id")
}

func TestOperatorRegistryEmittedEnvelopesMatchContract(t *testing.T) {
	module := operatorregistry.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	ctx := context.Background()
	if err := module.Operators.SeedRootOperators(ctx, []string{"root-1"}); err != nil {
		t.Fatalf("seed root operators failed: %v", err)
	}
	if _, err := module.Handler.GrantOperatorHandler(ctx, "root-1", "idem-contract-grant", httptransport.GrantOperatorRequest{
		OperatorID: "op-contract-1",
	}); err != nil {
		t.Fatalf("grant failed: %v", err)
	}
	if _, err := module.Handler.RevokeOperatorHandler(ctx, "root-1", "idem-contract-revoke", httptransport.RevokeOperatorRequest{
		OperatorID: "op-contract-1",
	}); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected grant and revoke events, got %d", len(pending))
	}
	for _, message := range pending {
		var envelope map[string]any
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			t.Fatalf("decode outbox envelope failed: %v", err)
		}
		eventType, _ := envelope["event_type"].(string)
		if eventType != "access.operator_granted" && eventType != "access.operator_revoked" {
			t.Fatalf("unexpected event type in outbox: %s", eventType)
		}
		if source, _ := envelope["source_service"].(string); source != "operator-registry" {
			t.Fatalf("event %s has wrong source_service: %q", eventType, source)
		}
		if path, _ := envelope["partition_key_path"].(string); path != "operator_id" {
			t.Fatalf("event %s has wrong partition_key_path: %q", eventType, path)
		}
		if key, _ := envelope["partition_key"].(string); key != "op-contract-1" {
			t.Fatalf("event %s has wrong partition key: %q", eventType, key)
		}
	}
}

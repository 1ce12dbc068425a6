package unit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	proposalengine "agora/contexts/governance/proposal-engine"
	httptransport "agora/contexts/governance/proposal-engine/transport/http"
)

func TestProposalEngineOpenAPIContractIncludesImplementedRoutes(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	requireOpenAPIRoutes(t, root, "proposal-engine", map[string][]string{
		"/api/governance/v1/proposals":                                  {"post", "get"},
		"/api/governance/v1/proposals/count":                            {"get"},
		"/api/governance/v1/proposals/{proposal_id}":                    {"get"},
		"/api/governance/v1/proposals/{proposal_id}/open":               {"post"},
		"/api/governance/v1/proposals/{proposal_id}/votes":              {"post", "get"},
		"/api/governance/v1/proposals/{proposal_id}/votes/{voter_id}":   {"get"},
		"/api/governance/v1/proposals/{proposal_id}/finalize":           {"post"},
		"/api/governance/v1/proposals/{proposal_id}/results":            {"get"},
		"/api/governance/v1/proposals/{proposal_id}/history":            {"get"},
		"/api/governance/v1/proposals/{proposal_id}/decision":           {"get"},
		"/api/governance/v1/fractions/{fraction_id}/proposal":           {"get"},
		"/api/governance/v1/fractions/{fraction_id}/decision":           {"get"},
	})
}

func TestProposalEngineEventSchemasCoverCanonicalEventSet(t *testing.T) {
	root, err := findRepoRoot()
	if err != nil {
		t.Fatalf("resolve repo root: %v", err)
	}

	for _, eventType := range []string{
		"governance.proposal_created",
		"governance.voting_started",
		"governance.vote_cast",
		"governance.proposal_finalized",
	} {
		requireEnvelopeSchema(t, root, eventType, "proposal-engine", "proposal_id")
	}

	// Consumed ledger events are pinned too so both sides agree on the shape.
	requireEnvelopeSchema(t, root, "assets.balance_updated", "asset-ledger", "holder_id")
	requireEnvelopeSchema(t, root, "assets.supply_changed", "asset-ledger", "share_class_id")
}

func TestProposalEngineEmittedEnvelopesMatchContract(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 80)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-contract-create", httptransport.CreateProposalRequest{
		Title:        "Envelope consistency",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-contract-open", httptransport.OpenVotingRequest{}); err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-contract-vote", httptransport.CastVoteRequest{Choice: "yes"}); err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}
	module.Store.AdvanceNow(25 * time.Hour)
	if _, err := module.Handler.FinalizeProposalHandler(ctx, created.ProposalID, "op-1", "idem-contract-finalize"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	pending, err := module.Store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list pending outbox failed: %v", err)
	}
	seen := map[string]bool{
		"governance.proposal_created":   false,
		"governance.voting_started":     false,
		"governance.vote_cast":          false,
		"governance.proposal_finalized": false,
	}
	for _, message := range pending {
		var envelope map[string]any
		if err := json.Unmarshal(message.Payload, &envelope); err != nil {
			t.Fatalf("decode outbox envelope failed: %v", err)
		}
		eventType, _ := envelope["event_type"].(string)
		if _, tracked := seen[eventType]; !tracked {
			t.Fatalf("unexpected event type in outbox: %s", eventType)
		}
		seen[eventType] = true

		if source, _ := envelope["source_service"].(string); source != "proposal-engine" {
			t.Fatalf("event %s has wrong source_service: %q", eventType, source)
		}
		if version, _ := envelope["schema_version"].(float64); version != 1 {
			t.Fatalf("event %s has wrong schema_version: %v", eventType, version)
		}
		if path, _ := envelope["partition_key_path"].(string); path != "proposal_id" {
			t.Fatalf("event %s has wrong partition_key_path: %q", eventType, path)
		}
		if key, _ := envelope["partition_key"].(string); key == "" {
			t.Fatalf("event %s is missing a partition key", eventType)
		}
		if eventID, _ := envelope["event_id"].(string); eventID == "" {
			t.Fatalf("event %s is missing an event id", eventType)
		}
		if sequence, _ := envelope["sequence"].(float64); sequence < 1 {
			t.Fatalf("event %s has unassigned sequence", eventType)
		}
	}
	for eventType, found := range seen {
		if !found {
			t.Fatalf("lifecycle did not emit %s", eventType)
		}
	}
}

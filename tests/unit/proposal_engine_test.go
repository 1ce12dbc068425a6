package unit

import (
	"context"
	"errors"
	"testing"
	"time"

	proposalengine "agora/contexts/governance/proposal-engine"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	httptransport "agora/contexts/governance/proposal-engine/transport/http"
)

func TestProposalLifecycleBalanceWeighted(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 60)
	module.Store.SetHolding("class-1", "bob", 40)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-create-1", httptransport.CreateProposalRequest{
		Title:        "Adopt the new treasury policy",
		Description:  "Shifts reserve allocation for class-1 holders",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(48 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if created.Status != "created" {
		t.Fatalf("expected created status, got %s", created.Status)
	}
	if created.SupplyBaseline != 100 {
		t.Fatalf("expected baseline frozen from supply projection, got %d", created.SupplyBaseline)
	}
	if len(created.Options) != 2 || created.Options[0] != "yes" || created.Options[1] != "no" {
		t.Fatalf("expected implicit binary options, got %v", created.Options)
	}

	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-early-vote", httptransport.CastVoteRequest{Choice: "yes"}); !errors.Is(err, domainerrors.ErrVotingNotStarted) {
		t.Fatalf("expected ErrVotingNotStarted before open, got %v", err)
	}

	opened, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-open-1", httptransport.OpenVotingRequest{})
	if err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if opened.Status != "voting_open" {
		t.Fatalf("expected voting_open status, got %s", opened.Status)
	}
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-open-2", httptransport.OpenVotingRequest{}); !errors.Is(err, domainerrors.ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow on second open, got %v", err)
	}

	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "bob", "idem-bad-option", httptransport.CastVoteRequest{Choice: "maybe"}); !errors.Is(err, domainerrors.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}

	aliceVote, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-vote-alice", httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("alice vote failed: %v", err)
	}
	if aliceVote.Weight != 60 {
		t.Fatalf("expected weight 60 from holdings, got %d", aliceVote.Weight)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "bob", "idem-vote-bob", httptransport.CastVoteRequest{Choice: "no"}); err != nil {
		t.Fatalf("bob vote failed: %v", err)
	}

	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-vote-alice-2", httptransport.CastVoteRequest{Choice: "no"}); !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected ErrAlreadyVoted, got %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "carol", "idem-vote-carol", httptransport.CastVoteRequest{Choice: "yes"}); !errors.Is(err, domainerrors.ErrNoVotingWeight) {
		t.Fatalf("expected ErrNoVotingWeight for holder without balance, got %v", err)
	}

	if _, err := module.Handler.FinalizeProposalHandler(ctx, created.ProposalID, "op-1", "idem-finalize-early"); !errors.Is(err, domainerrors.ErrTooEarly) {
		t.Fatalf("expected ErrTooEarly before deadline, got %v", err)
	}

	module.Store.AdvanceNow(72 * time.Hour)

	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "bob", "idem-vote-late", httptransport.CastVoteRequest{Choice: "yes"}); !errors.Is(err, domainerrors.ErrVotingClosed) {
		t.Fatalf("expected ErrVotingClosed after deadline, got %v", err)
	}

	finalized, err := module.Handler.FinalizeProposalHandler(ctx, created.ProposalID, "op-1", "idem-finalize-1")
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if !finalized.Finalized || finalized.Status != "finalized" {
		t.Fatalf("expected finalized proposal, got status %s", finalized.Status)
	}
	if _, err := module.Handler.FinalizeProposalHandler(ctx, created.ProposalID, "op-1", "idem-finalize-2"); !errors.Is(err, domainerrors.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}

	tally, err := module.Handler.OptionTallyHandler(ctx, created.ProposalID, "yes")
	if err != nil {
		t.Fatalf("option tally failed: %v", err)
	}
	if tally.Weight != 60 {
		t.Fatalf("expected yes tally 60, got %d", tally.Weight)
	}

	record, err := module.Handler.VoterRecordHandler(ctx, created.ProposalID, "alice")
	if err != nil {
		t.Fatalf("voter record failed: %v", err)
	}
	if record.Choice != "yes" || record.Weight != 60 {
		t.Fatalf("unexpected voter record: %+v", record)
	}

	results, err := module.Handler.ResultsHandler(ctx, created.ProposalID)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if len(results.Results) != 2 || results.Results[0].Weight != 60 || results.Results[1].Weight != 40 {
		t.Fatalf("unexpected results: %+v", results.Results)
	}

	history, err := module.Handler.HistoryHandler(ctx, created.ProposalID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if history.YesWeight != 60 || history.NoWeight != 40 || !history.Finalized {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestProposalDecisionModels(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 60)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-create-decision", httptransport.CreateProposalRequest{
		Title:        "Decision model coverage",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-open-decision", httptransport.OpenVotingRequest{}); err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-vote-decision", httptransport.CastVoteRequest{Choice: "yes"}); err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}

	cases := []struct {
		model  string
		passed bool
	}{
		{"simple_majority", true},  // 60 > 100/2
		{"supermajority", false},   // 60 < 66
		{"consensus", false},       // 60 != 100
	}
	for _, tc := range cases {
		decision, err := module.Handler.DecisionHandler(ctx, created.ProposalID, tc.model)
		if err != nil {
			t.Fatalf("decision %s failed: %v", tc.model, err)
		}
		if decision.Affirmative != 60 || decision.Baseline != 100 {
			t.Fatalf("decision %s has wrong inputs: %+v", tc.model, decision)
		}
		if decision.Passed != tc.passed {
			t.Fatalf("decision %s expected passed=%v, got %v", tc.model, tc.passed, decision.Passed)
		}
	}

	if _, err := module.Handler.DecisionHandler(ctx, created.ProposalID, "plurality"); !errors.Is(err, domainerrors.ErrUnsupportedModel) {
		t.Fatalf("expected ErrUnsupportedModel, got %v", err)
	}
}

func TestProposalCreateReplayAndConflict(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetSupply("class-1", 500)

	ctx := context.Background()
	request := httptransport.CreateProposalRequest{
		Title:        "Replay me",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	}
	first, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-replay-1", request)
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	second, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-replay-1", request)
	if err != nil {
		t.Fatalf("replay create failed: %v", err)
	}
	if !second.Replayed {
		t.Fatalf("expected replayed response")
	}
	if first.ProposalID != second.ProposalID {
		t.Fatalf("expected same proposal id, got %d and %d", first.ProposalID, second.ProposalID)
	}

	count, err := module.Handler.CountProposalsHandler(ctx)
	if err != nil {
		t.Fatalf("count proposals failed: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected one stored proposal after replay, got %d", count.Count)
	}

	request.Title = "Different payload, same key"
	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-replay-1", request); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}

	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "", request); !errors.Is(err, domainerrors.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}

func TestProposalCreateValidation(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetSupply("class-1", 100)
	ctx := context.Background()

	deadline := now.Add(24 * time.Hour).Format(time.RFC3339)

	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-v1", httptransport.CreateProposalRequest{
		ShareClassID: "class-1",
		Deadline:     deadline,
	}); !errors.Is(err, domainerrors.ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}

	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-v2", httptransport.CreateProposalRequest{
		Title:        "Past deadline",
		ShareClassID: "class-1",
		Deadline:     now.Add(-time.Hour).Format(time.RFC3339),
	}); !errors.Is(err, domainerrors.ErrInvalidDeadline) {
		t.Fatalf("expected ErrInvalidDeadline, got %v", err)
	}

	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-v3", httptransport.CreateProposalRequest{
		Title:      "Balance mode needs a share class",
		WeightMode: "balance",
		Deadline:   deadline,
	}); !errors.Is(err, domainerrors.ErrUnsupportedWeightMode) {
		t.Fatalf("expected ErrUnsupportedWeightMode, got %v", err)
	}

	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-v4", httptransport.CreateProposalRequest{
		Title:        "Unknown mode",
		ShareClassID: "class-1",
		WeightMode:   "reputation",
		Deadline:     deadline,
	}); !errors.Is(err, domainerrors.ErrUnsupportedWeightMode) {
		t.Fatalf("expected ErrUnsupportedWeightMode for unknown mode, got %v", err)
	}

	if _, err := module.Handler.CreateProposalHandler(ctx, "intruder", "idem-v5", httptransport.CreateProposalRequest{
		Title:        "Not an operator",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     deadline,
	}); !errors.Is(err, domainerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-operator creator, got %v", err)
	}
}

func TestProposalBallotModeCountsOneUnitPerVoter(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 900)
	module.Store.SetHolding("class-1", "bob", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-ballot-1", httptransport.CreateProposalRequest{
		Title:        "One holder one vote",
		ShareClassID: "class-1",
		WeightMode:   "ballot",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if created.SupplyBaseline != 2 {
		t.Fatalf("expected holder-count baseline 2, got %d", created.SupplyBaseline)
	}
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-ballot-open", httptransport.OpenVotingRequest{}); err != nil {
		t.Fatalf("open voting failed: %v", err)
	}

	vote, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-ballot-vote", httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}
	if vote.Weight != 1 {
		t.Fatalf("expected ballot weight 1 regardless of balance, got %d", vote.Weight)
	}
}

func TestProposalMultiOptionTally(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 25)
	module.Store.SetHolding("class-1", "bob", 10)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-multi-1", httptransport.CreateProposalRequest{
		Title:        "Pick the next venue",
		Options:      []string{"north", "south", "east"},
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if len(created.Options) != 3 {
		t.Fatalf("expected declared options, got %v", created.Options)
	}
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-multi-open", httptransport.OpenVotingRequest{}); err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-multi-alice", httptransport.CastVoteRequest{Choice: "south"}); err != nil {
		t.Fatalf("alice vote failed: %v", err)
	}
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "bob", "idem-multi-bob", httptransport.CastVoteRequest{Choice: "north"}); err != nil {
		t.Fatalf("bob vote failed: %v", err)
	}

	results, err := module.Handler.ResultsHandler(ctx, created.ProposalID)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	expected := map[string]int64{"north": 10, "south": 25, "east": 0}
	if len(results.Results) != 3 {
		t.Fatalf("expected three options in results, got %+v", results.Results)
	}
	for index, option := range []string{"north", "south", "east"} {
		entry := results.Results[index]
		if entry.Option != option || entry.Weight != expected[option] {
			t.Fatalf("unexpected result at %d: %+v", index, entry)
		}
	}
}

func TestProposalQueriesNotFound(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	ctx := context.Background()

	if _, err := module.Handler.GetProposalHandler(ctx, 404); !errors.Is(err, domainerrors.ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
	if _, err := module.Handler.FractionProposalHandler(ctx, "frac-missing"); !errors.Is(err, domainerrors.ErrFractionPollNotFound) {
		t.Fatalf("expected ErrFractionPollNotFound, got %v", err)
	}

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetSupply("class-1", 100)
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-nf-1", httptransport.CreateProposalRequest{
		Title:        "Voter record lookups",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	if _, err := module.Handler.VoterRecordHandler(ctx, created.ProposalID, "nobody"); !errors.Is(err, domainerrors.ErrVoteNotFound) {
		t.Fatalf("expected ErrVoteNotFound, got %v", err)
	}
}

package unit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	proposalengine "agora/contexts/governance/proposal-engine"
	"agora/contexts/governance/proposal-engine/application/workers"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"
	httptransport "agora/contexts/governance/proposal-engine/transport/http"
)

// governanceBusStub is an in-test event bus over the governance envelope type.
// Publish appends to the log; emit fans an event out to subscribed handlers.
type governanceBusStub struct {
	handlers  map[string][]func(context.Context, ports.EventEnvelope) error
	published []struct {
		Topic string
		Event ports.EventEnvelope
	}
	publishErr error
}

func newGovernanceBusStub() *governanceBusStub {
	return &governanceBusStub{handlers: make(map[string][]func(context.Context, ports.EventEnvelope) error)}
}

func (b *governanceBusStub) Publish(_ context.Context, topic string, event ports.EventEnvelope) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, struct {
		Topic string
		Event ports.EventEnvelope
	}{Topic: topic, Event: event})
	return nil
}

func (b *governanceBusStub) Subscribe(_ context.Context, topic string, _ string, handler func(context.Context, ports.EventEnvelope) error) error {
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *governanceBusStub) emit(ctx context.Context, topic string, event ports.EventEnvelope) error {
	for _, handler := range b.handlers[topic] {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func TestGovernanceOutboxRelayPublishesInOrder(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetHolding("class-1", "alice", 60)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	created, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-relay-create", httptransport.CreateProposalRequest{
		Title:        "Relay coverage",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}
	module.Store.AdvanceNow(time.Minute)
	if _, err := module.Handler.OpenVotingHandler(ctx, created.ProposalID, "op-1", "idem-relay-open", httptransport.OpenVotingRequest{}); err != nil {
		t.Fatalf("open voting failed: %v", err)
	}
	module.Store.AdvanceNow(time.Minute)
	if _, err := module.Handler.CastVoteHandler(ctx, created.ProposalID, "alice", "idem-relay-vote", httptransport.CastVoteRequest{Choice: "yes"}); err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}

	bus := newGovernanceBusStub()
	relay := workers.OutboxRelay{
		Outbox:    module.Store,
		Publisher: bus,
		Clock:     module.Store,
		BatchSize: 10,
	}
	relayed, err := relay.RunOnce(ctx)
	if err != nil {
		t.Fatalf("relay run failed: %v", err)
	}
	if relayed != 3 {
		t.Fatalf("expected 3 relayed rows, got %d", relayed)
	}

	expectedTypes := []string{
		"governance.proposal_created",
		"governance.voting_started",
		"governance.vote_cast",
	}
	if len(bus.published) != len(expectedTypes) {
		t.Fatalf("expected %d published events, got %d", len(expectedTypes), len(bus.published))
	}
	for index, eventType := range expectedTypes {
		event := bus.published[index].Event
		if event.EventType != eventType {
			t.Fatalf("event %d expected type %s, got %s", index, eventType, event.EventType)
		}
		if bus.published[index].Topic != eventType {
			t.Fatalf("event %d published on wrong topic: %s", index, bus.published[index].Topic)
		}
		if event.Sequence != 1 {
			t.Fatalf("expected per-type sequence 1, got %d for %s", event.Sequence, eventType)
		}
		if event.SourceService != "proposal-engine" {
			t.Fatalf("unexpected source service: %s", event.SourceService)
		}
	}

	// A second run publishes nothing: every row is already marked published.
	bus.published = nil
	relayed, err = relay.RunOnce(ctx)
	if err != nil {
		t.Fatalf("second relay run failed: %v", err)
	}
	if relayed != 0 {
		t.Fatalf("expected zero relayed rows on the second run, got %d", relayed)
	}
	if len(bus.published) != 0 {
		t.Fatalf("expected no re-published events, got %d", len(bus.published))
	}
}

func TestGovernanceOutboxRelayStopsOnPublishFailure(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)
	module.Store.SetOperator("op-1", true)
	module.Store.SetSupply("class-1", 100)

	ctx := context.Background()
	if _, err := module.Handler.CreateProposalHandler(ctx, "op-1", "idem-relay-fail", httptransport.CreateProposalRequest{
		Title:        "Broker outage",
		ShareClassID: "class-1",
		WeightMode:   "balance",
		Deadline:     now.Add(24 * time.Hour).Format(time.RFC3339),
	}); err != nil {
		t.Fatalf("create proposal failed: %v", err)
	}

	bus := newGovernanceBusStub()
	bus.publishErr = errors.New("broker unavailable")
	relay := workers.OutboxRelay{Outbox: module.Store, Publisher: bus, Clock: module.Store}
	if relayed, err := relay.RunOnce(ctx); err == nil {
		t.Fatalf("expected relay failure when publish fails")
	} else if relayed != 0 {
		t.Fatalf("failed run must report zero relayed rows, got %d", relayed)
	}

	// The row stays pending for the next cycle.
	bus.publishErr = nil
	if relayed, err := relay.RunOnce(ctx); err != nil {
		t.Fatalf("retry relay run failed: %v", err)
	} else if relayed != 1 {
		t.Fatalf("expected one relayed row after retry, got %d", relayed)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one published event after retry, got %d", len(bus.published))
	}
}

func TestLedgerProjectionConsumerUpsertsHoldingsAndSupply(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	bus := newGovernanceBusStub()
	consumer := workers.LedgerProjectionConsumer{
		Subscriber: bus,
		Dedup:      module.Store,
		Holdings:   module.Store,
		Clock:      module.Store,
	}
	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	balancePayload, _ := json.Marshal(map[string]any{
		"share_class_id": "class-1",
		"holder_id":      "alice",
		"balance":        int64(75),
	})
	balanceEvent := ports.EventEnvelope{
		EventID:       "evt-balance-1",
		EventType:     "assets.balance_updated",
		OccurredAt:    now,
		SourceService: "asset-ledger",
		SchemaVersion: 1,
		Data:          balancePayload,
	}
	if err := bus.emit(ctx, "assets.balance_updated", balanceEvent); err != nil {
		t.Fatalf("balance event failed: %v", err)
	}

	holding, found, err := module.Store.GetHolding(ctx, "class-1", "alice")
	if err != nil || !found {
		t.Fatalf("holding lookup failed: found=%v err=%v", found, err)
	}
	if holding.Amount != 75 {
		t.Fatalf("expected projected balance 75, got %d", holding.Amount)
	}

	supplyPayload, _ := json.Marshal(map[string]any{
		"share_class_id": "class-1",
		"total_minted":   int64(1000),
	})
	if err := bus.emit(ctx, "assets.supply_changed", ports.EventEnvelope{
		EventID:       "evt-supply-1",
		EventType:     "assets.supply_changed",
		OccurredAt:    now,
		SourceService: "asset-ledger",
		SchemaVersion: 1,
		Data:          supplyPayload,
	}); err != nil {
		t.Fatalf("supply event failed: %v", err)
	}
	total, found, err := module.Store.GetTotalMinted(ctx, "class-1")
	if err != nil || !found {
		t.Fatalf("supply lookup failed: found=%v err=%v", found, err)
	}
	if total != 1000 {
		t.Fatalf("expected projected supply 1000, got %d", total)
	}

	// Redelivery of the same event id with identical payload is a no-op even
	// after the balance moved on.
	module.Store.SetHolding("class-1", "alice", 90)
	if err := bus.emit(ctx, "assets.balance_updated", balanceEvent); err != nil {
		t.Fatalf("redelivered balance event failed: %v", err)
	}
	holding, _, _ = module.Store.GetHolding(ctx, "class-1", "alice")
	if holding.Amount != 90 {
		t.Fatalf("expected deduplicated redelivery to leave balance at 90, got %d", holding.Amount)
	}
}

func TestLedgerProjectionConsumerDisabledSubscribesNothing(t *testing.T) {
	bus := newGovernanceBusStub()
	consumer := workers.LedgerProjectionConsumer{
		Subscriber: bus,
		Disabled:   true,
	}
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("disabled consumer start failed: %v", err)
	}
	if len(bus.handlers) != 0 {
		t.Fatalf("expected no subscriptions from disabled consumer, got %d", len(bus.handlers))
	}
}

func TestFractionPollConsumerCreatesLinkedOpenPoll(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	bus := newGovernanceBusStub()
	consumer := workers.FractionPollConsumer{
		Subscriber:    bus,
		Dedup:         module.Store,
		Proposals:     module.Store,
		Sequences:     module.Store,
		Clock:         module.Store,
		IDGen:         module.Store,
		DefaultWindow: 30 * 24 * time.Hour,
	}
	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"fraction_id":   "frac-1",
		"asset_id":      "asset-9",
		"total_minted":  int64(1000),
		"nominal_owner": "owner-1",
	})
	event := ports.EventEnvelope{
		EventID:       "evt-fraction-1",
		EventType:     "custody.fraction_created",
		OccurredAt:    now,
		SourceService: "share-custody-service",
		SchemaVersion: 1,
		Data:          payload,
	}
	if err := bus.emit(ctx, "custody.fraction_created", event); err != nil {
		t.Fatalf("fraction event failed: %v", err)
	}

	poll, err := module.Handler.FractionProposalHandler(ctx, "frac-1")
	if err != nil {
		t.Fatalf("linked poll lookup failed: %v", err)
	}
	if poll.Status != "voting_open" {
		t.Fatalf("expected immediately open poll, got status %s", poll.Status)
	}
	if poll.ShareClassID != "frac-1" || poll.FractionID != "frac-1" {
		t.Fatalf("expected fraction id as share class, got %+v", poll)
	}
	if poll.SupplyBaseline != 1000 {
		t.Fatalf("expected baseline from total minted, got %d", poll.SupplyBaseline)
	}
	expectedDeadline := now.Add(30 * 24 * time.Hour).Format(time.RFC3339)
	if poll.Deadline != expectedDeadline {
		t.Fatalf("expected default window deadline %s, got %s", expectedDeadline, poll.Deadline)
	}

	// Holders of the fraction can vote right away.
	module.Store.SetHolding("frac-1", "holder-1", 400)
	vote, err := module.Handler.CastVoteHandler(ctx, poll.ProposalID, "holder-1", "idem-fraction-vote", httptransport.CastVoteRequest{Choice: "yes"})
	if err != nil {
		t.Fatalf("fraction poll vote failed: %v", err)
	}
	if vote.Weight != 400 {
		t.Fatalf("expected holding-weighted vote, got %d", vote.Weight)
	}

	decision, err := module.Handler.FractionDecisionHandler(ctx, "frac-1", "simple_majority")
	if err != nil {
		t.Fatalf("fraction decision failed: %v", err)
	}
	if decision.Passed {
		t.Fatalf("expected 400 of 1000 to fail simple majority")
	}

	// Redelivery of the same event is absorbed by the dedup gate.
	if err := bus.emit(ctx, "custody.fraction_created", event); err != nil {
		t.Fatalf("redelivered fraction event failed: %v", err)
	}
	count, err := module.Handler.CountProposalsHandler(ctx)
	if err != nil {
		t.Fatalf("count proposals failed: %v", err)
	}
	if count.Count != 1 {
		t.Fatalf("expected single linked poll after redelivery, got %d", count.Count)
	}

	// A distinct event for an already linked fraction is a hard failure.
	second := event
	second.EventID = "evt-fraction-2"
	if err := bus.emit(ctx, "custody.fraction_created", second); !errors.Is(err, domainerrors.ErrFractionAlreadyLinked) {
		t.Fatalf("expected ErrFractionAlreadyLinked, got %v", err)
	}
}

func TestFractionPollConsumerHonorsFutureDeadlineAndSkipsInvalidPayloads(t *testing.T) {
	module := proposalengine.NewInMemoryModule(nil, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	module.Store.SetNow(now)

	bus := newGovernanceBusStub()
	consumer := workers.FractionPollConsumer{
		Subscriber: bus,
		Dedup:      module.Store,
		Proposals:  module.Store,
		Sequences:  module.Store,
		Clock:      module.Store,
		IDGen:      module.Store,
	}
	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	deadline := now.Add(7 * 24 * time.Hour)
	payload, _ := json.Marshal(map[string]any{
		"fraction_id":     "frac-dated",
		"asset_id":        "asset-2",
		"total_minted":    int64(50),
		"nominal_owner":   "owner-2",
		"voting_deadline": deadline.Format(time.RFC3339),
	})
	if err := bus.emit(ctx, "custody.fraction_created", ports.EventEnvelope{
		EventID:       "evt-fraction-dated",
		EventType:     "custody.fraction_created",
		OccurredAt:    now,
		SourceService: "share-custody-service",
		SchemaVersion: 1,
		Data:          payload,
	}); err != nil {
		t.Fatalf("fraction event failed: %v", err)
	}
	poll, err := module.Handler.FractionProposalHandler(ctx, "frac-dated")
	if err != nil {
		t.Fatalf("linked poll lookup failed: %v", err)
	}
	if poll.Deadline != deadline.Format(time.RFC3339) {
		t.Fatalf("expected announced deadline %s, got %s", deadline.Format(time.RFC3339), poll.Deadline)
	}

	// Zero supply payloads are skipped without error and create nothing.
	invalid, _ := json.Marshal(map[string]any{
		"fraction_id":   "frac-empty",
		"asset_id":      "asset-3",
		"total_minted":  int64(0),
		"nominal_owner": "owner-3",
	})
	if err := bus.emit(ctx, "custody.fraction_created", ports.EventEnvelope{
		EventID:       "evt-fraction-empty",
		EventType:     "custody.fraction_created",
		OccurredAt:    now,
		SourceService: "share-custody-service",
		SchemaVersion: 1,
		Data:          invalid,
	}); err != nil {
		t.Fatalf("invalid fraction event should be skipped, got %v", err)
	}
	if _, err := module.Handler.FractionProposalHandler(ctx, "frac-empty"); !errors.Is(err, domainerrors.ErrFractionPollNotFound) {
		t.Fatalf("expected no poll for invalid payload, got %v", err)
	}
}

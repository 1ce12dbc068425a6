package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/asset-custody/share-custody-service/application"
	"agora/contexts/asset-custody/share-custody-service/ports"
)

const (
	balanceUpdatedTopic = "assets.balance_updated"
	supplyChangedTopic  = "assets.supply_changed"
	defaultLedgerCG     = "share-custody-ledger-cg"
)

// LedgerProjectionConsumer maintains the local holdings/supply read model of
// the external multi-asset ledger. Events carry absolute values, so upserts
// are replay-safe; the dedup gate additionally rejects payload drift on the
// same event id.
type LedgerProjectionConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Holdings      ports.HoldingsProjection
	Clock         ports.Clock
	ConsumerGroup string
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (c LedgerProjectionConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("ledger projection consumer disabled by feature flag",
			"event", "custody_ledger_consumer_disabled",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultLedgerCG
	}
	if err := c.Subscriber.Subscribe(ctx, balanceUpdatedTopic, group, c.handleBalanceUpdated); err != nil {
		return err
	}
	if err := c.Subscriber.Subscribe(ctx, supplyChangedTopic, group, c.handleSupplyChanged); err != nil {
		return err
	}
	logger.Info("ledger projection consumer subscriptions active",
		"event", "custody_ledger_consumer_started",
		"module", "asset-custody/share-custody-service",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c LedgerProjectionConsumer) handleBalanceUpdated(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		return nil
	}

	var payload struct {
		ShareClassID string `json:"share_class_id"`
		HolderID     string `json:"holder_id"`
		Balance      int64  `json:"balance"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("assets.balance_updated payload decode failed",
			"event", "custody_balance_updated_decode_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	if err := c.Holdings.UpsertHolding(ctx, ports.ShareHolding{
		ShareClassID: strings.TrimSpace(payload.ShareClassID),
		HolderID:     strings.TrimSpace(payload.HolderID),
		Amount:       payload.Balance,
		UpdatedAt:    c.now(),
	}); err != nil {
		logger.Error("holdings upsert failed",
			"event", "custody_holdings_upsert_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"event_id", event.EventID,
			"share_class_id", strings.TrimSpace(payload.ShareClassID),
			"holder_id", strings.TrimSpace(payload.HolderID),
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func (c LedgerProjectionConsumer) handleSupplyChanged(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	if alreadyProcessed, err := c.reserveEvent(ctx, event); err != nil {
		return err
	} else if alreadyProcessed {
		return nil
	}

	var payload struct {
		ShareClassID string `json:"share_class_id"`
		TotalMinted  int64  `json:"total_minted"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("assets.supply_changed payload decode failed",
			"event", "custody_supply_changed_decode_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}

	if err := c.Holdings.UpsertSupply(ctx, strings.TrimSpace(payload.ShareClassID), payload.TotalMinted, c.now()); err != nil {
		logger.Error("supply upsert failed",
			"event", "custody_supply_upsert_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"event_id", event.EventID,
			"share_class_id", strings.TrimSpace(payload.ShareClassID),
			"error", err.Error(),
		)
		return err
	}
	return nil
}

func (c LedgerProjectionConsumer) reserveEvent(ctx context.Context, event ports.EventEnvelope) (bool, error) {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		logger.Error("ledger event dedupe failed",
			"event", "custody_ledger_event_dedupe_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"error", err.Error(),
		)
		return false, err
	}
	return alreadyProcessed, nil
}

func (c LedgerProjectionConsumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (c LedgerProjectionConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "agora/contexts/asset-custody/share-custody-service/application"
	"agora/contexts/asset-custody/share-custody-service/ports"
)

// OutboxRelay publishes persisted custody outbox rows to the event bus.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes a bounded batch of pending rows and marks each row
// published only after the broker accepted it. It stops on the first failure
// so the retry loop can reprocess remaining rows safely, and returns the
// number of rows relayed in this cycle.
func (r OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	relayed := 0
	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("custody outbox list failed",
			"event", "custody_outbox_list_failed",
			"module", "asset-custody/share-custody-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return relayed, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock.Now().UTC()
	}

	for _, row := range pending {
		var event ports.EventEnvelope
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			logger.Error("custody outbox decode failed",
				"event", "custody_outbox_decode_failed",
				"module", "asset-custody/share-custody-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return relayed, err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("custody outbox publish failed",
				"event", "custody_outbox_publish_failed",
				"module", "asset-custody/share-custody-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return relayed, err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, now); err != nil {
			logger.Error("custody outbox mark published failed",
				"event", "custody_outbox_mark_published_failed",
				"module", "asset-custody/share-custody-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return relayed, err
		}
		relayed++
	}

	logger.Info("custody outbox relay cycle completed",
		"event", "custody_outbox_relay_completed",
		"module", "asset-custody/share-custody-service",
		"layer", "worker",
		"published_count", relayed,
	)
	return relayed, nil
}

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	application "agora/contexts/governance/proposal-engine/application"
	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"
)

const (
	fractionCreatedTopic = "custody.fraction_created"
	defaultFractionCG    = "proposal-engine-fraction-cg"
)

// FractionPollConsumer turns every registered custody fraction into a linked,
// immediately open binary poll. The fraction id doubles as the share class so
// voting weight reads the fraction's projected holdings, and the baseline is
// the fraction's total minted amount frozen at creation.
type FractionPollConsumer struct {
	Subscriber    ports.EventSubscriber
	Dedup         ports.EventDedupStore
	Proposals     ports.ProposalRepository
	Sequences     ports.EventSequences
	Clock         ports.Clock
	IDGen         ports.IDGenerator
	ConsumerGroup string
	DefaultWindow time.Duration
	DedupTTL      time.Duration
	Disabled      bool
	Logger        *slog.Logger
}

func (c FractionPollConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	if c.Disabled {
		logger.Info("fraction poll consumer disabled by feature flag",
			"event", "governance_fraction_consumer_disabled",
			"module", "governance/proposal-engine",
			"layer", "worker",
		)
		return nil
	}
	group := strings.TrimSpace(c.ConsumerGroup)
	if group == "" {
		group = defaultFractionCG
	}
	if err := c.Subscriber.Subscribe(ctx, fractionCreatedTopic, group, c.handleFractionCreated); err != nil {
		return err
	}
	logger.Info("fraction poll consumer subscription active",
		"event", "governance_fraction_consumer_started",
		"module", "governance/proposal-engine",
		"layer", "worker",
		"consumer_group", group,
	)
	return nil
}

func (c FractionPollConsumer) handleFractionCreated(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)
	alreadyProcessed, err := c.Dedup.ReserveEvent(ctx, event.EventID, hashPayload(event.Data), c.now().Add(c.dedupTTL()))
	if err != nil {
		return err
	}
	if alreadyProcessed {
		return nil
	}

	var payload struct {
		FractionID     string `json:"fraction_id"`
		AssetID        string `json:"asset_id"`
		TotalMinted    int64  `json:"total_minted"`
		NominalOwner   string `json:"nominal_owner"`
		VotingDeadline string `json:"voting_deadline"`
	}
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("custody.fraction_created payload decode failed",
			"event", "governance_fraction_created_decode_failed",
			"module", "governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	fractionID := strings.TrimSpace(payload.FractionID)
	if fractionID == "" || payload.TotalMinted <= 0 {
		logger.Warn("custody.fraction_created payload invalid; skipping",
			"event", "governance_fraction_created_invalid",
			"module", "governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"fraction_id", fractionID,
		)
		return nil
	}

	now := c.now()
	deadline := now.Add(c.defaultWindow())
	if raw := strings.TrimSpace(payload.VotingDeadline); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err == nil && parsed.UTC().After(now) {
			deadline = parsed.UTC()
		}
	}

	if _, err := c.Proposals.GetProposalByFraction(ctx, fractionID); err == nil {
		return domainerrors.ErrFractionAlreadyLinked
	} else if !errors.Is(err, domainerrors.ErrFractionPollNotFound) {
		return err
	}

	proposalID, err := c.Proposals.NextProposalID(ctx)
	if err != nil {
		return err
	}
	proposal := entities.Proposal{
		ProposalID:     proposalID,
		Title:          "Fraction poll " + fractionID,
		Description:    "Holder poll for fractionalized asset " + strings.TrimSpace(payload.AssetID),
		CreatorID:      strings.TrimSpace(payload.NominalOwner),
		ShareClassID:   fractionID,
		WeightMode:     entities.WeightModeBalance,
		SupplyBaseline: payload.TotalMinted,
		FractionID:     fractionID,
		CreatedAt:      now,
		VotingStartsAt: &now,
		Deadline:       deadline,
	}

	createEnvelope, err := c.buildEnvelope(ctx, "governance.proposal_created", proposal.ProposalID, now, map[string]any{
		"proposal_id":     proposal.ProposalID,
		"title":           proposal.Title,
		"description":     proposal.Description,
		"deadline":        proposal.Deadline.Format(time.RFC3339),
		"share_class_id":  proposal.ShareClassID,
		"weight_mode":     string(proposal.WeightMode),
		"supply_baseline": proposal.SupplyBaseline,
		"options":         proposal.Options,
		"fraction_id":     proposal.FractionID,
	})
	if err != nil {
		return err
	}
	if err := c.Proposals.CreateProposal(ctx, ports.CreateProposalInput{
		Proposal: proposal,
		Envelope: createEnvelope,
	}); err != nil {
		logger.Error("fraction poll create failed",
			"event", "governance_fraction_poll_create_failed",
			"module", "governance/proposal-engine",
			"layer", "worker",
			"event_id", event.EventID,
			"fraction_id", fractionID,
			"error", err.Error(),
		)
		return err
	}

	logger.Info("fraction poll created",
		"event", "governance_fraction_poll_created",
		"module", "governance/proposal-engine",
		"layer", "worker",
		"event_id", event.EventID,
		"fraction_id", fractionID,
		"proposal_id", proposal.ProposalID,
		"deadline", deadline.Format(time.RFC3339),
	)
	return nil
}

func (c FractionPollConsumer) buildEnvelope(
	ctx context.Context,
	eventType string,
	proposalID uint64,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	eventID, err := c.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	sequence, err := c.Sequences.NextEventSequence(ctx, eventType)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       occurredAt.UTC(),
		SourceService:    "proposal-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		Sequence:         sequence,
		PartitionKeyPath: "proposal_id",
		PartitionKey:     strconv.FormatUint(proposalID, 10),
		Data:             payload,
	}, nil
}

func (c FractionPollConsumer) defaultWindow() time.Duration {
	if c.DefaultWindow <= 0 {
		return 30 * 24 * time.Hour
	}
	return c.DefaultWindow
}

func (c FractionPollConsumer) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (c FractionPollConsumer) dedupTTL() time.Duration {
	if c.DedupTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.DedupTTL
}

package commands

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/proposal-engine/application"
	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"
)

const (
	eventProposalCreated   = "governance.proposal_created"
	eventVotingStarted     = "governance.voting_started"
	eventVoteCast          = "governance.vote_cast"
	eventProposalFinalized = "governance.proposal_finalized"
)

// CreateProposalCommand is the transport-agnostic input for proposal creation.
// An empty Options slice declares a binary yes/no proposal.
type CreateProposalCommand struct {
	IdempotencyKey string
	CreatorID      string
	Title          string
	Description    string
	Options        []string
	ShareClassID   string
	WeightMode     string
	SupplyBaseline int64
	FractionID     string
	Deadline       time.Time
}

type CreateProposalResult struct {
	Proposal entities.Proposal `json:"proposal"`
	Replayed bool              `json:"replayed"`
}

type OpenVotingCommand struct {
	IdempotencyKey string
	ActorID        string
	ProposalID     uint64
	VotingStartsAt time.Time
}

type OpenVotingResult struct {
	Proposal entities.Proposal `json:"proposal"`
	Replayed bool              `json:"replayed"`
}

type FinalizeProposalCommand struct {
	IdempotencyKey string
	ActorID        string
	ProposalID     uint64
}

type FinalizeProposalResult struct {
	Proposal entities.Proposal `json:"proposal"`
	Replayed bool              `json:"replayed"`
}

// ProposalUseCase orchestrates the proposal lifecycle: creation, opening the
// voting window, vote casting, and finalization. Every mutation validates
// before writing, commits state and outbox row together, and is replay-safe
// via idempotency key + request hash.
type ProposalUseCase struct {
	Proposals      ports.ProposalRepository
	Holdings       ports.HoldingsProjection
	Operators      ports.OperatorDirectory
	Idempotency    ports.IdempotencyStore
	Sequences      ports.EventSequences
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreateProposal validates input, freezes the supply baseline, reserves the
// next sequential id, and commits proposal + proposal_created outbox row.
func (uc ProposalUseCase) CreateProposal(ctx context.Context, cmd CreateProposalCommand) (CreateProposalResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("proposal create started",
		"event", "governance_proposal_create_started",
		"module", "governance/proposal-engine",
		"layer", "application",
		"creator_id", strings.TrimSpace(cmd.CreatorID),
		"title", strings.TrimSpace(cmd.Title),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return CreateProposalResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.CreatorID) == "" {
		return CreateProposalResult{}, domainerrors.ErrInvalidCreator
	}
	if strings.TrimSpace(cmd.Title) == "" {
		return CreateProposalResult{}, domainerrors.ErrInvalidTitle
	}

	now := uc.now()
	if !cmd.Deadline.UTC().After(now) {
		return CreateProposalResult{}, domainerrors.ErrInvalidDeadline
	}

	weightMode, err := resolveWeightMode(cmd.WeightMode)
	if err != nil {
		return CreateProposalResult{}, err
	}
	shareClassID := strings.TrimSpace(cmd.ShareClassID)
	if weightMode == entities.WeightModeBalance && shareClassID == "" {
		return CreateProposalResult{}, domainerrors.ErrUnsupportedWeightMode
	}

	options, err := normalizeOptions(cmd.Options)
	if err != nil {
		return CreateProposalResult{}, err
	}

	requestHash, err := hashRequest(struct {
		CreatorID      string   `json:"creator_id"`
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		Options        []string `json:"options"`
		ShareClassID   string   `json:"share_class_id"`
		WeightMode     string   `json:"weight_mode"`
		SupplyBaseline int64    `json:"supply_baseline"`
		FractionID     string   `json:"fraction_id"`
		Deadline       string   `json:"deadline"`
		Op             string   `json:"op"`
	}{
		CreatorID:      strings.TrimSpace(cmd.CreatorID),
		Title:          strings.TrimSpace(cmd.Title),
		Description:    strings.TrimSpace(cmd.Description),
		Options:        options,
		ShareClassID:   shareClassID,
		WeightMode:     string(weightMode),
		SupplyBaseline: cmd.SupplyBaseline,
		FractionID:     strings.TrimSpace(cmd.FractionID),
		Deadline:       cmd.Deadline.UTC().Format(time.RFC3339Nano),
		Op:             "create_proposal",
	})
	if err != nil {
		return CreateProposalResult{}, err
	}

	if replay, found, err := uc.replayCreate(ctx, cmd.IdempotencyKey, requestHash, now); err != nil {
		return CreateProposalResult{}, err
	} else if found {
		return replay, nil
	}

	if err := uc.requireOperator(ctx, cmd.CreatorID); err != nil {
		return CreateProposalResult{}, err
	}

	baseline, err := uc.resolveBaseline(ctx, weightMode, shareClassID, cmd.SupplyBaseline)
	if err != nil {
		return CreateProposalResult{}, err
	}

	proposalID, err := uc.Proposals.NextProposalID(ctx)
	if err != nil {
		return CreateProposalResult{}, err
	}
	proposal := entities.Proposal{
		ProposalID:     proposalID,
		Title:          strings.TrimSpace(cmd.Title),
		Description:    strings.TrimSpace(cmd.Description),
		CreatorID:      strings.TrimSpace(cmd.CreatorID),
		ShareClassID:   shareClassID,
		WeightMode:     weightMode,
		Options:        options,
		SupplyBaseline: baseline,
		FractionID:     strings.TrimSpace(cmd.FractionID),
		CreatedAt:      now,
		Deadline:       cmd.Deadline.UTC(),
	}

	envelope, err := uc.buildEnvelope(ctx, eventProposalCreated, proposal.ProposalID, now, map[string]any{
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
		return CreateProposalResult{}, err
	}

	if err := uc.Proposals.CreateProposal(ctx, ports.CreateProposalInput{
		Proposal: proposal,
		Envelope: envelope,
	}); err != nil {
		logger.Error("proposal create write failed",
			"event", "governance_proposal_create_write_failed",
			"module", "governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"error", err.Error(),
		)
		return CreateProposalResult{}, err
	}

	result := CreateProposalResult{Proposal: proposal}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "create_proposal", requestHash, result, now); err != nil {
		return CreateProposalResult{}, err
	}

	logger.Info("proposal created",
		"event", "governance_proposal_created",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"creator_id", proposal.CreatorID,
		"deadline", proposal.Deadline.Format(time.RFC3339),
		"supply_baseline", proposal.SupplyBaseline,
	)
	return result, nil
}

// OpenVoting records the voting start for a proposal in the created state.
// A start at or past the deadline, or a second open, fails with ErrInvalidWindow.
func (uc ProposalUseCase) OpenVoting(ctx context.Context, cmd OpenVotingCommand) (OpenVotingResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("voting open started",
		"event", "governance_voting_open_started",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", cmd.ProposalID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return OpenVotingResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return OpenVotingResult{}, domainerrors.ErrInvalidCreator
	}

	now := uc.now()
	requestHash, err := hashRequest(struct {
		ProposalID     uint64 `json:"proposal_id"`
		ActorID        string `json:"actor_id"`
		VotingStartsAt string `json:"voting_starts_at"`
		Op             string `json:"op"`
	}{
		ProposalID:     cmd.ProposalID,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		VotingStartsAt: cmd.VotingStartsAt.UTC().Format(time.RFC3339Nano),
		Op:             "open_voting",
	})
	if err != nil {
		return OpenVotingResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return OpenVotingResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return OpenVotingResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay OpenVotingResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return OpenVotingResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	if err := uc.requireOperator(ctx, cmd.ActorID); err != nil {
		return OpenVotingResult{}, err
	}

	proposal, err := uc.Proposals.GetProposal(ctx, cmd.ProposalID)
	if err != nil {
		return OpenVotingResult{}, err
	}
	if proposal.VotingOpened() {
		return OpenVotingResult{}, domainerrors.ErrInvalidWindow
	}
	startsAt := cmd.VotingStartsAt.UTC()
	if startsAt.IsZero() {
		startsAt = now
	}
	if !startsAt.Before(proposal.Deadline.UTC()) {
		return OpenVotingResult{}, domainerrors.ErrInvalidWindow
	}

	envelope, err := uc.buildEnvelope(ctx, eventVotingStarted, proposal.ProposalID, now, map[string]any{
		"proposal_id":      proposal.ProposalID,
		"voting_starts_at": startsAt.Format(time.RFC3339),
		"deadline":         proposal.Deadline.Format(time.RFC3339),
	})
	if err != nil {
		return OpenVotingResult{}, err
	}

	if err := uc.Proposals.OpenVoting(ctx, ports.OpenVotingInput{
		ProposalID:     proposal.ProposalID,
		VotingStartsAt: startsAt,
		Envelope:       envelope,
	}); err != nil {
		logger.Error("voting open write failed",
			"event", "governance_voting_open_write_failed",
			"module", "governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"error", err.Error(),
		)
		return OpenVotingResult{}, err
	}

	proposal.VotingStartsAt = &startsAt
	result := OpenVotingResult{Proposal: proposal}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "open_voting", requestHash, result, now); err != nil {
		return OpenVotingResult{}, err
	}

	logger.Info("voting opened",
		"event", "governance_voting_opened",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"voting_starts_at", startsAt.Format(time.RFC3339),
	)
	return result, nil
}

// FinalizeProposal freezes the live yes/no tallies into the proposal once the
// deadline has passed. Finalization is one-time and irreversible.
func (uc ProposalUseCase) FinalizeProposal(ctx context.Context, cmd FinalizeProposalCommand) (FinalizeProposalResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("proposal finalize started",
		"event", "governance_proposal_finalize_started",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", cmd.ProposalID,
		"actor_id", strings.TrimSpace(cmd.ActorID),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return FinalizeProposalResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return FinalizeProposalResult{}, domainerrors.ErrInvalidCreator
	}

	now := uc.now()
	requestHash, err := hashRequest(struct {
		ProposalID uint64 `json:"proposal_id"`
		ActorID    string `json:"actor_id"`
		Op         string `json:"op"`
	}{
		ProposalID: cmd.ProposalID,
		ActorID:    strings.TrimSpace(cmd.ActorID),
		Op:         "finalize_proposal",
	})
	if err != nil {
		return FinalizeProposalResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return FinalizeProposalResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return FinalizeProposalResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay FinalizeProposalResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return FinalizeProposalResult{}, err
		}
		replay.Replayed = true
		return replay, nil
	}

	if err := uc.requireOperator(ctx, cmd.ActorID); err != nil {
		return FinalizeProposalResult{}, err
	}

	proposal, err := uc.Proposals.GetProposal(ctx, cmd.ProposalID)
	if err != nil {
		return FinalizeProposalResult{}, err
	}
	if proposal.Finalized {
		return FinalizeProposalResult{}, domainerrors.ErrAlreadyFinalized
	}
	if !now.After(proposal.Deadline.UTC()) {
		return FinalizeProposalResult{}, domainerrors.ErrTooEarly
	}

	yesWeight, err := uc.Proposals.GetTally(ctx, proposal.ProposalID, entities.ChoiceYes)
	if err != nil {
		return FinalizeProposalResult{}, err
	}
	noWeight, err := uc.Proposals.GetTally(ctx, proposal.ProposalID, entities.ChoiceNo)
	if err != nil {
		return FinalizeProposalResult{}, err
	}

	results, err := uc.Proposals.ListTallies(ctx, proposal.ProposalID)
	if err != nil {
		return FinalizeProposalResult{}, err
	}
	resultsPayload := make([]map[string]any, 0, len(results))
	for _, entry := range results {
		resultsPayload = append(resultsPayload, map[string]any{
			"option": entry.Option,
			"weight": entry.Weight,
		})
	}

	envelope, err := uc.buildEnvelope(ctx, eventProposalFinalized, proposal.ProposalID, now, map[string]any{
		"proposal_id": proposal.ProposalID,
		"yes_weight":  yesWeight,
		"no_weight":   noWeight,
		"results":     resultsPayload,
	})
	if err != nil {
		return FinalizeProposalResult{}, err
	}

	if err := uc.Proposals.FinalizeProposal(ctx, ports.FinalizeProposalInput{
		ProposalID:  proposal.ProposalID,
		FinalizedAt: now,
		YesWeight:   yesWeight,
		NoWeight:    noWeight,
		Envelope:    envelope,
	}); err != nil {
		logger.Error("proposal finalize write failed",
			"event", "governance_proposal_finalize_write_failed",
			"module", "governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"error", err.Error(),
		)
		return FinalizeProposalResult{}, err
	}

	proposal.Finalized = true
	proposal.FinalizedAt = &now
	proposal.FinalYesWeight = yesWeight
	proposal.FinalNoWeight = noWeight
	result := FinalizeProposalResult{Proposal: proposal}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "finalize_proposal", requestHash, result, now); err != nil {
		return FinalizeProposalResult{}, err
	}

	logger.Info("proposal finalized",
		"event", "governance_proposal_finalized",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"yes_weight", yesWeight,
		"no_weight", noWeight,
	)
	return result, nil
}

func (uc ProposalUseCase) replayCreate(
	ctx context.Context,
	key string,
	requestHash string,
	now time.Time,
) (CreateProposalResult, bool, error) {
	record, found, err := uc.Idempotency.GetRecord(ctx, key, now)
	if err != nil || !found {
		return CreateProposalResult{}, false, err
	}
	if record.RequestHash != requestHash {
		return CreateProposalResult{}, false, domainerrors.ErrIdempotencyConflict
	}
	var replay CreateProposalResult
	if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
		return CreateProposalResult{}, false, err
	}
	replay.Replayed = true
	return replay, true, nil
}

func (uc ProposalUseCase) storeIdempotency(
	ctx context.Context,
	key string,
	operation string,
	requestHash string,
	result any,
	now time.Time,
) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return uc.Idempotency.PutRecord(ctx, ports.IdempotencyRecord{
		Key:             strings.TrimSpace(key),
		Operation:       operation,
		RequestHash:     requestHash,
		ResponsePayload: payload,
		ExpiresAt:       now.Add(uc.idempotencyTTL()),
	})
}

func (uc ProposalUseCase) requireOperator(ctx context.Context, actorID string) error {
	if uc.Operators == nil {
		return domainerrors.ErrNotAuthorized
	}
	authorized, err := uc.Operators.IsAuthorized(ctx, strings.TrimSpace(actorID))
	if err != nil {
		return err
	}
	if !authorized {
		return domainerrors.ErrNotAuthorized
	}
	return nil
}

// resolveBaseline freezes the decision denominator at creation time so later
// supply changes cannot flip an already computed decision.
func (uc ProposalUseCase) resolveBaseline(
	ctx context.Context,
	weightMode entities.WeightMode,
	shareClassID string,
	explicit int64,
) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if explicit < 0 {
		return 0, domainerrors.ErrInvalidBaseline
	}
	if shareClassID == "" {
		return 0, domainerrors.ErrInvalidBaseline
	}
	if weightMode == entities.WeightModeBalance {
		total, found, err := uc.Holdings.GetTotalMinted(ctx, shareClassID)
		if err != nil {
			return 0, err
		}
		if !found || total <= 0 {
			return 0, domainerrors.ErrInvalidBaseline
		}
		return total, nil
	}
	holders, err := uc.Holdings.CountHolders(ctx, shareClassID)
	if err != nil {
		return 0, err
	}
	if holders <= 0 {
		return 0, domainerrors.ErrInvalidBaseline
	}
	return holders, nil
}

func (uc ProposalUseCase) buildEnvelope(
	ctx context.Context,
	eventType string,
	proposalID uint64,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	sequence, err := uc.Sequences.NextEventSequence(ctx, eventType)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	return newGovernanceEnvelope(eventID, eventType, sequence, formatProposalID(proposalID), occurredAt, data)
}

func (uc ProposalUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc ProposalUseCase) idempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func resolveWeightMode(raw string) (entities.WeightMode, error) {
	switch entities.WeightMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", entities.WeightModeBallot:
		return entities.WeightModeBallot, nil
	case entities.WeightModeBalance:
		return entities.WeightModeBalance, nil
	default:
		return "", domainerrors.ErrUnsupportedWeightMode
	}
}

func normalizeOptions(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(raw))
	options := make([]string, 0, len(raw))
	for _, option := range raw {
		option = strings.TrimSpace(option)
		if option == "" {
			return nil, domainerrors.ErrInvalidOption
		}
		if _, dup := seen[option]; dup {
			return nil, domainerrors.ErrInvalidOption
		}
		seen[option] = struct{}{}
		options = append(options, option)
	}
	return options, nil
}

package commands

import (
	"context"
	"encoding/json"
	"strings"

	application "agora/contexts/governance/proposal-engine/application"
	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/ports"
)

type CastVoteCommand struct {
	IdempotencyKey string
	ProposalID     uint64
	VoterID        string
	Choice         string
}

type CastVoteResult struct {
	Vote     entities.VoteRecord `json:"vote"`
	Replayed bool                `json:"replayed"`
}

// CastVote records one ballot. Preconditions run in order with the first
// failure winning: proposal exists, voting opened, window contains now, no
// prior record for the voter, and positive projected weight when a share class
// is attached. The record insert and tally increment commit together.
func (uc ProposalUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	logger.Info("vote cast started",
		"event", "governance_vote_cast_started",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", cmd.ProposalID,
		"voter_id", strings.TrimSpace(cmd.VoterID),
		"choice", strings.TrimSpace(cmd.Choice),
	)

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return CastVoteResult{}, domainerrors.ErrIdempotencyKeyRequired
	}
	if strings.TrimSpace(cmd.VoterID) == "" {
		return CastVoteResult{}, domainerrors.ErrInvalidVoter
	}

	now := uc.now()
	choice := strings.TrimSpace(cmd.Choice)
	requestHash, err := hashRequest(struct {
		ProposalID uint64 `json:"proposal_id"`
		VoterID    string `json:"voter_id"`
		Choice     string `json:"choice"`
		Op         string `json:"op"`
	}{
		ProposalID: cmd.ProposalID,
		VoterID:    strings.TrimSpace(cmd.VoterID),
		Choice:     choice,
		Op:         "cast_vote",
	})
	if err != nil {
		return CastVoteResult{}, err
	}

	if record, found, err := uc.Idempotency.GetRecord(ctx, cmd.IdempotencyKey, now); err != nil {
		return CastVoteResult{}, err
	} else if found {
		if record.RequestHash != requestHash {
			return CastVoteResult{}, domainerrors.ErrIdempotencyConflict
		}
		var replay CastVoteResult
		if err := json.Unmarshal(record.ResponsePayload, &replay); err != nil {
			return CastVoteResult{}, err
		}
		replay.Replayed = true
		logger.Info("vote cast replayed",
			"event", "governance_vote_cast_replayed",
			"module", "governance/proposal-engine",
			"layer", "application",
			"proposal_id", cmd.ProposalID,
			"voter_id", strings.TrimSpace(cmd.VoterID),
		)
		return replay, nil
	}

	proposal, err := uc.Proposals.GetProposal(ctx, cmd.ProposalID)
	if err != nil {
		return CastVoteResult{}, err
	}
	if !proposal.VotingOpened() {
		return CastVoteResult{}, domainerrors.ErrVotingNotStarted
	}
	if proposal.Finalized || !proposal.WindowContains(now) {
		return CastVoteResult{}, domainerrors.ErrVotingClosed
	}
	if _, exists, err := uc.Proposals.GetVote(ctx, proposal.ProposalID, strings.TrimSpace(cmd.VoterID)); err != nil {
		return CastVoteResult{}, err
	} else if exists {
		return CastVoteResult{}, domainerrors.ErrAlreadyVoted
	}

	weight, err := uc.resolveVoteWeight(ctx, proposal, cmd.VoterID)
	if err != nil {
		return CastVoteResult{}, err
	}

	if !proposal.HasOption(choice) {
		return CastVoteResult{}, domainerrors.ErrInvalidOption
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}
	vote := entities.VoteRecord{
		VoteID:     voteID,
		ProposalID: proposal.ProposalID,
		VoterID:    strings.TrimSpace(cmd.VoterID),
		Choice:     choice,
		Weight:     weight,
		CastAt:     now,
	}

	envelope, err := uc.buildEnvelope(ctx, eventVoteCast, proposal.ProposalID, now, map[string]any{
		"proposal_id": proposal.ProposalID,
		"voter_id":    vote.VoterID,
		"choice":      vote.Choice,
		"weight":      vote.Weight,
	})
	if err != nil {
		return CastVoteResult{}, err
	}

	if err := uc.Proposals.AppendVote(ctx, ports.AppendVoteInput{
		Vote:     vote,
		Envelope: envelope,
	}); err != nil {
		logger.Error("vote cast write failed",
			"event", "governance_vote_cast_write_failed",
			"module", "governance/proposal-engine",
			"layer", "application",
			"proposal_id", proposal.ProposalID,
			"voter_id", vote.VoterID,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}

	result := CastVoteResult{Vote: vote}
	if err := uc.storeIdempotency(ctx, cmd.IdempotencyKey, "cast_vote", requestHash, result, now); err != nil {
		return CastVoteResult{}, err
	}

	logger.Info("vote cast",
		"event", "governance_vote_cast",
		"module", "governance/proposal-engine",
		"layer", "application",
		"proposal_id", proposal.ProposalID,
		"voter_id", vote.VoterID,
		"choice", vote.Choice,
		"weight", vote.Weight,
	)
	return result, nil
}

// resolveVoteWeight reads the local holdings projection only; no external call
// happens inside the mutation path.
func (uc ProposalUseCase) resolveVoteWeight(
	ctx context.Context,
	proposal entities.Proposal,
	voterID string,
) (int64, error) {
	if proposal.ShareClassID == "" {
		return 1, nil
	}
	holding, found, err := uc.Holdings.GetHolding(ctx, proposal.ShareClassID, strings.TrimSpace(voterID))
	if err != nil {
		return 0, err
	}
	if !found || holding.Amount <= 0 {
		return 0, domainerrors.ErrNoVotingWeight
	}
	if proposal.WeightMode == entities.WeightModeBallot {
		return 1, nil
	}
	return holding.Amount, nil
}

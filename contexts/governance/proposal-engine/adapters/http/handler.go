package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/governance/proposal-engine/application/commands"
	"agora/contexts/governance/proposal-engine/application/queries"
	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	httptransport "agora/contexts/governance/proposal-engine/transport/http"
)

type Handler struct {
	Proposals commands.ProposalUseCase
	Queries   queries.ProposalQueryUseCase
	Results   queries.ResultsQueryUseCase
	Logger    *slog.Logger
}

func (h Handler) CreateProposalHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.CreateProposalRequest,
) (httptransport.ProposalResponse, error) {
	deadline, err := parseTime(req.Deadline)
	if err != nil {
		return httptransport.ProposalResponse{}, domainerrors.ErrInvalidDeadline
	}
	result, err := h.Proposals.CreateProposal(ctx, commands.CreateProposalCommand{
		IdempotencyKey: idempotencyKey,
		CreatorID:      userID,
		Title:          req.Title,
		Description:    req.Description,
		Options:        req.Options,
		ShareClassID:   req.ShareClassID,
		WeightMode:     req.WeightMode,
		SupplyBaseline: req.SupplyBaseline,
		Deadline:       deadline,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	response := proposalResponse(result.Proposal, h.statusOf(result.Proposal))
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) OpenVotingHandler(
	ctx context.Context,
	proposalID uint64,
	userID string,
	idempotencyKey string,
	req httptransport.OpenVotingRequest,
) (httptransport.ProposalResponse, error) {
	var startsAt time.Time
	if strings.TrimSpace(req.VotingStartsAt) != "" {
		parsed, err := parseTime(req.VotingStartsAt)
		if err != nil {
			return httptransport.ProposalResponse{}, domainerrors.ErrInvalidWindow
		}
		startsAt = parsed
	}
	result, err := h.Proposals.OpenVoting(ctx, commands.OpenVotingCommand{
		IdempotencyKey: idempotencyKey,
		ActorID:        userID,
		ProposalID:     proposalID,
		VotingStartsAt: startsAt,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	response := proposalResponse(result.Proposal, h.statusOf(result.Proposal))
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	proposalID uint64,
	userID string,
	idempotencyKey string,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Proposals.CastVote(ctx, commands.CastVoteCommand{
		IdempotencyKey: idempotencyKey,
		ProposalID:     proposalID,
		VoterID:        userID,
		Choice:         req.Choice,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		VoteID:     result.Vote.VoteID,
		ProposalID: result.Vote.ProposalID,
		VoterID:    result.Vote.VoterID,
		Choice:     result.Vote.Choice,
		Weight:     result.Vote.Weight,
		CastAt:     result.Vote.CastAt.UTC().Format(time.RFC3339),
		Replayed:   result.Replayed,
	}, nil
}

func (h Handler) FinalizeProposalHandler(
	ctx context.Context,
	proposalID uint64,
	userID string,
	idempotencyKey string,
) (httptransport.ProposalResponse, error) {
	result, err := h.Proposals.FinalizeProposal(ctx, commands.FinalizeProposalCommand{
		IdempotencyKey: idempotencyKey,
		ActorID:        userID,
		ProposalID:     proposalID,
	})
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	response := proposalResponse(result.Proposal, h.statusOf(result.Proposal))
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetProposalHandler(ctx context.Context, proposalID uint64) (httptransport.ProposalResponse, error) {
	view, err := h.Queries.GetProposal(ctx, proposalID)
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return proposalResponse(view.Proposal, view.Status), nil
}

func (h Handler) ListProposalsHandler(ctx context.Context, status string, limit int) (httptransport.ProposalListResponse, error) {
	views, err := h.Queries.ListProposals(ctx, status, limit)
	if err != nil {
		return httptransport.ProposalListResponse{}, err
	}
	items := make([]httptransport.ProposalResponse, 0, len(views))
	for _, view := range views {
		items = append(items, proposalResponse(view.Proposal, view.Status))
	}
	return httptransport.ProposalListResponse{Items: items}, nil
}

func (h Handler) CountProposalsHandler(ctx context.Context) (httptransport.ProposalCountResponse, error) {
	count, err := h.Queries.CountProposals(ctx)
	if err != nil {
		return httptransport.ProposalCountResponse{}, err
	}
	return httptransport.ProposalCountResponse{Count: count}, nil
}

func (h Handler) OptionTallyHandler(ctx context.Context, proposalID uint64, option string) (httptransport.OptionTallyResponse, error) {
	weight, err := h.Results.GetVotes(ctx, proposalID, option)
	if err != nil {
		return httptransport.OptionTallyResponse{}, err
	}
	return httptransport.OptionTallyResponse{
		ProposalID: proposalID,
		Option:     strings.TrimSpace(option),
		Weight:     weight,
	}, nil
}

func (h Handler) VoterRecordHandler(ctx context.Context, proposalID uint64, voterID string) (httptransport.VoteResponse, error) {
	vote, err := h.Results.GetVoterRecord(ctx, proposalID, voterID)
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		VoteID:     vote.VoteID,
		ProposalID: vote.ProposalID,
		VoterID:    vote.VoterID,
		Choice:     vote.Choice,
		Weight:     vote.Weight,
		CastAt:     vote.CastAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h Handler) ResultsHandler(ctx context.Context, proposalID uint64) (httptransport.ResultsResponse, error) {
	results, err := h.Results.GetResults(ctx, proposalID)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	return httptransport.ResultsResponse{
		ProposalID: proposalID,
		Results:    mapResults(results),
	}, nil
}

func (h Handler) HistoryHandler(ctx context.Context, proposalID uint64) (httptransport.HistoryResponse, error) {
	history, err := h.Results.GetVotingHistory(ctx, proposalID)
	if err != nil {
		return httptransport.HistoryResponse{}, err
	}
	response := httptransport.HistoryResponse{
		ProposalID: history.ProposalID,
		YesWeight:  history.YesWeight,
		NoWeight:   history.NoWeight,
		Results:    mapResults(history.Results),
		Finalized:  history.Finalized,
		Status:     string(history.Status),
		Deadline:   history.Deadline,
	}
	if history.VotingStartsAt != nil {
		response.VotingStartsAt = *history.VotingStartsAt
	}
	return response, nil
}

func (h Handler) DecisionHandler(ctx context.Context, proposalID uint64, model string) (httptransport.DecisionResponse, error) {
	decision, err := h.Results.ComputeDecision(ctx, proposalID, model)
	if err != nil {
		return httptransport.DecisionResponse{}, err
	}
	return httptransport.DecisionResponse{
		ProposalID:  proposalID,
		Model:       string(decision.Model),
		Affirmative: decision.Affirmative,
		Baseline:    decision.Baseline,
		Passed:      decision.Passed,
		ComputedAt:  decision.ComputedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h Handler) FractionProposalHandler(ctx context.Context, fractionID string) (httptransport.ProposalResponse, error) {
	proposal, err := h.Results.GetProposalByFraction(ctx, fractionID)
	if err != nil {
		return httptransport.ProposalResponse{}, err
	}
	return proposalResponse(proposal, h.statusOf(proposal)), nil
}

func (h Handler) FractionDecisionHandler(ctx context.Context, fractionID string, model string) (httptransport.DecisionResponse, error) {
	decision, err := h.Results.ComputeFractionDecision(ctx, fractionID, model)
	if err != nil {
		return httptransport.DecisionResponse{}, err
	}
	proposal, err := h.Results.GetProposalByFraction(ctx, fractionID)
	if err != nil {
		return httptransport.DecisionResponse{}, err
	}
	return httptransport.DecisionResponse{
		ProposalID:  proposal.ProposalID,
		Model:       string(decision.Model),
		Affirmative: decision.Affirmative,
		Baseline:    decision.Baseline,
		Passed:      decision.Passed,
		ComputedAt:  decision.ComputedAt.UTC().Format(time.RFC3339),
	}, nil
}

func (h Handler) statusOf(proposal entities.Proposal) entities.ProposalStatus {
	return proposal.StatusAt(resolveHandlerNow(h))
}

func resolveHandlerNow(h Handler) time.Time {
	if h.Queries.Clock != nil {
		return h.Queries.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func proposalResponse(proposal entities.Proposal, status entities.ProposalStatus) httptransport.ProposalResponse {
	response := httptransport.ProposalResponse{
		ProposalID:     proposal.ProposalID,
		Title:          proposal.Title,
		Description:    proposal.Description,
		CreatorID:      proposal.CreatorID,
		ShareClassID:   proposal.ShareClassID,
		WeightMode:     string(proposal.WeightMode),
		Options:        proposal.TallyOptions(),
		SupplyBaseline: proposal.SupplyBaseline,
		FractionID:     proposal.FractionID,
		Status:         string(status),
		CreatedAt:      proposal.CreatedAt.UTC().Format(time.RFC3339),
		Deadline:       proposal.Deadline.UTC().Format(time.RFC3339),
		Finalized:      proposal.Finalized,
	}
	if proposal.VotingStartsAt != nil {
		response.VotingStartsAt = proposal.VotingStartsAt.UTC().Format(time.RFC3339)
	}
	if proposal.FinalizedAt != nil {
		response.FinalizedAt = proposal.FinalizedAt.UTC().Format(time.RFC3339)
	}
	return response
}

func mapResults(results []queries.OptionResult) []httptransport.OptionResult {
	items := make([]httptransport.OptionResult, 0, len(results))
	for _, result := range results {
		items = append(items, httptransport.OptionResult{
			Option: result.Option,
			Weight: result.Weight,
		})
	}
	return items
}

func parseTime(raw string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

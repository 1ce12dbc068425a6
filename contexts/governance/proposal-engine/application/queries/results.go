package queries

import (
	"context"
	"strings"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
	domainerrors "agora/contexts/governance/proposal-engine/domain/errors"
	"agora/contexts/governance/proposal-engine/domain/services"
	"agora/contexts/governance/proposal-engine/ports"
)

// ResultsQueryUseCase serves tallies, voting history, and decisions computed
// from the running counters. Decision cost is O(1) per option regardless of
// how many votes were ever cast.
type ResultsQueryUseCase struct {
	Proposals ports.ProposalRepository
	Clock     ports.Clock
}

// OptionResult is one (option, weight) pair in declaration order.
type OptionResult struct {
	Option string
	Weight int64
}

// VotingHistory is the queryable outcome of a proposal: the frozen snapshot
// once finalized, the live tally before.
type VotingHistory struct {
	ProposalID     uint64
	YesWeight      int64
	NoWeight       int64
	Results        []OptionResult
	Finalized      bool
	Status         entities.ProposalStatus
	VotingStartsAt *string
	Deadline       string
}

// GetVotes returns the accumulated weight for one declared option.
func (uc ResultsQueryUseCase) GetVotes(ctx context.Context, proposalID uint64, option string) (int64, error) {
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return 0, err
	}
	option = strings.TrimSpace(option)
	if !proposal.HasOption(option) {
		return 0, domainerrors.ErrInvalidOption
	}
	return uc.Proposals.GetTally(ctx, proposalID, option)
}

// GetVoterRecord returns the voter's own ballot for a proposal.
func (uc ResultsQueryUseCase) GetVoterRecord(ctx context.Context, proposalID uint64, voterID string) (entities.VoteRecord, error) {
	if _, err := uc.Proposals.GetProposal(ctx, proposalID); err != nil {
		return entities.VoteRecord{}, err
	}
	vote, found, err := uc.Proposals.GetVote(ctx, proposalID, strings.TrimSpace(voterID))
	if err != nil {
		return entities.VoteRecord{}, err
	}
	if !found {
		return entities.VoteRecord{}, domainerrors.ErrVoteNotFound
	}
	return vote, nil
}

// GetResults returns (option, weight) pairs in declaration order; binary
// proposals report yes then no.
func (uc ResultsQueryUseCase) GetResults(ctx context.Context, proposalID uint64) ([]OptionResult, error) {
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return uc.orderedResults(ctx, proposal)
}

// GetVotingHistory returns yes/no weights, per-option results, and the
// finalized flag. Finalized proposals report the frozen snapshot.
func (uc ResultsQueryUseCase) GetVotingHistory(ctx context.Context, proposalID uint64) (VotingHistory, error) {
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return VotingHistory{}, err
	}
	return uc.historyFor(ctx, proposal)
}

// ComputeDecision applies a governance model against the proposal's frozen
// supply baseline. It never mutates stored state.
func (uc ResultsQueryUseCase) ComputeDecision(ctx context.Context, proposalID uint64, model string) (services.Decision, error) {
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return services.Decision{}, err
	}
	return uc.decideFor(ctx, proposal, model)
}

// GetProposalByFraction resolves the poll linked to a custody fraction.
func (uc ResultsQueryUseCase) GetProposalByFraction(ctx context.Context, fractionID string) (entities.Proposal, error) {
	proposal, err := uc.Proposals.GetProposalByFraction(ctx, strings.TrimSpace(fractionID))
	if err != nil {
		return entities.Proposal{}, err
	}
	return proposal, nil
}

// ComputeFractionDecision applies a governance model to a fraction's linked poll.
func (uc ResultsQueryUseCase) ComputeFractionDecision(ctx context.Context, fractionID string, model string) (services.Decision, error) {
	proposal, err := uc.Proposals.GetProposalByFraction(ctx, strings.TrimSpace(fractionID))
	if err != nil {
		return services.Decision{}, err
	}
	return uc.decideFor(ctx, proposal, model)
}

func (uc ResultsQueryUseCase) decideFor(ctx context.Context, proposal entities.Proposal, model string) (services.Decision, error) {
	parsed, err := services.ParseModel(model)
	if err != nil {
		return services.Decision{}, err
	}
	affirmative := proposal.FinalYesWeight
	if !proposal.Finalized {
		affirmative, err = uc.Proposals.GetTally(ctx, proposal.ProposalID, entities.ChoiceYes)
		if err != nil {
			return services.Decision{}, err
		}
	}
	return services.Decide(parsed, affirmative, proposal.SupplyBaseline, resolveNow(uc.Clock))
}

func (uc ResultsQueryUseCase) historyFor(ctx context.Context, proposal entities.Proposal) (VotingHistory, error) {
	history := VotingHistory{
		ProposalID: proposal.ProposalID,
		Finalized:  proposal.Finalized,
		Status:     proposal.StatusAt(resolveNow(uc.Clock)),
		Deadline:   proposal.Deadline.UTC().Format(time.RFC3339),
	}
	if proposal.VotingOpened() {
		startsAt := proposal.VotingStartsAt.UTC().Format(time.RFC3339)
		history.VotingStartsAt = &startsAt
	}

	results, err := uc.orderedResults(ctx, proposal)
	if err != nil {
		return VotingHistory{}, err
	}
	history.Results = results

	if proposal.Finalized {
		history.YesWeight = proposal.FinalYesWeight
		history.NoWeight = proposal.FinalNoWeight
		return history, nil
	}
	if history.YesWeight, err = uc.Proposals.GetTally(ctx, proposal.ProposalID, entities.ChoiceYes); err != nil {
		return VotingHistory{}, err
	}
	if history.NoWeight, err = uc.Proposals.GetTally(ctx, proposal.ProposalID, entities.ChoiceNo); err != nil {
		return VotingHistory{}, err
	}
	return history, nil
}

func (uc ResultsQueryUseCase) orderedResults(ctx context.Context, proposal entities.Proposal) ([]OptionResult, error) {
	tallies, err := uc.Proposals.ListTallies(ctx, proposal.ProposalID)
	if err != nil {
		return nil, err
	}
	byOption := make(map[string]int64, len(tallies))
	for _, entry := range tallies {
		byOption[entry.Option] = entry.Weight
	}

	options := proposal.TallyOptions()
	results := make([]OptionResult, 0, len(options))
	for _, option := range options {
		results = append(results, OptionResult{Option: option, Weight: byOption[option]})
	}
	return results, nil
}

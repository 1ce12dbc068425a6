package queries

import (
	"context"
	"strings"
	"time"

	"agora/contexts/governance/proposal-engine/domain/entities"
	"agora/contexts/governance/proposal-engine/ports"
)

// ProposalQueryUseCase serves the read-only proposal surface. Queries never
// mutate stored state.
type ProposalQueryUseCase struct {
	Proposals ports.ProposalRepository
	Clock     ports.Clock
}

// ProposalView decorates a proposal with its computed lifecycle status.
type ProposalView struct {
	Proposal entities.Proposal
	Status   entities.ProposalStatus
}

func (uc ProposalQueryUseCase) GetProposal(ctx context.Context, proposalID uint64) (ProposalView, error) {
	proposal, err := uc.Proposals.GetProposal(ctx, proposalID)
	if err != nil {
		return ProposalView{}, err
	}
	return ProposalView{
		Proposal: proposal,
		Status:   proposal.StatusAt(uc.now()),
	}, nil
}

// ListProposals returns proposals in id order, optionally filtered by the
// computed status.
func (uc ProposalQueryUseCase) ListProposals(ctx context.Context, status string, limit int) ([]ProposalView, error) {
	proposals, err := uc.Proposals.ListProposals(ctx, 0)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	filter := entities.ProposalStatus(strings.ToLower(strings.TrimSpace(status)))

	views := make([]ProposalView, 0, len(proposals))
	for _, proposal := range proposals {
		computed := proposal.StatusAt(now)
		if filter != "" && computed != filter {
			continue
		}
		views = append(views, ProposalView{Proposal: proposal, Status: computed})
		if limit > 0 && len(views) >= limit {
			break
		}
	}
	return views, nil
}

// CountProposals reports how many proposals were ever created: the sequence
// high-water mark, since proposals are append-only.
func (uc ProposalQueryUseCase) CountProposals(ctx context.Context) (uint64, error) {
	return uc.Proposals.CountProposals(ctx)
}

func (uc ProposalQueryUseCase) now() time.Time {
	return resolveNow(uc.Clock)
}

func resolveNow(clock ports.Clock) time.Time {
	if clock != nil {
		return clock.Now().UTC()
	}
	return time.Now().UTC()
}

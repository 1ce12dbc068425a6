package entities

import (
	"strings"
	"time"
)

// WeightMode selects how a voter's weight is resolved at cast time.
type WeightMode string

const (
	// WeightModeBallot counts one unit per voter.
	WeightModeBallot WeightMode = "ballot"
	// WeightModeBalance uses the voter's projected share holding.
	WeightModeBalance WeightMode = "balance"
)

// Binary proposals accept exactly these two choices.
const (
	ChoiceYes = "yes"
	ChoiceNo  = "no"
)

// ProposalStatus is computed from the voting window, never stored.
type ProposalStatus string

const (
	ProposalStatusCreated    ProposalStatus = "created"
	ProposalStatusVotingOpen ProposalStatus = "voting_open"
	ProposalStatusClosed     ProposalStatus = "closed"
	ProposalStatusFinalized  ProposalStatus = "finalized"
)

// Proposal is an append-only governance item. Ids are sequential starting at 1
// and never reused. Once finalized the yes/no snapshot is frozen and the record
// never reverts. There is no cancel transition; finalize is the only terminal
// one.
type Proposal struct {
	ProposalID     uint64
	Title          string
	Description    string
	CreatorID      string
	ShareClassID   string
	WeightMode     WeightMode
	Options        []string
	SupplyBaseline int64
	FractionID     string
	CreatedAt      time.Time
	VotingStartsAt *time.Time
	Deadline       time.Time
	Finalized      bool
	FinalizedAt    *time.Time
	FinalYesWeight int64
	FinalNoWeight  int64
}

// Binary reports whether the proposal uses the implicit yes/no choice pair.
func (p Proposal) Binary() bool {
	return len(p.Options) == 0
}

// TallyOptions returns the declared choices in declaration order; binary
// proposals always report yes then no.
func (p Proposal) TallyOptions() []string {
	if p.Binary() {
		return []string{ChoiceYes, ChoiceNo}
	}
	options := make([]string, len(p.Options))
	copy(options, p.Options)
	return options
}

// HasOption reports whether choice is an accepted vote value for the proposal.
// Unknown choices are rejected, never silently bucketed.
func (p Proposal) HasOption(choice string) bool {
	choice = strings.TrimSpace(choice)
	if p.Binary() {
		return choice == ChoiceYes || choice == ChoiceNo
	}
	for _, option := range p.Options {
		if option == choice {
			return true
		}
	}
	return false
}

// VotingOpened reports whether voting has ever been opened.
func (p Proposal) VotingOpened() bool {
	return p.VotingStartsAt != nil && !p.VotingStartsAt.IsZero()
}

// WindowContains reports whether now falls inside the inclusive voting window.
func (p Proposal) WindowContains(now time.Time) bool {
	if !p.VotingOpened() {
		return false
	}
	now = now.UTC()
	return !now.Before(p.VotingStartsAt.UTC()) && !now.After(p.Deadline.UTC())
}

// StatusAt computes the lifecycle state for the given instant.
func (p Proposal) StatusAt(now time.Time) ProposalStatus {
	if p.Finalized {
		return ProposalStatusFinalized
	}
	if !p.VotingOpened() {
		return ProposalStatusCreated
	}
	if now.UTC().After(p.Deadline.UTC()) {
		return ProposalStatusClosed
	}
	return ProposalStatusVotingOpen
}

// VoteRecord is a single ballot. At most one record exists per
// (proposal_id, voter_id) pair; duplicates fail, never overwrite.
type VoteRecord struct {
	VoteID     string
	ProposalID uint64
	VoterID    string
	Choice     string
	Weight     int64
	CastAt     time.Time
}

// TallyEntry is one running counter row. Counters are maintained at cast time
// in the same transaction as the vote insert; decisions never rescan votes.
type TallyEntry struct {
	Option string
	Weight int64
}

package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateProposalRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Options        []string `json:"options,omitempty"`
	ShareClassID   string   `json:"share_class_id,omitempty"`
	WeightMode     string   `json:"weight_mode,omitempty"`
	SupplyBaseline int64    `json:"supply_baseline,omitempty"`
	Deadline       string   `json:"deadline"`
}

type OpenVotingRequest struct {
	VotingStartsAt string `json:"voting_starts_at,omitempty"`
}

type CastVoteRequest struct {
	Choice string `json:"choice"`
}

type ProposalResponse struct {
	ProposalID     uint64   `json:"proposal_id"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	CreatorID      string   `json:"creator_id"`
	ShareClassID   string   `json:"share_class_id,omitempty"`
	WeightMode     string   `json:"weight_mode"`
	Options        []string `json:"options"`
	SupplyBaseline int64    `json:"supply_baseline"`
	FractionID     string   `json:"fraction_id,omitempty"`
	Status         string   `json:"status"`
	CreatedAt      string   `json:"created_at"`
	VotingStartsAt string   `json:"voting_starts_at,omitempty"`
	Deadline       string   `json:"deadline"`
	Finalized      bool     `json:"finalized"`
	FinalizedAt    string   `json:"finalized_at,omitempty"`
	Replayed       bool     `json:"replayed,omitempty"`
}

type ProposalListResponse struct {
	Items []ProposalResponse `json:"items"`
}

type ProposalCountResponse struct {
	Count uint64 `json:"count"`
}

type VoteResponse struct {
	VoteID     string `json:"vote_id"`
	ProposalID uint64 `json:"proposal_id"`
	VoterID    string `json:"voter_id"`
	Choice     string `json:"choice"`
	Weight     int64  `json:"weight"`
	CastAt     string `json:"cast_at"`
	Replayed   bool   `json:"replayed,omitempty"`
}

type OptionTallyResponse struct {
	ProposalID uint64 `json:"proposal_id"`
	Option     string `json:"option"`
	Weight     int64  `json:"weight"`
}

type OptionResult struct {
	Option string `json:"option"`
	Weight int64  `json:"weight"`
}

type ResultsResponse struct {
	ProposalID uint64         `json:"proposal_id"`
	Results    []OptionResult `json:"results"`
}

type HistoryResponse struct {
	ProposalID     uint64         `json:"proposal_id"`
	YesWeight      int64          `json:"yes_weight"`
	NoWeight       int64          `json:"no_weight"`
	Results        []OptionResult `json:"results"`
	Finalized      bool           `json:"finalized"`
	Status         string         `json:"status"`
	VotingStartsAt string         `json:"voting_starts_at,omitempty"`
	Deadline       string         `json:"deadline"`
}

type DecisionResponse struct {
	ProposalID  uint64 `json:"proposal_id"`
	Model       string `json:"model"`
	Affirmative int64  `json:"affirmative"`
	Baseline    int64  `json:"baseline"`
	Passed      bool   `json:"passed"`
	ComputedAt  string `json:"computed_at"`
}

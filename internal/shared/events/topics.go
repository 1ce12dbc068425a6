package events

// Topic names equal the event_type of the envelopes published on them.
// Bootstrap and tests reference these when wiring relays and consumers;
// context code keeps its own local constants to respect module boundaries.
const (
	TopicProposalCreated   = "governance.proposal_created"
	TopicVotingStarted     = "governance.voting_started"
	TopicVoteCast          = "governance.vote_cast"
	TopicProposalFinalized = "governance.proposal_finalized"

	TopicFractionCreated = "custody.fraction_created"
	TopicTokensLocked    = "custody.tokens_locked"
	TopicTokensUnlocked  = "custody.tokens_unlocked"

	TopicOperatorGranted = "access.operator_granted"
	TopicOperatorRevoked = "access.operator_revoked"

	TopicBalanceUpdated = "assets.balance_updated"
	TopicSupplyChanged  = "assets.supply_changed"
)

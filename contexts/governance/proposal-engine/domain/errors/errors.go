package errors

import "errors"

var (
	ErrProposalNotFound      = errors.New("proposal not found")
	ErrVoteNotFound          = errors.New("vote record not found")
	ErrFractionPollNotFound  = errors.New("fraction poll not found")
	ErrInvalidTitle          = errors.New("proposal title is required")
	ErrInvalidCreator        = errors.New("proposal creator is required")
	ErrInvalidVoter          = errors.New("voter id is required")
	ErrInvalidDeadline       = errors.New("deadline must be in the future")
	ErrInvalidWindow         = errors.New("invalid voting window")
	ErrInvalidOption         = errors.New("option is not declared on the proposal")
	ErrInvalidBaseline       = errors.New("supply baseline must be positive")
	ErrUnsupportedWeightMode = errors.New("unsupported weight mode")
	ErrUnsupportedModel      = errors.New("unsupported governance model")

	ErrVotingNotStarted = errors.New("voting has not started")
	ErrVotingClosed     = errors.New("voting window is closed")
	ErrAlreadyVoted     = errors.New("voter already voted on this proposal")
	ErrNoVotingWeight   = errors.New("voter holds no voting weight")
	ErrTooEarly         = errors.New("voting deadline has not passed")
	ErrAlreadyFinalized = errors.New("proposal is already finalized")

	ErrFractionAlreadyLinked = errors.New("fraction already has a linked poll")
	ErrNotAuthorized         = errors.New("caller is not an authorized operator")

	ErrConflict               = errors.New("governance conflict")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
)

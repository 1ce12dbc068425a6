package errors

import "errors"

var (
	ErrOperatorNotFound       = errors.New("operator not found")
	ErrInvalidOperatorID      = errors.New("operator id is required")
	ErrOperatorAlreadyGranted = errors.New("operator is already granted")
	ErrOperatorNotGranted     = errors.New("operator is not granted")
	ErrForbidden              = errors.New("actor is not an active operator")

	ErrConflict               = errors.New("access conflict")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
)

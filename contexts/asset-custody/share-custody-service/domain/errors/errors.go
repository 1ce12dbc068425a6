package errors

import "errors"

var (
	ErrLockNotFound     = errors.New("balance lock not found")
	ErrFractionNotFound = errors.New("fraction not found")
	ErrFractionExists   = errors.New("fraction id already registered")

	ErrInvalidHolder     = errors.New("holder id is required")
	ErrInvalidShareClass = errors.New("share class id is required")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidUnlockTime = errors.New("unlock time must be in the future")
	ErrInvalidFraction   = errors.New("fraction id is required")
	ErrInvalidAsset      = errors.New("asset id is required")
	ErrInvalidOwner      = errors.New("nominal owner is required")
	ErrInvalidSupply     = errors.New("total minted must be positive")

	ErrInsufficientBalance = errors.New("locked amount would exceed projected balance")
	ErrInsufficientLocked  = errors.New("amount exceeds locked balance")
	ErrUnlockTooEarly      = errors.New("lock has not reached its unlock time")

	ErrNotAuthorized = errors.New("caller is not an authorized operator")

	ErrConflict               = errors.New("custody conflict")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
)

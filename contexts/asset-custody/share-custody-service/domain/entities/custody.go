package entities

import "time"

// BalanceLock is the accumulated locked amount for one (holder, share class)
// pair. Repeated locks add to Amount and keep the later unlock time; unlocking
// subtracts, and removing the full amount clears the row.
type BalanceLock struct {
	HolderID     string
	ShareClassID string
	Amount       int64
	UnlockAt     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Unlockable reports whether the lock may be released at the given instant.
// Release is allowed at or after UnlockAt.
func (l BalanceLock) Unlockable(now time.Time) bool {
	return !now.UTC().Before(l.UnlockAt.UTC())
}

// FractionEntry is the ownership record for a fractionalized asset. The
// linked governance poll lives in the governance context, keyed by FractionID.
type FractionEntry struct {
	FractionID    string
	AssetID       string
	TotalMinted   int64
	TrackedAmount int64
	NominalOwner  string
	CreatedAt     time.Time
}

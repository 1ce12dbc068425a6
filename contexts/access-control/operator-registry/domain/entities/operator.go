package entities

import "time"

// OperatorGrant is one operator authorization. A grant is active until
// revoked; revocation keeps the row for auditability.
type OperatorGrant struct {
	OperatorID string
	GrantedBy  string
	Reason     string
	GrantedAt  time.Time
	RevokedAt  *time.Time
}

// Active reports whether the grant currently authorizes the operator.
func (g OperatorGrant) Active() bool {
	return g.RevokedAt == nil
}

package http

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GrantOperatorRequest struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason,omitempty"`
}

type RevokeOperatorRequest struct {
	OperatorID string `json:"operator_id"`
	Reason     string `json:"reason,omitempty"`
}

type OperatorResponse struct {
	OperatorID string `json:"operator_id"`
	GrantedBy  string `json:"granted_by"`
	Reason     string `json:"reason,omitempty"`
	GrantedAt  string `json:"granted_at"`
	RevokedAt  string `json:"revoked_at,omitempty"`
	Active     bool   `json:"active"`
	Replayed   bool   `json:"replayed,omitempty"`
}

type OperatorListResponse struct {
	Items []OperatorResponse `json:"items"`
}

type OperatorCheckResponse struct {
	OperatorID string `json:"operator_id"`
	Authorized bool   `json:"authorized"`
}

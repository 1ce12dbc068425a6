package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type LockTokensRequest struct {
	ShareClassID string `json:"share_class_id"`
	Amount       int64  `json:"amount"`
	UnlockAt     string `json:"unlock_at"`
}

type UnlockTokensRequest struct {
	ShareClassID string `json:"share_class_id"`
	// Amount zero releases the full locked amount.
	Amount int64 `json:"amount,omitempty"`
}

type RegisterFractionRequest struct {
	FractionID     string `json:"fraction_id"`
	AssetID        string `json:"asset_id"`
	TotalMinted    int64  `json:"total_minted"`
	NominalOwner   string `json:"nominal_owner"`
	VotingDeadline string `json:"voting_deadline,omitempty"`
}

type LockResponse struct {
	HolderID     string `json:"holder_id"`
	ShareClassID string `json:"share_class_id"`
	Amount       int64  `json:"amount"`
	UnlockAt     string `json:"unlock_at"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Replayed     bool   `json:"replayed,omitempty"`
}

type UnlockResponse struct {
	HolderID     string `json:"holder_id"`
	ShareClassID string `json:"share_class_id"`
	Released     int64  `json:"released"`
	LockedTotal  int64  `json:"locked_total"`
	Replayed     bool   `json:"replayed,omitempty"`
}

type LockListResponse struct {
	Items []LockResponse `json:"items"`
}

type HoldingResponse struct {
	HolderID     string `json:"holder_id"`
	ShareClassID string `json:"share_class_id"`
	Amount       int64  `json:"amount"`
	Locked       int64  `json:"locked"`
	Spendable    int64  `json:"spendable"`
}

type FractionResponse struct {
	FractionID    string `json:"fraction_id"`
	AssetID       string `json:"asset_id"`
	TotalMinted   int64  `json:"total_minted"`
	TrackedAmount int64  `json:"tracked_amount"`
	NominalOwner  string `json:"nominal_owner"`
	CreatedAt     string `json:"created_at"`
	Replayed      bool   `json:"replayed,omitempty"`
}

type FractionListResponse struct {
	Items []FractionResponse `json:"items"`
}

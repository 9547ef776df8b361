package contracts

import "time"

// BurnType categorizes an on-chain token expenditure.
type BurnType string

const (
	BurnBaseFiling BurnType = "base_filing"
	BurnEscalated  BurnType = "escalated"
	BurnSuccess    BurnType = "success"
	BurnLoadScaled BurnType = "load_scaled"
)

// BurnRecord is one priced submission or settlement-closure expenditure.
type BurnRecord struct {
	ID           string    `json:"id"`
	Type         BurnType  `json:"type"`
	Author       string    `json:"author"`
	Amount       float64   `json:"amount"`
	IntentHash   string    `json:"intent_hash,omitempty"`
	SettlementID string    `json:"settlement_id,omitempty"`
	Multiplier   float64   `json:"multiplier"`
	Timestamp    time.Time `json:"timestamp"`
	TxHash       string    `json:"tx_hash,omitempty"`
}

// UserDaily tracks one author's submissions for one UTC calendar day.
// Exists iff at least one submission was recorded that day.
type UserDaily struct {
	Author           string    `json:"author"`
	Date             string    `json:"date"` // YYYY-MM-DD, UTC
	SubmissionCount  int       `json:"submission_count"`
	TotalBurned      float64   `json:"total_burned"`
	LastSubmissionAt time.Time `json:"last_submission_at"`
}

// DepositStatus tracks anti-Sybil escrow lifecycle.
type DepositStatus string

const (
	DepositActive    DepositStatus = "active"
	DepositRefunded  DepositStatus = "refunded"
	DepositForfeited DepositStatus = "forfeited"
)

// Deposit is an anti-Sybil escrow taken past the daily free limit.
type Deposit struct {
	DepositID      string        `json:"deposit_id"`
	Author         string        `json:"author"`
	IntentHash     string        `json:"intent_hash"`
	Amount         float64       `json:"amount"`
	SubmittedAt    time.Time     `json:"submitted_at"`
	RefundDeadline time.Time     `json:"refund_deadline"`
	Status         DepositStatus `json:"status"`
}

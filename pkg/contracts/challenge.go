package contracts

import "time"

// Challenge contests a peer mediator's settlement as contradicting one of
// its underlying intents.
type Challenge struct {
	ChallengeID  string    `json:"challenge_id,omitempty"`
	SettlementID string    `json:"settlement_id"`
	ChallengerID string    `json:"challenger_id"`
	Reason       string    `json:"reason"`
	Severity     string    `json:"severity"` // low | medium | high
	Confidence   float64   `json:"confidence"`
	SubmittedAt  time.Time `json:"submitted_at"`
	Signature    string    `json:"signature,omitempty"`
}

// VerificationRequest asks peers to independently paraphrase and approve a
// high-value settlement.
type VerificationRequest struct {
	RequestID    string    `json:"request_id"`
	SettlementID string    `json:"settlement_id"`
	RequesterID  string    `json:"requester_id"`
	Statement    string    `json:"statement"`
	Deadline     time.Time `json:"deadline"`
}

// VerificationResponse is one verifier's independent paraphrase verdict.
type VerificationResponse struct {
	RequestID  string `json:"request_id"`
	VerifierID string `json:"verifier_id"`
	Summary    string `json:"summary"`
	Approved   bool   `json:"approved"`
}

// SpamProof accuses an author of spam submissions, forfeiting their deposit
// when validated before the refund deadline.
type SpamProof struct {
	ProofID     string    `json:"proof_id,omitempty"`
	Author      string    `json:"author"`
	DepositID   string    `json:"deposit_id"`
	Prose       string    `json:"prose"`
	SubmittedAt time.Time `json:"submitted_at"`
	Signature   string    `json:"signature,omitempty"`
}

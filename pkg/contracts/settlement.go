package contracts

import "time"

// SettlementStatus tracks the lifecycle of a proposed settlement.
// Forward-only: proposed → ratified → finalized. Contested and reversed are
// terminal-for-finality side branches.
type SettlementStatus string

const (
	SettlementProposed  SettlementStatus = "proposed"
	SettlementRatified  SettlementStatus = "ratified"
	SettlementFinalized SettlementStatus = "finalized"
	SettlementContested SettlementStatus = "contested"
	SettlementReversed  SettlementStatus = "reversed"
)

// Declaration is one party's signed statement affirming a settlement.
type Declaration struct {
	Party           string    `json:"party"`
	Statement       string    `json:"statement,omitempty"`
	HumanAuthorship bool      `json:"human_authorship"`
	Signature       string    `json:"signature,omitempty"`
	DeclaredAt      time.Time `json:"declared_at"`
}

// SettlementStage is one step of a staged settlement. Stages complete
// strictly in order 1..N.
type SettlementStage struct {
	Index       int        `json:"index"`
	Description string     `json:"description,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
}

// ProposedSettlement is a prose agreement binding two intents.
// IntentHashA < IntentHashB by byte order (canonical orientation; required
// for work-claim key uniqueness).
type ProposedSettlement struct {
	ID          string           `json:"id"`
	IntentHashA string           `json:"intent_hash_a"`
	IntentHashB string           `json:"intent_hash_b"`
	MediatorID  string           `json:"mediator_id"`
	Stake       float64          `json:"stake,omitempty"`
	Value       float64          `json:"value,omitempty"`
	Statement   string           `json:"statement"`
	Status      SettlementStatus `json:"status"`

	RequiredParties []string          `json:"required_parties,omitempty"`
	Declarations    []Declaration     `json:"declarations,omitempty"`
	Stages          []SettlementStage `json:"stages,omitempty"`

	ReferencedReceipts []string `json:"referenced_receipts,omitempty"`
	ReferencedLicenses []string `json:"referenced_licenses,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	RatifiedAt  *time.Time `json:"ratified_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	ContestedAt *time.Time `json:"contested_at,omitempty"`

	DisputeID            string `json:"dispute_id,omitempty"`
	ReversalSettlementID string `json:"reversal_settlement_id,omitempty"`

	SettlementHash string `json:"settlement_hash,omitempty"`
	Signature      string `json:"signature,omitempty"`
	Immutable      bool   `json:"immutable"`
}

// ReferencedItems returns every artifact hash/ID the settlement depends on.
func (s *ProposedSettlement) ReferencedItems() []string {
	refs := []string{s.IntentHashA, s.IntentHashB}
	refs = append(refs, s.ReferencedReceipts...)
	return refs
}

// HasDeclarationFrom reports whether party has already declared.
func (s *ProposedSettlement) HasDeclarationFrom(party string) bool {
	for _, d := range s.Declarations {
		if d.Party == party {
			return true
		}
	}
	return false
}

// SettlementRisk records a blocking validation failure observed at
// initiation time.
type SettlementRisk struct {
	RiskID       string    `json:"risk_id"`
	SettlementID string    `json:"settlement_id"`
	Severity     string    `json:"severity"`
	Reason       string    `json:"reason"`
	RecordedAt   time.Time `json:"recorded_at"`
}

package contracts

import "time"

// DisputeStatus tracks dispute escalation state. A dispute is active while
// its status is anything other than resolved.
type DisputeStatus string

const (
	DisputeInitiated   DisputeStatus = "initiated"
	DisputeUnderReview DisputeStatus = "under_review"
	DisputeClarifying  DisputeStatus = "clarifying"
	DisputeEscalated   DisputeStatus = "escalated"
	DisputeResolved    DisputeStatus = "resolved"
)

// Active reports whether the status still gates ratification of settlements
// that reference the contested items.
func (s DisputeStatus) Active() bool {
	return s != DisputeResolved && s != ""
}

// ContestedItem names one artifact under dispute.
type ContestedItem struct {
	Type string `json:"type"` // intent | settlement | receipt
	ID   string `json:"id"`
}

// TimelineEvent is one entry of a dispute's monotonic event sequence.
type TimelineEvent struct {
	Sequence int       `json:"sequence"`
	Type     string    `json:"type"`
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Dispute is a contest over one or more artifacts.
type Dispute struct {
	DisputeID      string          `json:"dispute_id"`
	Status         DisputeStatus   `json:"status"`
	Claimant       string          `json:"claimant"`
	Respondent     string          `json:"respondent,omitempty"`
	ContestedItems []ContestedItem `json:"contested_items"`
	FrozenItems    []string        `json:"frozen_items,omitempty"`
	Timeline       []TimelineEvent `json:"timeline,omitempty"`
	OpenedAt       time.Time       `json:"opened_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// FrozenItemStatus tracks the freeze lifecycle of a disputed artifact.
type FrozenItemStatus string

const (
	FrozenUnderDispute    FrozenItemStatus = "under_dispute"
	FrozenDisputeResolved FrozenItemStatus = "dispute_resolved"
)

// MutationAttempt logs a rejected write against a frozen item.
type MutationAttempt struct {
	Actor       string    `json:"actor,omitempty"`
	Operation   string    `json:"operation"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// FrozenItem is an artifact made temporarily immutable by an open dispute.
type FrozenItem struct {
	ItemID           string            `json:"item_id"`
	ItemType         string            `json:"item_type"`
	DisputeID        string            `json:"dispute_id"`
	SnapshotHash     string            `json:"snapshot_hash"`
	Status           FrozenItemStatus  `json:"status"`
	FrozenAt         time.Time         `json:"frozen_at"`
	MutationAttempts []MutationAttempt `json:"mutation_attempts,omitempty"`
}

// ResolutionOutcome classifies how a dispute concluded.
type ResolutionOutcome string

const (
	OutcomeClaimantFavored   ResolutionOutcome = "claimant_favored"
	OutcomeRespondentFavored ResolutionOutcome = "respondent_favored"
	OutcomeCompromise        ResolutionOutcome = "compromise"
	OutcomeDismissed         ResolutionOutcome = "dismissed"
	OutcomeOther             ResolutionOutcome = "other"
)

// Resolution is the immutable record of a dispute's outcome. Once written,
// no field may change.
type Resolution struct {
	ResolutionID string            `json:"resolution_id"`
	DisputeID    string            `json:"dispute_id"`
	Outcome      ResolutionOutcome `json:"outcome"`
	Punitive     bool              `json:"punitive,omitempty"`
	Rationale    string            `json:"rationale,omitempty"`
	IsImmutable  bool              `json:"is_immutable"`
	ResolvedAt   time.Time         `json:"resolved_at"`
}

// EvidenceEntry attaches a piece of evidence to a dispute.
type EvidenceEntry struct {
	EvidenceID string    `json:"evidence_id"`
	DisputeID  string    `json:"dispute_id"`
	ItemID     string    `json:"item_id"`
	ItemType   string    `json:"item_type"`
	Summary    string    `json:"summary,omitempty"`
	Hash       string    `json:"hash,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// ClarificationRecord captures one clarification exchange during the
// clarifying or escalated phase.
type ClarificationRecord struct {
	ClarificationID string    `json:"clarification_id"`
	DisputeID       string    `json:"dispute_id"`
	Party           string    `json:"party"`
	Prose           string    `json:"prose"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// DisputePackage is the verifiable bundle collated for escalation.
type DisputePackage struct {
	PackageID      string                `json:"package_id"`
	DisputeID      string                `json:"dispute_id"`
	PackageHash    string                `json:"package_hash"`
	Dispute        *Dispute              `json:"dispute"`
	Evidence       []EvidenceEntry       `json:"evidence,omitempty"`
	Clarifications []ClarificationRecord `json:"clarifications,omitempty"`
	Intents        []Intent              `json:"intents,omitempty"`
	Settlements    []ProposedSettlement  `json:"settlements,omitempty"`
	Receipts       []EffortReceipt       `json:"receipts,omitempty"`
	BuiltAt        time.Time             `json:"built_at"`
}

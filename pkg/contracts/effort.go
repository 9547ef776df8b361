package contracts

import "time"

// Signal is one raw activity observation from a capture modality.
type Signal struct {
	ID        string    `json:"id"`
	Modality  string    `json:"modality"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Hash      string    `json:"hash"`
}

// SegmentationStrategy selects the deterministic grouping rule for signals.
type SegmentationStrategy string

const (
	SegmentTimeWindow       SegmentationStrategy = "time_window"
	SegmentActivityBoundary SegmentationStrategy = "activity_boundary"
	SegmentHybrid           SegmentationStrategy = "hybrid"
)

// Segment groups consecutive signals under one segmentation rule.
type Segment struct {
	SegmentID string               `json:"segment_id"`
	Strategy  SegmentationStrategy `json:"strategy"`
	Signals   []Signal             `json:"signals"`
	StartedAt time.Time            `json:"started_at"`
	EndedAt   time.Time            `json:"ended_at"`
}

// ValidationScores is the four-score rubric tuple, each in [0,1].
// A failed validation yields all zeros plus explanatory flags; segments are
// never lost.
type ValidationScores struct {
	Coherence   float64  `json:"coherence"`
	Progression float64  `json:"progression"`
	Consistency float64  `json:"consistency"`
	Synthesis   float64  `json:"synthesis"`
	Flags       []string `json:"flags,omitempty"`
}

// ReceiptStatus tracks an effort receipt through its lifecycle.
type ReceiptStatus string

const (
	ReceiptDraft     ReceiptStatus = "draft"
	ReceiptValidated ReceiptStatus = "validated"
	ReceiptAnchored  ReceiptStatus = "anchored"
	ReceiptVerified  ReceiptStatus = "verified"
)

// EffortReceipt attests that a segment of human work occurred.
// PriorReceipts chains receipts into a linked tape for audit; ReceiptHash is
// SHA-256 of the canonical JSON of the hashable fields.
type EffortReceipt struct {
	ReceiptID       string           `json:"receipt_id"`
	SegmentID       string           `json:"segment_id"`
	SignalHashes    []string         `json:"signal_hashes"`
	Scores          ValidationScores `json:"scores"`
	PriorReceipts   []string         `json:"prior_receipts,omitempty"`
	ReceiptHash     string           `json:"receipt_hash"`
	Status          ReceiptStatus    `json:"status"`
	LedgerReference string           `json:"ledger_reference,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

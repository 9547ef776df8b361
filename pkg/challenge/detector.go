// Package challenge scans peer mediators' settlements for contradictions
// with their underlying intents and submits signed challenges to the chain.
package challenge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/llm"
)

const scanLimit = 50

// Chain is the slice of the ledger client the detector needs.
type Chain interface {
	RecentSettlements(ctx context.Context, limit int) ([]contracts.ProposedSettlement, error)
	FetchIntent(ctx context.Context, hash string) (*contracts.Intent, error)
	PostChallenge(ctx context.Context, ch *contracts.Challenge) (string, error)
}

// Detector periodically audits settlements authored by other mediators.
// A settlement is challenged at most once per process lifetime.
type Detector struct {
	mu            sync.Mutex
	chain         Chain
	llm           *llm.ContradictionDetector
	selfID        string
	minConfidence float64
	seen          map[string]bool
	logger        *slog.Logger
	clock         func() time.Time
}

// NewDetector wires the scanner.
func NewDetector(chain Chain, detector *llm.ContradictionDetector, selfID string, minConfidence float64, logger *slog.Logger) *Detector {
	return &Detector{
		chain:         chain,
		llm:           detector,
		selfID:        selfID,
		minConfidence: minConfidence,
		seen:          make(map[string]bool),
		logger:        logger,
		clock:         time.Now,
	}
}

// Scan runs one audit pass and returns the number of challenges submitted.
// Per-settlement failures are logged and skipped; a pass never fails.
func (d *Detector) Scan(ctx context.Context) int {
	settlements, err := d.chain.RecentSettlements(ctx, scanLimit)
	if err != nil {
		d.logger.WarnContext(ctx, "settlement scan fetch failed", "error", err)
		return 0
	}

	submitted := 0
	for i := range settlements {
		s := &settlements[i]
		if s.MediatorID == d.selfID || s.ID == "" {
			continue
		}
		d.mu.Lock()
		if d.seen[s.ID] {
			d.mu.Unlock()
			continue
		}
		d.seen[s.ID] = true
		d.mu.Unlock()

		if d.audit(ctx, s) {
			submitted++
		}
		if ctx.Err() != nil {
			break
		}
	}
	return submitted
}

// audit checks one settlement and posts a challenge when the detector is
// confident enough and the severity is at least medium.
func (d *Detector) audit(ctx context.Context, s *contracts.ProposedSettlement) bool {
	intentA, err := d.chain.FetchIntent(ctx, s.IntentHashA)
	if err != nil {
		d.logger.DebugContext(ctx, "challenge audit skipped, intent unavailable",
			"settlement_id", s.ID, "intent", s.IntentHashA, "error", err)
		return false
	}
	intentB, err := d.chain.FetchIntent(ctx, s.IntentHashB)
	if err != nil {
		d.logger.DebugContext(ctx, "challenge audit skipped, intent unavailable",
			"settlement_id", s.ID, "intent", s.IntentHashB, "error", err)
		return false
	}

	report, err := d.llm.Detect(ctx, s.Statement, intentA, intentB)
	if err != nil {
		d.logger.WarnContext(ctx, "contradiction detection failed",
			"settlement_id", s.ID, "error", err)
		return false
	}
	if !report.Contradicts || report.Confidence < d.minConfidence || !severityAtLeastMedium(report.Severity) {
		return false
	}

	ch := &contracts.Challenge{
		SettlementID: s.ID,
		ChallengerID: d.selfID,
		Reason:       report.Reason,
		Severity:     report.Severity,
		Confidence:   report.Confidence,
		SubmittedAt:  d.clock(),
	}
	challengeID, err := d.chain.PostChallenge(ctx, ch)
	if err != nil {
		d.logger.WarnContext(ctx, "challenge submission failed",
			"settlement_id", s.ID, "error", err)
		return false
	}
	d.logger.InfoContext(ctx, "challenge submitted",
		"challenge_id", challengeID, "settlement_id", s.ID,
		"severity", report.Severity, "confidence", report.Confidence)
	return true
}

func severityAtLeastMedium(severity string) bool {
	return severity == "medium" || severity == "high"
}

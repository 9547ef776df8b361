package effort

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// SegmentValidator scores one segment against the rubric. The LLM-backed
// implementation lives in pkg/llm; failures there yield the all-zero
// fallback so a segment is never lost.
type SegmentValidator interface {
	ValidateSegment(ctx context.Context, seg *contracts.Segment) contracts.ValidationScores
}

// Store is the persistence slice used by the receipt engine.
type Store interface {
	Save(id string, v interface{}) error
	Delete(id string) error
	LoadEach(newTarget func() interface{}, fn func(id string, v interface{})) error
}

// receiptHashable is the subset covered by the receipt hash.
type receiptHashable struct {
	ReceiptID     string                     `json:"receipt_id"`
	SegmentID     string                     `json:"segment_id"`
	SignalHashes  []string                   `json:"signal_hashes"`
	Scores        contracts.ValidationScores `json:"scores"`
	PriorReceipts []string                   `json:"prior_receipts"`
}

// Engine turns segments into hash-chained receipts. The chain is a linked
// tape: each receipt's hash mixes in the IDs of the receipts before it.
type Engine struct {
	mu        sync.Mutex
	segmenter *Segmenter
	validator SegmentValidator
	store     Store
	retention time.Duration
	logger    *slog.Logger
	clock     func() time.Time

	receipts map[string]*contracts.EffortReceipt
	tape     []string // receipt IDs in creation order
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithEngineClock injects a time source for tests.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine rehydrates receipts from the store. Tape order is recovered
// from CreatedAt.
func NewEngine(segmenter *Segmenter, validator SegmentValidator, st Store, retention time.Duration, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		segmenter: segmenter,
		validator: validator,
		store:     st,
		retention: retention,
		logger:    logger,
		clock:     time.Now,
		receipts:  make(map[string]*contracts.EffortReceipt),
	}
	for _, opt := range opts {
		opt(e)
	}
	var loaded []*contracts.EffortReceipt
	_ = st.LoadEach(
		func() interface{} { return &contracts.EffortReceipt{} },
		func(id string, v interface{}) {
			loaded = append(loaded, v.(*contracts.EffortReceipt))
		})
	for _, r := range loaded {
		e.receipts[r.ReceiptID] = r
	}
	e.tape = make([]string, 0, len(loaded))
	for _, r := range loaded {
		e.tape = append(e.tape, r.ReceiptID)
	}
	sortTape(e.tape, e.receipts)
	return e
}

func sortTape(tape []string, receipts map[string]*contracts.EffortReceipt) {
	for i := 1; i < len(tape); i++ {
		for j := i; j > 0; j-- {
			a, b := receipts[tape[j-1]], receipts[tape[j]]
			if a.CreatedAt.After(b.CreatedAt) {
				tape[j-1], tape[j] = tape[j], tape[j-1]
			} else {
				break
			}
		}
	}
}

// ProcessSignals runs the full pipeline: segment, validate, emit receipts.
// Receipts emit in segment order and each one chains the tape before it.
func (e *Engine) ProcessSignals(ctx context.Context, signals []contracts.Signal) ([]contracts.EffortReceipt, error) {
	segments := e.segmenter.Segment(signals)
	out := make([]contracts.EffortReceipt, 0, len(segments))
	for i := range segments {
		seg := &segments[i]
		scores := e.validator.ValidateSegment(ctx, seg)
		receipt, err := e.emit(seg, scores)
		if err != nil {
			return out, err
		}
		out = append(out, *receipt)
	}
	return out, nil
}

// emit builds one receipt. The hash is computed twice: once with the
// provisional UUID to mix in the prior tape, then finally with the
// suffixed receipt ID.
func (e *Engine) emit(seg *contracts.Segment, scores contracts.ValidationScores) (*contracts.EffortReceipt, error) {
	hashes := make([]string, len(seg.Signals))
	for i, sig := range seg.Signals {
		hashes[i] = sig.Hash
	}

	e.mu.Lock()
	prior := append([]string(nil), e.tape...)
	e.mu.Unlock()

	provisional := uuid.NewString()
	h := receiptHashable{
		ReceiptID:     provisional,
		SegmentID:     seg.SegmentID,
		SignalHashes:  hashes,
		Scores:        scores,
		PriorReceipts: prior,
	}
	firstPass, err := canonicalize.CanonicalHash(h)
	if err != nil {
		return nil, fmt.Errorf("provisional receipt hash: %w", err)
	}

	receiptID := provisional
	if len(hashes) > 0 {
		receiptID = provisional + "-" + hashes[0][:8]
	} else {
		receiptID = provisional + "-" + firstPass[:8]
	}
	h.ReceiptID = receiptID
	final, err := canonicalize.CanonicalHash(h)
	if err != nil {
		return nil, fmt.Errorf("final receipt hash: %w", err)
	}

	receipt := &contracts.EffortReceipt{
		ReceiptID:     receiptID,
		SegmentID:     seg.SegmentID,
		SignalHashes:  hashes,
		Scores:        scores,
		PriorReceipts: prior,
		ReceiptHash:   final,
		Status:        contracts.ReceiptDraft,
		CreatedAt:     e.clock(),
	}
	if len(scores.Flags) == 0 {
		receipt.Status = contracts.ReceiptValidated
	}

	e.mu.Lock()
	e.receipts[receiptID] = receipt
	e.tape = append(e.tape, receiptID)
	e.mu.Unlock()

	if err := e.store.Save(receiptID, receipt); err != nil {
		return nil, fmt.Errorf("persist receipt %s: %w", receiptID, err)
	}
	copied := *receipt
	return &copied, nil
}

// Anchor records the ledger reference and moves the receipt to anchored.
func (e *Engine) Anchor(receiptID, ledgerReference string) error {
	return e.transition(receiptID, contracts.ReceiptAnchored, func(r *contracts.EffortReceipt) string {
		if r.Status != contracts.ReceiptValidated {
			return fmt.Sprintf("receipt is %s, need validated", r.Status)
		}
		r.LedgerReference = ledgerReference
		return ""
	})
}

// MarkVerified moves an anchored receipt to verified.
func (e *Engine) MarkVerified(receiptID string) error {
	return e.transition(receiptID, contracts.ReceiptVerified, func(r *contracts.EffortReceipt) string {
		if r.Status != contracts.ReceiptAnchored {
			return fmt.Sprintf("receipt is %s, need anchored", r.Status)
		}
		return ""
	})
}

func (e *Engine) transition(receiptID string, to contracts.ReceiptStatus, gate func(*contracts.EffortReceipt) string) error {
	e.mu.Lock()
	r, ok := e.receipts[receiptID]
	if !ok {
		e.mu.Unlock()
		return &errs.ValidationError{Op: "ReceiptTransition", Reason: "receipt not found"}
	}
	prev := *r
	if reason := gate(r); reason != "" {
		*r = prev
		e.mu.Unlock()
		return &errs.ValidationError{Op: "ReceiptTransition", Reason: reason}
	}
	r.Status = to
	copied := *r
	e.mu.Unlock()

	if err := e.store.Save(receiptID, &copied); err != nil {
		e.mu.Lock()
		*r = prev
		e.mu.Unlock()
		return fmt.Errorf("persist receipt %s: %w", receiptID, err)
	}
	return nil
}

// Receipt returns a copy by ID, or nil. This is the settlement validator's
// receipt gate.
func (e *Engine) Receipt(receiptID string) *contracts.EffortReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.receipts[receiptID]; ok {
		copied := *r
		return &copied
	}
	return nil
}

// Tape returns the receipt IDs in chain order.
func (e *Engine) Tape() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.tape))
	copy(out, e.tape)
	return out
}

// VerifyChain re-hashes every receipt on the tape and checks that its prior
// list ends with the tape before it. A receipt may list more priors than the
// tape holds: retention sweeps drop old receipts from the tape but the prior
// lists of survivors are immutable, so only the suffix that falls inside the
// current tape is checked. Returns the first broken receipt ID.
func (e *Engine) VerifyChain() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, id := range e.tape {
		r := e.receipts[id]
		recomputed, err := canonicalize.CanonicalHash(receiptHashable{
			ReceiptID:     r.ReceiptID,
			SegmentID:     r.SegmentID,
			SignalHashes:  r.SignalHashes,
			Scores:        r.Scores,
			PriorReceipts: r.PriorReceipts,
		})
		if err != nil || recomputed != r.ReceiptHash {
			return id, false
		}
		swept := len(r.PriorReceipts) - i
		if swept < 0 {
			return id, false
		}
		for j := 0; j < i; j++ {
			if r.PriorReceipts[swept+j] != e.tape[j] {
				return id, false
			}
		}
	}
	return "", true
}

// RetentionSweep deletes receipts older than the retention window. The tape
// is re-based so remaining receipts keep their relative order.
func (e *Engine) RetentionSweep(ctx context.Context) int {
	cutoff := e.clock().Add(-e.retention)
	e.mu.Lock()
	var expired []string
	kept := e.tape[:0]
	for _, id := range e.tape {
		if e.receipts[id].CreatedAt.Before(cutoff) {
			expired = append(expired, id)
			delete(e.receipts, id)
		} else {
			kept = append(kept, id)
		}
	}
	e.tape = kept
	e.mu.Unlock()

	for _, id := range expired {
		if err := e.store.Delete(id); err != nil {
			e.logger.WarnContext(ctx, "receipt delete failed", "receipt_id", id, "error", err)
		}
	}
	return len(expired)
}

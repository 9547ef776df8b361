// Package settlement implements the settlement lifecycle: proposal,
// declarations, ratification, staged completion, finalization, and the
// contested/reversed side branches.
//
// The state machine is forward-only. The settlement hash covers the
// canonical JSON of (id, intent hashes, required parties, declarations,
// statement, ratifiedAt, finalizedAt) and is recomputed on every state
// change; once Immutable is set, a changed hash is a protocol violation.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/crypto"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Store is the persistence slice used by the machine.
type Store interface {
	Save(id string, v interface{}) error
	LoadEach(newTarget func() interface{}, fn func(id string, v interface{})) error
}

// Freezer records writes rejected against frozen artifacts. Wired to the
// dispute layer's evidence freezer; nil disables the hook.
type Freezer interface {
	IsFrozen(itemID string) bool
	RecordMutationAttempt(itemID, actor, operation string) bool
}

// hashable is the canonical subset covered by the settlement hash. Status
// and the reversal pointer are deliberately outside it so a reversal leaves
// the original hash intact.
type hashable struct {
	ID              string                  `json:"id"`
	IntentHashA     string                  `json:"intent_hash_a"`
	IntentHashB     string                  `json:"intent_hash_b"`
	RequiredParties []string                `json:"required_parties"`
	Declarations    []contracts.Declaration `json:"declarations"`
	Statement       string                  `json:"statement"`
	RatifiedAt      *time.Time              `json:"ratified_at"`
	FinalizedAt     *time.Time              `json:"finalized_at"`
}

// ComputeHash returns the settlement hash over the canonical subset.
func ComputeHash(s *contracts.ProposedSettlement) (string, error) {
	return canonicalize.CanonicalHash(hashable{
		ID:              s.ID,
		IntentHashA:     s.IntentHashA,
		IntentHashB:     s.IntentHashB,
		RequiredParties: s.RequiredParties,
		Declarations:    s.Declarations,
		Statement:       s.Statement,
		RatifiedAt:      s.RatifiedAt,
		FinalizedAt:     s.FinalizedAt,
	})
}

// Machine owns the settlement table. All mutations persist before returning
// and a failure path leaves the in-memory entry at its pre-call state.
type Machine struct {
	mu           sync.Mutex
	store        Store
	validator    *Validator
	freezer      Freezer
	logger       *slog.Logger
	clock        func() time.Time
	onSigFailure func(settlementID, party string)

	settlements map[string]*contracts.ProposedSettlement
	risks       []contracts.SettlementRisk
}

// Option customises a Machine.
type Option func(*Machine)

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) { m.clock = clock }
}

// WithFreezer wires the frozen-item hook.
func WithFreezer(f Freezer) Option {
	return func(m *Machine) { m.freezer = f }
}

// WithSignatureAudit registers a callback fired when a signed declaration
// fails verification. The node wires this to the audit stream.
func WithSignatureAudit(fn func(settlementID, party string)) Option {
	return func(m *Machine) { m.onSigFailure = fn }
}

// declarationPayload is the signed subset of a declaration. A signature,
// when present, covers the canonical JSON of this subset and verifies
// against the party identifier as a hex-encoded Ed25519 public key.
type declarationPayload struct {
	SettlementID    string `json:"settlement_id"`
	Party           string `json:"party"`
	Statement       string `json:"statement,omitempty"`
	HumanAuthorship bool   `json:"human_authorship"`
}

// NewMachine rehydrates the settlement table from the store. Entries whose
// recomputed hash disagrees with the stored one are dropped and logged.
func NewMachine(st Store, validator *Validator, logger *slog.Logger, opts ...Option) *Machine {
	m := &Machine{
		store:       st,
		validator:   validator,
		logger:      logger,
		clock:       time.Now,
		settlements: make(map[string]*contracts.ProposedSettlement),
	}
	for _, opt := range opts {
		opt(m)
	}

	_ = st.LoadEach(
		func() interface{} { return &contracts.ProposedSettlement{} },
		func(id string, v interface{}) {
			s := v.(*contracts.ProposedSettlement)
			recomputed, err := ComputeHash(s)
			if err != nil || recomputed != s.SettlementHash {
				logger.Error("settlement hash mismatch on rehydrate, dropping",
					"settlement_id", id, "error", err)
				return
			}
			m.settlements[s.ID] = s
		})
	return m
}

// Propose validates and records a new settlement. The intent pair is
// normalised to canonical orientation before anything else.
func (m *Machine) Propose(ctx context.Context, s *contracts.ProposedSettlement) error {
	s.IntentHashA, s.IntentHashB = contracts.ClaimKey(s.IntentHashA, s.IntentHashB)

	if s.IntentHashA == "" || s.IntentHashB == "" || s.IntentHashA == s.IntentHashB {
		return &errs.ValidationError{Op: "Propose", Reason: "a settlement needs two distinct intents"}
	}
	if m.freezer != nil {
		for _, ref := range s.ReferencedItems() {
			if m.freezer.IsFrozen(ref) {
				m.freezer.RecordMutationAttempt(ref, s.MediatorID, "propose_settlement")
				return &errs.ValidationError{Op: "Propose", Reason: fmt.Sprintf("referenced item %s is under dispute", ref)}
			}
		}
	}
	if warnings := m.validator.CheckProposal(ctx, s); len(warnings.Blocking) > 0 {
		m.recordRisk(s.ID, warnings.Blocking[0])
		return &errs.ValidationError{Op: "Propose", Reason: warnings.Blocking[0]}
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Status = contracts.SettlementProposed
	s.CreatedAt = m.clock()
	s.Immutable = false
	if err := m.rehash(s); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.settlements[s.ID]; exists {
		m.mu.Unlock()
		return &errs.ConflictError{Op: "Propose", Reason: "settlement id already recorded"}
	}
	copied := *s
	m.settlements[s.ID] = &copied
	if err := m.persist(s.ID); err != nil {
		delete(m.settlements, s.ID)
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "settlement proposed",
		"settlement_id", s.ID, "intent_a", s.IntentHashA, "intent_b", s.IntentHashB)
	return nil
}

// Declare records one party's declaration. When every required party has
// declared, the settlement ratifies and RatifiedAt is set. Each accepted
// declaration recomputes the hash.
func (m *Machine) Declare(ctx context.Context, settlementID string, d contracts.Declaration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return &errs.ValidationError{Op: "Declare", Reason: "settlement not found"}
	}
	if s.Immutable {
		return &errs.ConflictError{Op: "Declare", Reason: "settlement is immutable"}
	}
	if s.Status != contracts.SettlementProposed {
		return &errs.ValidationError{Op: "Declare", Reason: fmt.Sprintf("cannot declare against %s settlement", s.Status)}
	}
	if s.HasDeclarationFrom(d.Party) {
		return &errs.ConflictError{Op: "Declare", Reason: "party already declared"}
	}
	if d.Signature != "" {
		ok, err := crypto.VerifyEntry(d.Party, d.Signature, declarationPayload{
			SettlementID:    settlementID,
			Party:           d.Party,
			Statement:       d.Statement,
			HumanAuthorship: d.HumanAuthorship,
		})
		if err != nil || !ok {
			if m.onSigFailure != nil {
				m.onSigFailure(settlementID, d.Party)
			}
			m.logger.WarnContext(ctx, "declaration signature rejected",
				"settlement_id", settlementID, "party", d.Party, "error", err)
			return &errs.ValidationError{Op: "Declare", Reason: "declaration signature does not verify"}
		}
	}

	result := m.validator.CheckDeclaration(ctx, s, &d)
	if len(result.Blocking) > 0 {
		return &errs.ValidationError{Op: "Declare", Reason: result.Blocking[0]}
	}
	for _, w := range result.Advisory {
		m.logger.WarnContext(ctx, "declaration accepted with warning",
			"settlement_id", settlementID, "party", d.Party, "warning", w)
	}

	prevDecls := s.Declarations
	prevHash := s.SettlementHash
	prevStatus := s.Status
	prevRatified := s.RatifiedAt

	if d.DeclaredAt.IsZero() {
		d.DeclaredAt = m.clock()
	}
	s.Declarations = append(append([]contracts.Declaration(nil), s.Declarations...), d)

	if m.allPartiesDeclared(s) {
		// Ratification re-checks the freeze and dispute gates: an item may
		// have been disputed after the proposal was accepted.
		if reason := m.ratificationGate(s); reason != "" {
			s.Declarations = prevDecls
			return &errs.ValidationError{Op: "Declare", Reason: reason}
		}
		now := m.clock()
		s.Status = contracts.SettlementRatified
		s.RatifiedAt = &now
		if m.hasIncompleteStages(s) {
			m.logger.WarnContext(ctx, "settlement ratified with incomplete stages; it cannot finalize until all stages complete",
				"settlement_id", s.ID)
		}
	}

	if err := m.rehash(s); err != nil {
		s.Declarations, s.SettlementHash, s.Status, s.RatifiedAt = prevDecls, prevHash, prevStatus, prevRatified
		return err
	}
	if err := m.persist(s.ID); err != nil {
		s.Declarations, s.SettlementHash, s.Status, s.RatifiedAt = prevDecls, prevHash, prevStatus, prevRatified
		return err
	}
	m.logger.InfoContext(ctx, "declaration recorded",
		"settlement_id", s.ID, "party", d.Party, "status", s.Status)
	return nil
}

// ratificationGate re-runs the freeze and dispute checks at the moment of
// the proposed → ratified transition. Returns a reason or "".
func (m *Machine) ratificationGate(s *contracts.ProposedSettlement) string {
	if m.freezer != nil {
		for _, ref := range s.ReferencedItems() {
			if m.freezer.IsFrozen(ref) {
				m.freezer.RecordMutationAttempt(ref, s.MediatorID, "ratify_settlement")
				return fmt.Sprintf("referenced item %s is under dispute", ref)
			}
		}
	}
	if m.validator != nil {
		if reason := m.validator.activeDisputeReason(s); reason != "" {
			return reason
		}
	}
	return ""
}

// CompleteStage marks stage index (1-based) as completed. Stages complete
// strictly in order and none twice.
func (m *Machine) CompleteStage(ctx context.Context, settlementID string, index int, completedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return &errs.ValidationError{Op: "CompleteStage", Reason: "settlement not found"}
	}
	if s.Immutable {
		return &errs.ConflictError{Op: "CompleteStage", Reason: "settlement is immutable"}
	}
	if index < 1 || index > len(s.Stages) {
		return &errs.ValidationError{Op: "CompleteStage", Reason: fmt.Sprintf("stage %d out of range", index)}
	}
	stage := &s.Stages[index-1]
	if stage.CompletedAt != nil {
		return &errs.ConflictError{Op: "CompleteStage", Reason: fmt.Sprintf("stage %d already completed", index)}
	}
	for i := 0; i < index-1; i++ {
		if s.Stages[i].CompletedAt == nil {
			return &errs.ValidationError{Op: "CompleteStage", Reason: fmt.Sprintf("stage %d incomplete, stages complete in order", i+1)}
		}
	}

	now := m.clock()
	stage.CompletedAt = &now
	stage.CompletedBy = completedBy
	if err := m.persist(s.ID); err != nil {
		stage.CompletedAt = nil
		stage.CompletedBy = ""
		return err
	}
	m.logger.InfoContext(ctx, "settlement stage completed",
		"settlement_id", s.ID, "stage", index)
	return nil
}

// Finalize moves a ratified settlement to finalized and marks it immutable.
// Incomplete stages or an active dispute over a referenced item block it.
func (m *Machine) Finalize(ctx context.Context, settlementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return &errs.ValidationError{Op: "Finalize", Reason: "settlement not found"}
	}
	if s.Status != contracts.SettlementRatified {
		return &errs.ValidationError{Op: "Finalize", Reason: fmt.Sprintf("cannot finalize %s settlement", s.Status)}
	}
	if m.hasIncompleteStages(s) {
		return &errs.ValidationError{Op: "Finalize", Reason: "not all stages completed"}
	}
	if m.validator != nil {
		if reason := m.validator.activeDisputeReason(s); reason != "" {
			return &errs.ValidationError{Op: "Finalize", Reason: reason}
		}
	}

	prevHash := s.SettlementHash
	now := m.clock()
	s.Status = contracts.SettlementFinalized
	s.FinalizedAt = &now
	s.Immutable = true
	if err := m.rehash(s); err != nil {
		s.Status, s.FinalizedAt, s.Immutable, s.SettlementHash = contracts.SettlementRatified, nil, false, prevHash
		return err
	}
	if err := m.persist(s.ID); err != nil {
		s.Status, s.FinalizedAt, s.Immutable, s.SettlementHash = contracts.SettlementRatified, nil, false, prevHash
		return err
	}
	m.logger.InfoContext(ctx, "settlement finalized", "settlement_id", s.ID)
	return nil
}

// Contest marks a proposed or ratified settlement as contested by a dispute.
// Finalized settlements are not contestable.
func (m *Machine) Contest(ctx context.Context, settlementID, disputeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return &errs.ValidationError{Op: "Contest", Reason: "settlement not found"}
	}
	switch s.Status {
	case contracts.SettlementProposed, contracts.SettlementRatified:
	default:
		return &errs.ValidationError{Op: "Contest", Reason: fmt.Sprintf("%s settlement is not contestable", s.Status)}
	}
	if disputeID == "" {
		return &errs.ValidationError{Op: "Contest", Reason: "dispute id required"}
	}

	prevStatus, prevDispute, prevAt := s.Status, s.DisputeID, s.ContestedAt
	now := m.clock()
	s.Status = contracts.SettlementContested
	s.DisputeID = disputeID
	s.ContestedAt = &now
	if err := m.persist(s.ID); err != nil {
		s.Status, s.DisputeID, s.ContestedAt = prevStatus, prevDispute, prevAt
		return err
	}
	m.logger.InfoContext(ctx, "settlement contested",
		"settlement_id", s.ID, "dispute_id", disputeID)
	return nil
}

// Reverse links a finalized settlement to a subsequent reversal settlement.
// The original stays immutable; only the status and the pointer change, and
// neither is inside the hashed subset.
func (m *Machine) Reverse(ctx context.Context, settlementID, reversalSettlementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settlements[settlementID]
	if !ok {
		return &errs.ValidationError{Op: "Reverse", Reason: "settlement not found"}
	}
	if s.Status != contracts.SettlementFinalized {
		return &errs.ValidationError{Op: "Reverse", Reason: "only finalized settlements can be reversed"}
	}
	if reversalSettlementID == "" || reversalSettlementID == settlementID {
		return &errs.ValidationError{Op: "Reverse", Reason: "reversal must reference a distinct settlement"}
	}
	if s.ReversalSettlementID != "" {
		return &errs.ConflictError{Op: "Reverse", Reason: "settlement already reversed"}
	}

	s.Status = contracts.SettlementReversed
	s.ReversalSettlementID = reversalSettlementID
	if err := m.persist(s.ID); err != nil {
		s.Status = contracts.SettlementFinalized
		s.ReversalSettlementID = ""
		return err
	}
	m.logger.InfoContext(ctx, "settlement reversed",
		"settlement_id", s.ID, "reversal_settlement_id", reversalSettlementID)
	return nil
}

// Get returns a copy of one settlement, or nil.
func (m *Machine) Get(settlementID string) *contracts.ProposedSettlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settlements[settlementID]; ok {
		copied := *s
		return &copied
	}
	return nil
}

// HasPair reports whether any settlement already binds the canonical pair.
func (m *Machine) HasPair(hashA, hashB string) bool {
	keyA, keyB := contracts.ClaimKey(hashA, hashB)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settlements {
		if s.IntentHashA == keyA && s.IntentHashB == keyB {
			return true
		}
	}
	return false
}

// ByStatus returns copies of all settlements in the given state.
func (m *Machine) ByStatus(status contracts.SettlementStatus) []contracts.ProposedSettlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []contracts.ProposedSettlement
	for _, s := range m.settlements {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out
}

// FinalizeSweep finalizes every ratified settlement whose gates clear.
// Returns the IDs finalized this pass.
func (m *Machine) FinalizeSweep(ctx context.Context) []string {
	ratified := m.ByStatus(contracts.SettlementRatified)
	var done []string
	for i := range ratified {
		if err := m.Finalize(ctx, ratified[i].ID); err == nil {
			done = append(done, ratified[i].ID)
		}
	}
	return done
}

// Risks returns a copy of the recorded risk entries.
func (m *Machine) Risks() []contracts.SettlementRisk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]contracts.SettlementRisk, len(m.risks))
	copy(out, m.risks)
	return out
}

func (m *Machine) recordRisk(settlementID, reason string) {
	m.mu.Lock()
	m.risks = append(m.risks, contracts.SettlementRisk{
		RiskID:       uuid.NewString(),
		SettlementID: settlementID,
		Severity:     "high",
		Reason:       reason,
		RecordedAt:   m.clock(),
	})
	m.mu.Unlock()
}

func (m *Machine) allPartiesDeclared(s *contracts.ProposedSettlement) bool {
	if len(s.RequiredParties) == 0 {
		return false
	}
	for _, p := range s.RequiredParties {
		if !s.HasDeclarationFrom(p) {
			return false
		}
	}
	return true
}

func (m *Machine) hasIncompleteStages(s *contracts.ProposedSettlement) bool {
	for i := range s.Stages {
		if s.Stages[i].CompletedAt == nil {
			return true
		}
	}
	return false
}

func (m *Machine) rehash(s *contracts.ProposedSettlement) error {
	h, err := ComputeHash(s)
	if err != nil {
		return fmt.Errorf("hash settlement %s: %w", s.ID, err)
	}
	s.SettlementHash = h
	return nil
}

// persist writes one settlement. Callers hold the lock (or the entry is not
// yet published).
func (m *Machine) persist(id string) error {
	s, ok := m.settlements[id]
	if !ok {
		return fmt.Errorf("settlement %s vanished before persist", id)
	}
	copied := *s
	if err := m.store.Save(id, &copied); err != nil {
		return fmt.Errorf("persist settlement %s: %w", id, err)
	}
	return nil
}

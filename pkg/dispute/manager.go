package dispute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Timeline event types, recorded as a monotonic sequence per dispute.
const (
	EventInitiated            = "initiated"
	EventEvidenceAdded        = "evidence_added"
	EventClarificationStarted = "clarification_started"
	EventEscalated            = "escalated"
	EventResolved             = "resolved"
)

// OutcomePoster records resolutions on the chain. Nil skips the post.
type OutcomePoster interface {
	PostOutcome(ctx context.Context, r *contracts.Resolution) error
}

// Manager owns the dispute table: lifecycle transitions, timeline, evidence
// and clarification records, and the immutable resolutions.
type Manager struct {
	mu       sync.Mutex
	store    Store
	resStore Store
	freezer  *Freezer
	chain    OutcomePoster
	logger   *slog.Logger
	clock    func() time.Time

	autoFreeze     bool
	disputes       map[string]*contracts.Dispute
	evidence       map[string][]contracts.EvidenceEntry
	clarifications map[string][]contracts.ClarificationRecord
	resolutions    map[string]*contracts.Resolution
}

// disputeDoc is the persisted shape of one dispute: the dispute itself plus
// its evidence and clarification records, so all three survive a restart.
type disputeDoc struct {
	Dispute        *contracts.Dispute              `json:"dispute"`
	Evidence       []contracts.EvidenceEntry       `json:"evidence,omitempty"`
	Clarifications []contracts.ClarificationRecord `json:"clarifications,omitempty"`
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithManagerClock injects a time source for tests.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager rehydrates disputes and resolutions from their stores.
func NewManager(disputeStore, resolutionStore Store, freezer *Freezer, chain OutcomePoster, autoFreeze bool, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:          disputeStore,
		resStore:       resolutionStore,
		freezer:        freezer,
		chain:          chain,
		logger:         logger,
		clock:          time.Now,
		autoFreeze:     autoFreeze,
		disputes:       make(map[string]*contracts.Dispute),
		evidence:       make(map[string][]contracts.EvidenceEntry),
		clarifications: make(map[string][]contracts.ClarificationRecord),
		resolutions:    make(map[string]*contracts.Resolution),
	}
	for _, opt := range opts {
		opt(m)
	}
	_ = disputeStore.LoadEach(
		func() interface{} { return &disputeDoc{} },
		func(id string, v interface{}) {
			doc := v.(*disputeDoc)
			if doc.Dispute == nil {
				return
			}
			m.disputes[doc.Dispute.DisputeID] = doc.Dispute
			if len(doc.Evidence) > 0 {
				m.evidence[doc.Dispute.DisputeID] = doc.Evidence
			}
			if len(doc.Clarifications) > 0 {
				m.clarifications[doc.Dispute.DisputeID] = doc.Clarifications
			}
		})
	_ = resolutionStore.LoadEach(
		func() interface{} { return &contracts.Resolution{} },
		func(id string, v interface{}) {
			r := v.(*contracts.Resolution)
			m.resolutions[r.DisputeID] = r
		})
	return m
}

// Initiate opens a dispute over the contested items. snapshots maps item ID
// to the artifact's current value; when auto-freeze is on every contested
// item is frozen before the dispute is recorded.
func (m *Manager) Initiate(ctx context.Context, claimant, respondent string, items []contracts.ContestedItem, snapshots map[string]interface{}) (*contracts.Dispute, error) {
	if claimant == "" {
		return nil, &errs.ValidationError{Op: "Initiate", Reason: "claimant required"}
	}
	if len(items) == 0 {
		return nil, &errs.ValidationError{Op: "Initiate", Reason: "at least one contested item required"}
	}

	now := m.clock()
	d := &contracts.Dispute{
		DisputeID:      uuid.NewString(),
		Status:         contracts.DisputeInitiated,
		Claimant:       claimant,
		Respondent:     respondent,
		ContestedItems: items,
		OpenedAt:       now,
	}

	if m.autoFreeze && m.freezer != nil {
		for _, item := range items {
			snapshot, ok := snapshots[item.ID]
			if !ok {
				snapshot = item
			}
			frozen, err := m.freezer.Freeze(item, snapshot, d.DisputeID)
			if err != nil {
				m.freezer.Release(d.DisputeID, false)
				return nil, fmt.Errorf("freeze %s: %w", item.ID, err)
			}
			d.FrozenItems = append(d.FrozenItems, frozen.ItemID)
		}
	}

	m.appendEvent(d, EventInitiated, claimant, fmt.Sprintf("%d items contested", len(items)))

	m.mu.Lock()
	m.disputes[d.DisputeID] = d
	if err := m.persist(d); err != nil {
		delete(m.disputes, d.DisputeID)
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "dispute initiated",
		"dispute_id", d.DisputeID, "claimant", claimant, "items", len(items))
	copied := *d
	return &copied, nil
}

// AddEvidence attaches one evidence entry referencing a contested item.
func (m *Manager) AddEvidence(ctx context.Context, disputeID string, e contracts.EvidenceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return &errs.ValidationError{Op: "AddEvidence", Reason: "dispute not found"}
	}
	if !d.Status.Active() {
		return &errs.ValidationError{Op: "AddEvidence", Reason: "dispute is resolved"}
	}

	if e.EvidenceID == "" {
		e.EvidenceID = uuid.NewString()
	}
	e.DisputeID = disputeID
	e.AddedAt = m.clock()
	m.evidence[disputeID] = append(m.evidence[disputeID], e)
	m.appendEvent(d, EventEvidenceAdded, "", e.ItemID)
	if d.Status == contracts.DisputeInitiated {
		d.Status = contracts.DisputeUnderReview
	}
	return m.persist(d)
}

// StartClarification moves the dispute into the clarifying phase and records
// one clarification exchange.
func (m *Manager) StartClarification(ctx context.Context, disputeID string, c contracts.ClarificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return &errs.ValidationError{Op: "StartClarification", Reason: "dispute not found"}
	}
	if !d.Status.Active() {
		return &errs.ValidationError{Op: "StartClarification", Reason: "dispute is resolved"}
	}

	if c.ClarificationID == "" {
		c.ClarificationID = uuid.NewString()
	}
	c.DisputeID = disputeID
	c.RecordedAt = m.clock()
	m.clarifications[disputeID] = append(m.clarifications[disputeID], c)
	if d.Status != contracts.DisputeEscalated {
		d.Status = contracts.DisputeClarifying
	}
	m.appendEvent(d, EventClarificationStarted, c.Party, "")
	return m.persist(d)
}

// Escalate raises the dispute for external review.
func (m *Manager) Escalate(ctx context.Context, disputeID, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[disputeID]
	if !ok {
		return &errs.ValidationError{Op: "Escalate", Reason: "dispute not found"}
	}
	if !d.Status.Active() {
		return &errs.ValidationError{Op: "Escalate", Reason: "dispute is resolved"}
	}
	if d.Status == contracts.DisputeEscalated {
		return &errs.ConflictError{Op: "Escalate", Reason: "dispute already escalated"}
	}

	d.Status = contracts.DisputeEscalated
	m.appendEvent(d, EventEscalated, actor, reason)
	return m.persist(d)
}

// Resolve records the immutable resolution, posts the outcome to the chain,
// and releases the frozen items unless the resolution is punitive. A second
// resolution for the same dispute is a conflict.
func (m *Manager) Resolve(ctx context.Context, disputeID string, outcome contracts.ResolutionOutcome, punitive bool, rationale string) (*contracts.Resolution, error) {
	m.mu.Lock()
	d, ok := m.disputes[disputeID]
	if !ok {
		m.mu.Unlock()
		return nil, &errs.ValidationError{Op: "Resolve", Reason: "dispute not found"}
	}
	if _, done := m.resolutions[disputeID]; done || !d.Status.Active() {
		m.mu.Unlock()
		return nil, &errs.ConflictError{Op: "Resolve", Reason: "dispute already resolved"}
	}

	now := m.clock()
	res := &contracts.Resolution{
		ResolutionID: uuid.NewString(),
		DisputeID:    disputeID,
		Outcome:      outcome,
		Punitive:     punitive,
		Rationale:    rationale,
		IsImmutable:  true,
		ResolvedAt:   now,
	}
	m.resolutions[disputeID] = res
	d.Status = contracts.DisputeResolved
	d.ResolvedAt = &now
	m.appendEvent(d, EventResolved, "", string(outcome))
	if err := m.persist(d); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	if err := m.resStore.Save(res.ResolutionID, res); err != nil {
		return nil, fmt.Errorf("persist resolution: %w", err)
	}
	if m.chain != nil {
		if err := m.chain.PostOutcome(ctx, res); err != nil {
			m.logger.WarnContext(ctx, "outcome post failed, resolution stands locally",
				"dispute_id", disputeID, "error", err)
		}
	}
	if m.freezer != nil {
		released := m.freezer.Release(disputeID, punitive)
		m.logger.InfoContext(ctx, "dispute resolved",
			"dispute_id", disputeID, "outcome", outcome, "items_released", released)
	}
	copied := *res
	return &copied, nil
}

// Get returns a copy of one dispute, or nil.
func (m *Manager) Get(disputeID string) *contracts.Dispute {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.disputes[disputeID]; ok {
		copied := *d
		return &copied
	}
	return nil
}

// Evidence returns a copy of the dispute's evidence entries.
func (m *Manager) Evidence(disputeID string) []contracts.EvidenceEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.evidence[disputeID]
	out := make([]contracts.EvidenceEntry, len(src))
	copy(out, src)
	return out
}

// Clarifications returns a copy of the dispute's clarification records.
func (m *Manager) Clarifications(disputeID string) []contracts.ClarificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.clarifications[disputeID]
	out := make([]contracts.ClarificationRecord, len(src))
	copy(out, src)
	return out
}

// Resolution returns the dispute's resolution, or nil.
func (m *Manager) Resolution(disputeID string) *contracts.Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resolutions[disputeID]; ok {
		copied := *r
		return &copied
	}
	return nil
}

// ActiveDisputeFor returns the ID of the active dispute contesting the
// item, or "". This is the settlement validator's dispute gate.
func (m *Manager) ActiveDisputeFor(itemID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disputes {
		if !d.Status.Active() {
			continue
		}
		for _, item := range d.ContestedItems {
			if item.ID == itemID {
				return d.DisputeID
			}
		}
	}
	return ""
}

// appendEvent adds the next timeline entry. Callers hold the lock or own
// the dispute exclusively.
func (m *Manager) appendEvent(d *contracts.Dispute, eventType, actor, detail string) {
	d.Timeline = append(d.Timeline, contracts.TimelineEvent{
		Sequence: len(d.Timeline) + 1,
		Type:     eventType,
		At:       m.clock(),
		Actor:    actor,
		Detail:   detail,
	})
}

// persist writes the dispute together with its evidence and clarification
// records. Callers hold the lock.
func (m *Manager) persist(d *contracts.Dispute) error {
	copied := *d
	doc := disputeDoc{
		Dispute:        &copied,
		Evidence:       append([]contracts.EvidenceEntry(nil), m.evidence[d.DisputeID]...),
		Clarifications: append([]contracts.ClarificationRecord(nil), m.clarifications[d.DisputeID]...),
	}
	if err := m.store.Save(d.DisputeID, &doc); err != nil {
		return fmt.Errorf("persist dispute %s: %w", d.DisputeID, err)
	}
	return nil
}

// Package dispute implements the dispute lifecycle, the evidence freezer
// that makes contested artifacts immutable while a dispute is open, and the
// package builder that collates a verifiable escalation bundle.
package dispute

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/canonicalize"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// Store is the persistence slice used by the dispute layer.
type Store interface {
	Save(id string, v interface{}) error
	LoadEach(newTarget func() interface{}, fn func(id string, v interface{})) error
}

// Freezer owns the frozen-items table. A disputed artifact must be frozen
// before any settlement referencing it can be ratified; writes against a
// frozen item are rejected and logged in its mutationAttempts.
type Freezer struct {
	mu        sync.Mutex
	store     Store
	items     map[string]*contracts.FrozenItem
	logger    *slog.Logger
	clock     func() time.Time
	onAttempt func(itemID, actor, operation string)
}

// FreezerOption customises a Freezer.
type FreezerOption func(*Freezer)

// WithFreezerClock injects a time source for tests.
func WithFreezerClock(clock func() time.Time) FreezerOption {
	return func(f *Freezer) { f.clock = clock }
}

// WithMutationHook registers a callback fired for every rejected write
// against a frozen item. The node wires this to the audit stream.
func WithMutationHook(fn func(itemID, actor, operation string)) FreezerOption {
	return func(f *Freezer) { f.onAttempt = fn }
}

// NewFreezer rehydrates the frozen-items table.
func NewFreezer(st Store, logger *slog.Logger, opts ...FreezerOption) *Freezer {
	f := &Freezer{
		store:  st,
		items:  make(map[string]*contracts.FrozenItem),
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	_ = st.LoadEach(
		func() interface{} { return &contracts.FrozenItem{} },
		func(id string, v interface{}) {
			item := v.(*contracts.FrozenItem)
			f.items[item.ItemID] = item
		})
	return f
}

// Freeze snapshots an artifact and marks it under_dispute. Freezing an item
// already held by another open dispute is a conflict; re-freezing under the
// same dispute returns the existing record.
func (f *Freezer) Freeze(item contracts.ContestedItem, snapshot interface{}, disputeID string) (*contracts.FrozenItem, error) {
	snapshotHash, err := canonicalize.CanonicalHash(snapshot)
	if err != nil {
		return nil, fmt.Errorf("hash snapshot of %s: %w", item.ID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.items[item.ID]; ok && existing.Status == contracts.FrozenUnderDispute {
		if existing.DisputeID == disputeID {
			copied := *existing
			return &copied, nil
		}
		return nil, &errs.ConflictError{Op: "Freeze", Reason: fmt.Sprintf("item %s already frozen by dispute %s", item.ID, existing.DisputeID)}
	}

	frozen := &contracts.FrozenItem{
		ItemID:       item.ID,
		ItemType:     item.Type,
		DisputeID:    disputeID,
		SnapshotHash: snapshotHash,
		Status:       contracts.FrozenUnderDispute,
		FrozenAt:     f.clock(),
	}
	f.items[item.ID] = frozen
	if err := f.store.Save(item.ID, frozen); err != nil {
		delete(f.items, item.ID)
		return nil, fmt.Errorf("persist frozen item %s: %w", item.ID, err)
	}
	f.logger.Info("item frozen", "item_id", item.ID, "dispute_id", disputeID)
	copied := *frozen
	return &copied, nil
}

// IsFrozen reports whether the item is currently under dispute.
func (f *Freezer) IsFrozen(itemID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	return ok && item.Status == contracts.FrozenUnderDispute
}

// RecordMutationAttempt logs a rejected write against a frozen item and
// returns whether the item was frozen.
func (f *Freezer) RecordMutationAttempt(itemID, actor, operation string) bool {
	f.mu.Lock()
	item, ok := f.items[itemID]
	if !ok || item.Status != contracts.FrozenUnderDispute {
		f.mu.Unlock()
		return false
	}
	item.MutationAttempts = append(item.MutationAttempts, contracts.MutationAttempt{
		Actor:       actor,
		Operation:   operation,
		AttemptedAt: f.clock(),
	})
	copied := *item
	f.mu.Unlock()

	if err := f.store.Save(itemID, &copied); err != nil {
		f.logger.Error("persist mutation attempt failed", "item_id", itemID, "error", err)
	}
	f.logger.Warn("mutation attempt against frozen item",
		"item_id", itemID, "actor", actor, "operation", operation)
	if f.onAttempt != nil {
		f.onAttempt(itemID, actor, operation)
	}
	return true
}

// Get returns a copy of the frozen item, or nil.
func (f *Freezer) Get(itemID string) *contracts.FrozenItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		copied := *item
		return &copied
	}
	return nil
}

// Release moves the dispute's items to dispute_resolved (re-mutable) unless
// the resolution was punitive; punitive resolutions keep items frozen
// pending external enforcement. Returns the number released.
func (f *Freezer) Release(disputeID string, punitive bool) int {
	if punitive {
		f.logger.Info("punitive resolution, items stay frozen", "dispute_id", disputeID)
		return 0
	}
	f.mu.Lock()
	var touched []*contracts.FrozenItem
	for _, item := range f.items {
		if item.DisputeID == disputeID && item.Status == contracts.FrozenUnderDispute {
			item.Status = contracts.FrozenDisputeResolved
			copied := *item
			touched = append(touched, &copied)
		}
	}
	f.mu.Unlock()

	for _, item := range touched {
		if err := f.store.Save(item.ItemID, item); err != nil {
			f.logger.Error("persist released item failed", "item_id", item.ItemID, "error", err)
		}
	}
	return len(touched)
}

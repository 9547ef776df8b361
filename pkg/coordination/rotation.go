package coordination

import (
	"sort"
	"sync"
	"time"
)

// Rotation is the DPoS slot schedule. Time is divided into fixed slots;
// each slot belongs to exactly one validator in the sorted set, and only
// the slot holder acts as primary proposer during it.
type Rotation struct {
	mu                sync.RWMutex
	validators        []string
	slotDuration      time.Duration
	minEffectiveStake float64
	selfID            string
	stake             float64
	slotsHeld         int
	clock             func() time.Time
}

// NewRotation builds the schedule. validators may arrive later via
// SetValidators; until the set is known the gate refuses.
func NewRotation(selfID string, slotDuration time.Duration, minEffectiveStake float64, opts ...RotationOption) *Rotation {
	r := &Rotation{
		selfID:            selfID,
		slotDuration:      slotDuration,
		minEffectiveStake: minEffectiveStake,
		clock:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RotationOption customises a Rotation.
type RotationOption func(*Rotation)

// WithRotationClock injects a time source for tests.
func WithRotationClock(clock func() time.Time) RotationOption {
	return func(r *Rotation) { r.clock = clock }
}

// SetValidators installs the validator set. Order is normalised by sorting
// so every node derives the same schedule.
func (r *Rotation) SetValidators(ids []string) {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	r.mu.Lock()
	r.validators = sorted
	r.mu.Unlock()
}

// SetStake records our effective stake as reported by the chain.
func (r *Rotation) SetStake(stake float64) {
	r.mu.Lock()
	r.stake = stake
	r.mu.Unlock()
}

// SlotHolder returns the validator owning the current slot, or "" when the
// set is empty.
func (r *Rotation) SlotHolder() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slotHolderLocked()
}

func (r *Rotation) slotHolderLocked() string {
	if len(r.validators) == 0 {
		return ""
	}
	slot := r.clock().UnixMilli() / r.slotDuration.Milliseconds()
	return r.validators[int(slot%int64(len(r.validators)))]
}

// ShouldMediate is the per-cycle slot gate: we act only when we hold the
// current slot and our effective stake clears the floor.
func (r *Rotation) ShouldMediate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stake < r.minEffectiveStake {
		return false
	}
	if r.slotHolderLocked() != r.selfID {
		return false
	}
	r.slotsHeld++
	return true
}

// SlotsHeld reports how many cycles we have acted as slot holder.
func (r *Rotation) SlotsHeld() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slotsHeld
}

package coordination

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
)

// ClaimTable holds the soft reservations over intent pairs. At most one
// unexpired claim exists per canonical key; a claimant re-claiming its own
// key gets the existing claim back unchanged.
type ClaimTable struct {
	mu     sync.Mutex
	claims map[string]*contracts.WorkClaim
	ttl    time.Duration
	clock  func() time.Time
}

// NewClaimTable builds a table with the given claim TTL.
func NewClaimTable(ttl time.Duration, opts ...ClaimOption) *ClaimTable {
	t := &ClaimTable{
		claims: make(map[string]*contracts.WorkClaim),
		ttl:    ttl,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClaimOption customises a ClaimTable.
type ClaimOption func(*ClaimTable)

// WithClaimClock injects a time source for tests.
func WithClaimClock(clock func() time.Time) ClaimOption {
	return func(t *ClaimTable) { t.clock = clock }
}

// Claim reserves the canonical pair for mediatorID. A live claim held by
// another mediator refuses with a ClaimRefused error; re-claiming our own
// live key is idempotent and returns the existing claim.
func (t *ClaimTable) Claim(hashA, hashB, mediatorID string) (*contracts.WorkClaim, error) {
	keyA, keyB := contracts.ClaimKey(hashA, hashB)
	key := keyA + "|" + keyB
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.claims[key]; ok && !existing.Expired(now) {
		if existing.MediatorID == mediatorID {
			copied := *existing
			return &copied, nil
		}
		return nil, &errs.ClaimRefused{Key: key, Holder: existing.MediatorID}
	}

	claim := &contracts.WorkClaim{
		ClaimID:    uuid.NewString(),
		MediatorID: mediatorID,
		KeyA:       keyA,
		KeyB:       keyB,
		ClaimedAt:  now,
		ExpiresAt:  now.Add(t.ttl),
	}
	t.claims[key] = claim
	copied := *claim
	return &copied, nil
}

// Observe records a claim gossiped by a peer. A live local claim always
// wins; expired or absent entries are replaced.
func (t *ClaimTable) Observe(claim *contracts.WorkClaim) bool {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	key := claim.Key()
	if existing, ok := t.claims[key]; ok && !existing.Expired(now) {
		return existing.ClaimID == claim.ClaimID
	}
	copied := *claim
	t.claims[key] = &copied
	return true
}

// Release drops the claim on the canonical pair if mediatorID holds it.
func (t *ClaimTable) Release(hashA, hashB, mediatorID string) bool {
	keyA, keyB := contracts.ClaimKey(hashA, hashB)
	key := keyA + "|" + keyB
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.claims[key]; ok && existing.MediatorID == mediatorID {
		delete(t.claims, key)
		return true
	}
	return false
}

// Holder returns the live claim over the canonical pair, or nil.
func (t *ClaimTable) Holder(hashA, hashB string) *contracts.WorkClaim {
	keyA, keyB := contracts.ClaimKey(hashA, hashB)
	key := keyA + "|" + keyB
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.claims[key]; ok && !existing.Expired(now) {
		copied := *existing
		return &copied
	}
	return nil
}

// Sweep drops expired claims and returns the number removed.
func (t *ClaimTable) Sweep() int {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for key, c := range t.claims {
		if c.Expired(now) {
			delete(t.claims, key)
			removed++
		}
	}
	return removed
}

// Len counts live claims.
func (t *ClaimTable) Len() int {
	now := t.clock()
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.claims {
		if !c.Expired(now) {
			n++
		}
	}
	return n
}

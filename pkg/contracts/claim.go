package contracts

import "time"

// WorkClaim is a soft, gossiped, time-bounded reservation over an intent
// pair. A peer may hold at most one unexpired claim per canonical key.
// The claim layer reduces duplicate effort; it is not a correctness boundary.
type WorkClaim struct {
	ClaimID    string    `json:"claim_id"`
	MediatorID string    `json:"mediator_id"`
	KeyA       string    `json:"key_a"`
	KeyB       string    `json:"key_b"`
	ClaimedAt  time.Time `json:"claimed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ClaimKey returns the canonical orientation of an intent pair: the two
// hashes sorted by byte order. Both sides of a race compute the same key.
func ClaimKey(hashA, hashB string) (string, string) {
	if hashB < hashA {
		return hashB, hashA
	}
	return hashA, hashB
}

// Key returns the composite claim-table key.
func (c *WorkClaim) Key() string {
	return c.KeyA + "|" + c.KeyB
}

// Expired reports whether the claim has lapsed at now.
func (c *WorkClaim) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

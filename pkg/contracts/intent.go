// Package contracts defines the shared artifact types exchanged between the
// mediator node, the chain service, and peer mediators.
//
// Every persisted artifact carries a SHA-256 content hash; identifiers are
// opaque tokens and timestamps are Unix milliseconds unless a field is
// declared as time.Time.
package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Intent is the canonical, hashed, human-authored unit of desire.
// Immutable once recorded on chain; the hash is the key everywhere downstream.
type Intent struct {
	Hash        string   `json:"hash"`
	Author      string   `json:"author"`
	Prose       string   `json:"prose"`
	Desires     []string `json:"desires,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	Priority    int      `json:"priority,omitempty"`
}

// ComputeIntentHash derives the chain key for an intent:
// SHA256(prose|author|createdAt).
func ComputeIntentHash(prose, author string, createdAt int64) string {
	payload := fmt.Sprintf("%s|%s|%d", prose, author, createdAt)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the intent hash and compares it to the stored one.
func (i *Intent) Verify() bool {
	return i.Hash == ComputeIntentHash(i.Prose, i.Author, i.CreatedAt)
}

// AlignmentCandidate pairs two intents by embedding similarity.
// Transient; exists only within one alignment cycle.
type AlignmentCandidate struct {
	IntentA          string  `json:"intent_a"`
	IntentB          string  `json:"intent_b"`
	CosineSimilarity float64 `json:"cosine_similarity"`
}

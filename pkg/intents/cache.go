// Package intents maintains the deduplicated, priority-ordered pool of open
// intents polled from the chain, together with the embedding cache.
package intents

import (
	"sort"
	"sync"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

// Cache is the intent pool. Bounded by maxSize; eviction drops the newest
// excess intents so long-waiting intents keep their place in line.
type Cache struct {
	mu           sync.RWMutex
	byHash       map[string]*contracts.Intent
	pendingPairs map[string]int
	maxSize      int
}

// NewCache creates an intent cache bounded to maxSize entries.
func NewCache(maxSize int) *Cache {
	return &Cache{
		byHash:       make(map[string]*contracts.Intent),
		pendingPairs: make(map[string]int),
		maxSize:      maxSize,
	}
}

// Upsert merges polled intents into the pool, deduplicating by hash.
// Returns the hashes that were newly added.
func (c *Cache) Upsert(intents []contracts.Intent) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var added []string
	for i := range intents {
		in := intents[i]
		if _, seen := c.byHash[in.Hash]; seen {
			continue
		}
		if len(c.byHash) >= c.maxSize {
			break
		}
		c.byHash[in.Hash] = &in
		added = append(added, in.Hash)
	}
	return added
}

// Get returns one intent by hash.
func (c *Cache) Get(hash string) (*contracts.Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	in, ok := c.byHash[hash]
	return in, ok
}

// Remove drops an intent (settled, expired, or frozen out).
func (c *Cache) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byHash, hash)
	delete(c.pendingPairs, hash)
}

// Hashes returns all cached intent hashes.
func (c *Cache) Hashes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byHash))
	for h := range c.byHash {
		out = append(out, h)
	}
	return out
}

// Len returns the pool size.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byHash)
}

// RecordPending bumps the pending candidate-pair counter for an intent.
func (c *Cache) RecordPending(hash string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.pendingPairs[hash] + delta
	if n <= 0 {
		delete(c.pendingPairs, hash)
		return
	}
	c.pendingPairs[hash] = n
}

// Pending returns the current pending candidate-pair count for an intent.
func (c *Cache) Pending(hash string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingPairs[hash]
}

// ResetPending clears all pending candidate-pair counters. Called at the
// start of candidate selection so each cycle counts only the pairs it
// actually produces.
func (c *Cache) ResetPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingPairs = make(map[string]int)
}

// Snapshot returns up to n intents in deterministic priority order: fewer
// pending candidate-pairs first, then older createdAt, then lexicographic
// hash. This ordering prevents livelock on identical inputs.
func (c *Cache) Snapshot(n int) []contracts.Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]contracts.Intent, 0, len(c.byHash))
	for _, in := range c.byHash {
		all = append(all, *in)
	}
	sort.Slice(all, func(i, j int) bool {
		pi, pj := c.pendingPairs[all[i].Hash], c.pendingPairs[all[j].Hash]
		if pi != pj {
			return pi < pj
		}
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].Hash < all[j].Hash
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

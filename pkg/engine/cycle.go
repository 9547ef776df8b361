package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/coordination"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/errs"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/intents"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/llm"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/vector"
)

// CycleChain is the slice of the chain client the cycle needs.
type CycleChain interface {
	FetchPendingIntents(ctx context.Context) ([]contracts.Intent, error)
	SubmitSettlement(ctx context.Context, s *contracts.ProposedSettlement) (string, error)
}

// Proposer records a validated settlement locally before submission.
// *settlement.Machine satisfies it.
type Proposer interface {
	Propose(ctx context.Context, s *contracts.ProposedSettlement) error
	HasPair(hashA, hashB string) bool
}

// FrozenCheck filters disputed intents out of candidate search.
type FrozenCheck interface {
	IsFrozen(itemID string) bool
}

// SubmissionSink observes submissions and settlements for load estimation.
// *burn.Monitor satisfies it.
type SubmissionSink interface {
	RecordSubmission()
	RecordSettlement()
}

// Negotiator is the alignment-verdict capability. *llm.Negotiator
// satisfies it.
type Negotiator interface {
	Negotiate(ctx context.Context, a, b *contracts.Intent) (*llm.AlignmentVerdict, error)
}

// CycleMetrics receives per-tick outcomes. Nil-safe via the noop default.
type CycleMetrics interface {
	RecordCycle(ctx context.Context, outcome string, elapsed time.Duration)
	RecordSettlement(ctx context.Context)
	RecordClaimRefused(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordCycle(context.Context, string, time.Duration) {}
func (noopMetrics) RecordSettlement(context.Context)                    {}
func (noopMetrics) RecordClaimRefused(context.Context)                  {}

// CycleParams bound one tick's work.
type CycleParams struct {
	SnapshotSize            int
	TopK                    int
	MaxNegotiationsPerCycle int
	MinConfidence           float64
	HighValueThreshold      float64
	MediatorStake           float64
}

// Cycle is one scheduled attempt to pair two intents into a settlement.
// A tick produces at most one settlement; every step failure is caught at
// the step boundary, the work claim released, and the tick proceeds.
type Cycle struct {
	selfID     string
	params     CycleParams
	chain      CycleChain
	cache      *intents.Cache
	embeds     *intents.EmbeddingCache
	index      *vector.Index
	embedder   llm.Embedder
	claims     *coordination.ClaimTable
	gossip     *coordination.Broadcaster
	rotation   *coordination.Rotation
	negotiator Negotiator
	proposer   *Proposal
	frozen     FrozenCheck
	sink       SubmissionSink
	metrics    CycleMetrics
	logger     *slog.Logger
	clock      func() time.Time
}

// Proposal wraps the local machine plus the consensus requester used for
// high-value settlements.
type Proposal struct {
	Machine   Proposer
	Consensus *coordination.Requester
}

// NewCycle wires the alignment cycle. rotation, frozen, consensus, and
// metrics may be nil.
func NewCycle(selfID string, params CycleParams, chain CycleChain, cache *intents.Cache, embeds *intents.EmbeddingCache, index *vector.Index, embedder llm.Embedder, claims *coordination.ClaimTable, gossip *coordination.Broadcaster, rotation *coordination.Rotation, negotiator Negotiator, proposal *Proposal, frozen FrozenCheck, sink SubmissionSink, metrics CycleMetrics, logger *slog.Logger) *Cycle {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Cycle{
		selfID:     selfID,
		params:     params,
		chain:      chain,
		cache:      cache,
		embeds:     embeds,
		index:      index,
		embedder:   embedder,
		claims:     claims,
		gossip:     gossip,
		rotation:   rotation,
		negotiator: negotiator,
		proposer:   proposal,
		frozen:     frozen,
		sink:       sink,
		metrics:    metrics,
		logger:     logger,
		clock:      time.Now,
	}
}

// Tick runs one alignment cycle.
func (c *Cycle) Tick(ctx context.Context) {
	start := c.clock()
	outcome := c.tick(ctx)
	c.metrics.RecordCycle(ctx, outcome, time.Since(start))
	c.logger.DebugContext(ctx, "alignment cycle done", "outcome", outcome)
}

func (c *Cycle) tick(ctx context.Context) string {
	// Slot gate.
	if c.rotation != nil && !c.rotation.ShouldMediate() {
		return "slot_skipped"
	}

	// Poll and snapshot.
	if polled, err := c.chain.FetchPendingIntents(ctx); err != nil {
		c.logger.WarnContext(ctx, "intent poll failed", "error", err)
	} else {
		for range c.cache.Upsert(polled) {
			if c.sink != nil {
				c.sink.RecordSubmission()
			}
		}
	}
	snapshot := c.cache.Snapshot(c.params.SnapshotSize)
	if len(snapshot) < 2 {
		return "no_candidates"
	}

	// Embed missing intents and index them.
	for i := range snapshot {
		in := &snapshot[i]
		if ctx.Err() != nil {
			return "cancelled"
		}
		if c.index.Has(in.Hash) {
			continue
		}
		vec, ok := c.embeds.Get(ctx, in.Hash)
		if !ok {
			var err error
			vec, err = c.embedder.Embed(ctx, in.Prose)
			if err != nil {
				c.logger.WarnContext(ctx, "embedding failed",
					"intent", in.Hash, "error", err)
				continue
			}
			c.embeds.Put(ctx, in.Hash, vec)
		}
		if err := c.index.AddOrUpdate(in.Hash, vec); err != nil {
			c.logger.WarnContext(ctx, "index insert failed",
				"intent", in.Hash, "error", err)
		}
	}

	// Candidate search, then claim and negotiate.
	candidates := c.candidates(snapshot)
	outcome := "no_candidates"
	negotiated := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return "cancelled"
		}
		if negotiated >= c.params.MaxNegotiationsPerCycle {
			break
		}
		submitted, counted := c.attempt(ctx, cand)
		if counted {
			negotiated++
			outcome = "negotiated"
		}
		if submitted {
			outcome = "settled"
			break
		}
	}

	// Cleanup: drop embeddings and index entries for evicted intents.
	keep := make(map[string]struct{})
	for _, h := range c.cache.Hashes() {
		keep[h] = struct{}{}
	}
	c.embeds.Prune(keep)
	c.index.Prune(keep)
	return outcome
}

// candidates extracts the ordered pair list: for each snapshot intent the
// top-k neighbours, excluding self, frozen intents, and pairs already
// settled. Ordering is higher cosine first, ties by canonical pair key.
func (c *Cycle) candidates(snapshot []contracts.Intent) []contracts.AlignmentCandidate {
	// Counters reflect this cycle's pairing pressure only; stale counts
	// from earlier cycles would starve long-paired intents forever.
	c.cache.ResetPending()
	inSnapshot := make(map[string]bool, len(snapshot))
	for i := range snapshot {
		inSnapshot[snapshot[i].Hash] = true
	}
	seen := make(map[string]bool)
	var out []contracts.AlignmentCandidate
	for i := range snapshot {
		in := &snapshot[i]
		if c.isFrozen(in.Hash) {
			continue
		}
		vec, ok := c.embeds.Get(context.Background(), in.Hash)
		if !ok {
			continue
		}
		matches, err := c.index.TopK(vec, c.params.TopK, func(hash string) bool {
			return hash != in.Hash && inSnapshot[hash] && !c.isFrozen(hash)
		})
		if err != nil {
			continue
		}
		for _, m := range matches {
			keyA, keyB := contracts.ClaimKey(in.Hash, m.Hash)
			key := keyA + "|" + keyB
			if seen[key] || c.proposer.Machine.HasPair(keyA, keyB) {
				continue
			}
			seen[key] = true
			out = append(out, contracts.AlignmentCandidate{
				IntentA:          keyA,
				IntentB:          keyB,
				CosineSimilarity: m.Cosine,
			})
			c.cache.RecordPending(keyA, 1)
			c.cache.RecordPending(keyB, 1)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CosineSimilarity != out[j].CosineSimilarity {
			return out[i].CosineSimilarity > out[j].CosineSimilarity
		}
		if out[i].IntentA != out[j].IntentA {
			return out[i].IntentA < out[j].IntentA
		}
		return out[i].IntentB < out[j].IntentB
	})
	return out
}

func (c *Cycle) isFrozen(hash string) bool {
	return c.frozen != nil && c.frozen.IsFrozen(hash)
}

// attempt claims one candidate pair and negotiates it. Returns (settlement
// submitted, negotiation counted against the per-cycle budget).
func (c *Cycle) attempt(ctx context.Context, cand contracts.AlignmentCandidate) (bool, bool) {
	claim, err := c.claims.Claim(cand.IntentA, cand.IntentB, c.selfID)
	if err != nil {
		var refused *errs.ClaimRefused
		if errors.As(err, &refused) {
			c.metrics.RecordClaimRefused(ctx)
		}
		return false, false
	}
	c.gossip.BroadcastClaim(ctx, claim)
	release := func() {
		c.claims.Release(cand.IntentA, cand.IntentB, c.selfID)
		c.gossip.BroadcastRelease(ctx, claim)
	}

	intentA, okA := c.cache.Get(cand.IntentA)
	intentB, okB := c.cache.Get(cand.IntentB)
	if !okA || !okB {
		release()
		return false, false
	}

	verdict, err := c.negotiator.Negotiate(ctx, intentA, intentB)
	if err != nil {
		c.logger.WarnContext(ctx, "negotiation failed",
			"intent_a", cand.IntentA, "intent_b", cand.IntentB, "error", err)
		release()
		return false, true
	}
	if !verdict.Success || verdict.Confidence < c.params.MinConfidence {
		c.logger.DebugContext(ctx, "negotiation declined",
			"intent_a", cand.IntentA, "intent_b", cand.IntentB,
			"success", verdict.Success, "confidence", verdict.Confidence)
		release()
		return false, true
	}

	submitted := c.submit(ctx, intentA, intentB, verdict)
	release()
	return submitted, true
}

// submit builds, records, and posts the settlement. High-value settlements
// go through semantic consensus first.
func (c *Cycle) submit(ctx context.Context, a, b *contracts.Intent, verdict *llm.AlignmentVerdict) bool {
	s := &contracts.ProposedSettlement{
		IntentHashA:     a.Hash,
		IntentHashB:     b.Hash,
		MediatorID:      c.selfID,
		Statement:       verdict.Prose,
		RequiredParties: []string{a.Author, b.Author},
		Value:           verdict.Value,
		Stake:           c.params.MediatorStake,
	}

	if err := c.proposer.Machine.Propose(ctx, s); err != nil {
		c.logger.WarnContext(ctx, "settlement proposal rejected",
			"intent_a", a.Hash, "intent_b", b.Hash, "error", err)
		return false
	}

	if c.proposer.Consensus != nil && s.Value >= c.params.HighValueThreshold && c.params.HighValueThreshold > 0 {
		outcome, err := c.proposer.Consensus.Request(ctx, s)
		if err != nil || (outcome.VerifiersAsked > 0 && !outcome.Accepted) {
			c.logger.WarnContext(ctx, "semantic consensus withheld settlement",
				"settlement_id", s.ID, "error", err)
			return false
		}
	}

	txID, err := c.chain.SubmitSettlement(ctx, s)
	if err != nil {
		var conflict *errs.ConflictError
		if errors.As(err, &conflict) {
			c.logger.InfoContext(ctx, "settlement already recorded by a peer",
				"intent_a", s.IntentHashA, "intent_b", s.IntentHashB)
		} else {
			c.logger.WarnContext(ctx, "settlement submission failed",
				"settlement_id", s.ID, "error", err)
		}
		return false
	}

	if c.sink != nil {
		c.sink.RecordSettlement()
	}
	c.metrics.RecordSettlement(ctx)
	c.gossip.Broadcast(ctx, contracts.MsgSettlementBroadcast, s)
	c.logger.InfoContext(ctx, "settlement submitted",
		"settlement_id", s.ID, "tx_id", txID,
		"intent_a", s.IntentHashA, "intent_b", s.IntentHashB)
	return true
}

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/burn"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/coordination"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/intents"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/llm"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/vector"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubCycleChain struct {
	pending   []contracts.Intent
	submitted []contracts.ProposedSettlement
	submitErr error
}

func (s *stubCycleChain) FetchPendingIntents(_ context.Context) ([]contracts.Intent, error) {
	return s.pending, nil
}

func (s *stubCycleChain) SubmitSettlement(_ context.Context, stl *contracts.ProposedSettlement) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, *stl)
	return "tx-1", nil
}

type stubProposer struct {
	proposed []contracts.ProposedSettlement
	err      error
}

func (p *stubProposer) Propose(_ context.Context, s *contracts.ProposedSettlement) error {
	if p.err != nil {
		return p.err
	}
	s.ID = "stl-1"
	p.proposed = append(p.proposed, *s)
	return nil
}

func (p *stubProposer) HasPair(hashA, hashB string) bool {
	keyA, keyB := contracts.ClaimKey(hashA, hashB)
	for _, s := range p.proposed {
		if s.IntentHashA == keyA && s.IntentHashB == keyB {
			return true
		}
	}
	return false
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubNegotiator struct {
	verdict llm.AlignmentVerdict
	err     error
	calls   int
}

func (n *stubNegotiator) Negotiate(_ context.Context, _, _ *contracts.Intent) (*llm.AlignmentVerdict, error) {
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	v := n.verdict
	return &v, nil
}

type captureMetrics struct {
	outcomes    []string
	settlements int
	refused     int
}

func (m *captureMetrics) RecordCycle(_ context.Context, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, outcome)
}
func (m *captureMetrics) RecordSettlement(_ context.Context)   { m.settlements++ }
func (m *captureMetrics) RecordClaimRefused(_ context.Context) { m.refused++ }

type frozenSet map[string]bool

func (f frozenSet) IsFrozen(itemID string) bool { return f[itemID] }

type fixture struct {
	chain      *stubCycleChain
	cache      *intents.Cache
	index      *vector.Index
	claims     *coordination.ClaimTable
	proposer   *stubProposer
	negotiator *stubNegotiator
	metrics    *captureMetrics
	cycle      *Cycle
}

func pendingIntents() []contracts.Intent {
	return []contracts.Intent{
		{Hash: "ha", Author: "alice", Prose: "sell my bike", CreatedAt: 1},
		{Hash: "hb", Author: "bob", Prose: "buy a bike", CreatedAt: 2},
	}
}

func newFixture(t *testing.T, frozen FrozenCheck) *fixture {
	t.Helper()
	chain := &stubCycleChain{pending: pendingIntents()}
	cache := intents.NewCache(100)
	embeds, err := intents.NewEmbeddingCache("", discard())
	require.NoError(t, err)
	peers, err := coordination.NewPeerTable(time.Minute, ">= 1.0.0", discard())
	require.NoError(t, err)
	claims := coordination.NewClaimTable(5 * time.Minute)
	gossip := coordination.NewBroadcaster(peers, "self", "", discard())
	proposer := &stubProposer{}
	negotiator := &stubNegotiator{verdict: llm.AlignmentVerdict{Success: true, Confidence: 0.9, Value: 50, Prose: "bike changes hands for 50 tokens"}}
	metrics := &captureMetrics{}
	index := vector.New(3)

	cycle := NewCycle("self", CycleParams{
		SnapshotSize:            10,
		TopK:                    5,
		MaxNegotiationsPerCycle: 3,
		MinConfidence:           0.7,
		MediatorStake:           25,
	}, chain, cache, embeds, index, stubEmbedder{}, claims, gossip, nil,
		negotiator, &Proposal{Machine: proposer}, frozen, nil, metrics, discard())

	return &fixture{chain: chain, cache: cache, index: index, claims: claims, proposer: proposer, negotiator: negotiator, metrics: metrics, cycle: cycle}
}

func TestCycleSettlesAlignedPair(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle.Tick(context.Background())

	require.Len(t, f.chain.submitted, 1)
	got := f.chain.submitted[0]
	assert.Equal(t, "ha", got.IntentHashA)
	assert.Equal(t, "hb", got.IntentHashB)
	assert.Equal(t, "self", got.MediatorID)
	assert.ElementsMatch(t, []string{"alice", "bob"}, got.RequiredParties)
	assert.Equal(t, "bike changes hands for 50 tokens", got.Statement)
	assert.InDelta(t, 50.0, got.Value, 1e-9)
	assert.InDelta(t, 25.0, got.Stake, 1e-9)

	assert.Equal(t, []string{"settled"}, f.metrics.outcomes)
	assert.Equal(t, 1, f.metrics.settlements)
	// The claim is released after submission.
	assert.Nil(t, f.claims.Holder("ha", "hb"))
}

func TestCycleSkipsSettledPairs(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle.Tick(context.Background())
	require.Len(t, f.chain.submitted, 1)

	f.cycle.Tick(context.Background())
	assert.Len(t, f.chain.submitted, 1)
	assert.Equal(t, 1, f.negotiator.calls)
	assert.Equal(t, []string{"settled", "no_candidates"}, f.metrics.outcomes)
}

func TestCycleReleasesClaimOnLowConfidence(t *testing.T) {
	f := newFixture(t, nil)
	f.negotiator.verdict = llm.AlignmentVerdict{Success: true, Confidence: 0.4}
	f.cycle.Tick(context.Background())

	assert.Empty(t, f.chain.submitted)
	assert.Empty(t, f.proposer.proposed)
	assert.Nil(t, f.claims.Holder("ha", "hb"))
	assert.Equal(t, []string{"negotiated"}, f.metrics.outcomes)
}

func TestCycleRespectsPeerClaims(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.claims.Claim("ha", "hb", "rival")
	require.NoError(t, err)

	f.cycle.Tick(context.Background())
	assert.Empty(t, f.chain.submitted)
	assert.Zero(t, f.negotiator.calls)
	assert.Equal(t, 1, f.metrics.refused)
}

func TestCycleExcludesFrozenIntents(t *testing.T) {
	f := newFixture(t, frozenSet{"hb": true})
	f.cycle.Tick(context.Background())

	assert.Empty(t, f.chain.submitted)
	assert.Zero(t, f.negotiator.calls)
	assert.Equal(t, []string{"no_candidates"}, f.metrics.outcomes)
}

func TestCycleToleratesDuplicateSubmission(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.submitErr = errors.New("duplicate settlement")
	f.cycle.Tick(context.Background())

	// The proposal stands locally; the chain rejection only skips broadcast.
	assert.Len(t, f.proposer.proposed, 1)
	assert.Zero(t, f.metrics.settlements)
	assert.Nil(t, f.claims.Holder("ha", "hb"))
}

func TestPendingCountersResetEachCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle.Tick(context.Background())
	assert.Equal(t, 1, f.cache.Pending("ha"))

	// Once the pair is settled it stops being a candidate, so repeated
	// cycles must not leave stale pairing pressure behind.
	f.cycle.Tick(context.Background())
	f.cycle.Tick(context.Background())
	assert.Zero(t, f.cache.Pending("ha"))
	assert.Zero(t, f.cache.Pending("hb"))
}

func TestCycleCleanupPrunesIndex(t *testing.T) {
	f := newFixture(t, nil)
	f.cycle.Tick(context.Background())
	require.True(t, f.index.Has("hb"))

	f.cache.Remove("hb")
	f.chain.pending = []contracts.Intent{{Hash: "hc", Author: "carol", Prose: "sell a kayak", CreatedAt: 3}}
	f.cycle.Tick(context.Background())
	assert.False(t, f.index.Has("hb"))
	assert.True(t, f.index.Has("ha"))
}

type stubSweeper struct {
	ids         []string
	settlements map[string]*contracts.ProposedSettlement
}

func (s *stubSweeper) FinalizeSweep(_ context.Context) []string { return s.ids }

func (s *stubSweeper) Get(id string) *contracts.ProposedSettlement {
	return s.settlements[id]
}

type nullBurnStore struct{}

func (nullBurnStore) Save(string, interface{}) error { return nil }
func (nullBurnStore) Load(string, interface{}) error { return errors.New("not found") }

type sinkCapture struct{ amounts []float64 }

func (s *sinkCapture) RecordBurn(amount float64) { s.amounts = append(s.amounts, amount) }

type burnMetricsCapture struct{ amounts []float64 }

func (m *burnMetricsCapture) RecordBurn(_ context.Context, _ string, amount float64) {
	m.amounts = append(m.amounts, amount)
}

func TestFinalizeSweepSkipsDustSettlements(t *testing.T) {
	ledger := burn.NewLedger(burn.Params{SuccessBurnPercentage: 0.01, MaxLoadMultiplier: 10},
		nullBurnStore{}, nil, discard())
	sweeper := &stubSweeper{
		ids: []string{"stl-dust", "stl-priced"},
		settlements: map[string]*contracts.ProposedSettlement{
			"stl-dust":   {ID: "stl-dust"},
			"stl-priced": {ID: "stl-priced", Value: 2000},
		},
	}
	sink := &sinkCapture{}
	metrics := &burnMetricsCapture{}

	// The zero-value settlement yields no burn record and must be skipped.
	chargeSuccessBurns(context.Background(), sweeper, ledger, sink, metrics, discard())
	assert.Equal(t, []float64{20}, sink.amounts)
	assert.Equal(t, []float64{20}, metrics.amounts)
}

func TestRunnerRunsAndStops(t *testing.T) {
	r := NewRunner(time.Second, discard())
	var ticks atomic.Int64
	r.Add("counter", 10*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	})
	r.Add("panicky", 10*time.Millisecond, func(ctx context.Context) {
		panic("survivable")
	})

	r.Start(context.Background())
	assert.True(t, r.Running())
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	assert.False(t, r.Running())
	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, ticks.Load())
}

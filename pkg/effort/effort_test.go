package effort

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
	"github.com/kase1111-hash/mediator-node-sub001/pkg/store"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, dir string) *store.FileStore {
	t.Helper()
	st, err := store.New(dir, ReceiptSchema, discard())
	require.NoError(t, err)
	return st
}

func signalsAtMinutes(minutes ...int) []contracts.Signal {
	out := make([]contracts.Signal, len(minutes))
	for i, m := range minutes {
		out[i] = NewSignal("editor", "edit", t0.Add(time.Duration(m)*time.Minute))
	}
	return out
}

func TestHybridSegmentation(t *testing.T) {
	// 0,1,2 then a 13-minute gap: both the window and gap rules split here.
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	segments := seg.Segment(signalsAtMinutes(0, 1, 2, 15, 16))

	require.Len(t, segments, 2)
	assert.Len(t, segments[0].Signals, 3)
	assert.Len(t, segments[1].Signals, 2)
	assert.Equal(t, t0, segments[0].StartedAt)
	assert.Equal(t, t0.Add(15*time.Minute), segments[1].StartedAt)
}

func TestTimeWindowSegmentation(t *testing.T) {
	seg := &Segmenter{Strategy: contracts.SegmentTimeWindow, Window: 10 * time.Minute}
	segments := seg.Segment(signalsAtMinutes(0, 4, 8, 12, 16))
	require.Len(t, segments, 2)
	assert.Len(t, segments[0].Signals, 3)
}

func TestActivityBoundarySegmentation(t *testing.T) {
	seg := &Segmenter{Strategy: contracts.SegmentActivityBoundary, Gap: 5 * time.Minute}
	segments := seg.Segment(signalsAtMinutes(0, 4, 8, 20))
	require.Len(t, segments, 2)
	assert.Len(t, segments[0].Signals, 3)
	assert.Len(t, segments[1].Signals, 1)
}

func TestSegmentationIsOrderIndependent(t *testing.T) {
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	forward := seg.Segment(signalsAtMinutes(0, 1, 2, 15, 16))
	shuffled := seg.Segment(signalsAtMinutes(16, 2, 0, 15, 1))

	require.Equal(t, len(forward), len(shuffled))
	for i := range forward {
		assert.Equal(t, len(forward[i].Signals), len(shuffled[i].Signals))
		assert.Equal(t, forward[i].StartedAt, shuffled[i].StartedAt)
	}
}

type scoreStub struct {
	scores contracts.ValidationScores
}

func (s *scoreStub) ValidateSegment(_ context.Context, _ *contracts.Segment) contracts.ValidationScores {
	return s.scores
}

func newEngine(t *testing.T, dir string, scores contracts.ValidationScores) *Engine {
	t.Helper()
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	return NewEngine(seg, &scoreStub{scores: scores}, newStore(t, dir), 90*24*time.Hour, discard())
}

func goodScores() contracts.ValidationScores {
	return contracts.ValidationScores{Coherence: 0.9, Progression: 0.8, Consistency: 0.85, Synthesis: 0.7}
}

func TestReceiptsChainInOrder(t *testing.T) {
	e := newEngine(t, t.TempDir(), goodScores())
	receipts, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0, 1, 2, 15, 16))
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	first, second := receipts[0], receipts[1]
	assert.Equal(t, contracts.ReceiptValidated, first.Status)
	assert.Empty(t, first.PriorReceipts)
	assert.Equal(t, []string{first.ReceiptID}, second.PriorReceipts)
	assert.Len(t, first.SignalHashes, 3)
	assert.NotEmpty(t, first.ReceiptHash)

	broken, ok := e.VerifyChain()
	assert.True(t, ok)
	assert.Empty(t, broken)
}

func TestFlaggedSegmentsStayDraft(t *testing.T) {
	e := newEngine(t, t.TempDir(), contracts.ValidationScores{Flags: []string{"validation_failed"}})
	receipts, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0, 1))
	require.NoError(t, err)
	require.Len(t, receipts, 1)

	// The segment is never lost: a zero-score receipt is still emitted.
	assert.Equal(t, contracts.ReceiptDraft, receipts[0].Status)
	assert.Zero(t, receipts[0].Scores.Coherence)
}

func TestReceiptLifecycle(t *testing.T) {
	e := newEngine(t, t.TempDir(), goodScores())
	receipts, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)
	id := receipts[0].ReceiptID

	// anchored requires validated, verified requires anchored
	require.Error(t, e.MarkVerified(id))
	require.NoError(t, e.Anchor(id, "ledger-tx-1"))
	require.Error(t, e.Anchor(id, "ledger-tx-2"))
	require.NoError(t, e.MarkVerified(id))

	got := e.Receipt(id)
	require.NotNil(t, got)
	assert.Equal(t, contracts.ReceiptVerified, got.Status)
	assert.Equal(t, "ledger-tx-1", got.LedgerReference)
}

func TestRehydrateKeepsTapeOrder(t *testing.T) {
	dir := t.TempDir()
	e := newEngine(t, dir, goodScores())
	_, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0, 1, 2, 15, 16))
	require.NoError(t, err)
	tape := e.Tape()
	require.Len(t, tape, 2)

	reloaded := newEngine(t, dir, goodScores())
	assert.Equal(t, tape, reloaded.Tape())
	_, ok := reloaded.VerifyChain()
	assert.True(t, ok)
}

func TestRetentionSweep(t *testing.T) {
	dir := t.TempDir()
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	now := t0
	e := NewEngine(seg, &scoreStub{scores: goodScores()}, newStore(t, dir), 24*time.Hour, discard(),
		WithEngineClock(func() time.Time { return now }))

	_, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)

	now = t0.Add(48 * time.Hour)
	_, err = e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)

	expired := e.RetentionSweep(context.Background())
	assert.Equal(t, 1, expired)
	assert.Len(t, e.Tape(), 1)
}

func TestVerifyChainSurvivesRetentionSweep(t *testing.T) {
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	now := t0
	e := NewEngine(seg, &scoreStub{scores: goodScores()}, newStore(t, t.TempDir()), 24*time.Hour, discard(),
		WithEngineClock(func() time.Time { return now }))

	_, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)

	now = t0.Add(48 * time.Hour)
	_, err = e.ProcessSignals(context.Background(), signalsAtMinutes(0, 1))
	require.NoError(t, err)
	_, err = e.ProcessSignals(context.Background(), signalsAtMinutes(5))
	require.NoError(t, err)

	require.Equal(t, 1, e.RetentionSweep(context.Background()))
	require.Len(t, e.Tape(), 2)

	// Survivors still reference the swept receipt in their prior lists;
	// the chain must stay verifiable regardless.
	broken, ok := e.VerifyChain()
	assert.True(t, ok)
	assert.Empty(t, broken)
}

func TestVerifyChainDetectsTamperingAfterSweep(t *testing.T) {
	seg := &Segmenter{Strategy: contracts.SegmentHybrid, Window: 10 * time.Minute, Gap: 5 * time.Minute}
	now := t0
	e := NewEngine(seg, &scoreStub{scores: goodScores()}, newStore(t, t.TempDir()), 24*time.Hour, discard(),
		WithEngineClock(func() time.Time { return now }))

	_, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)
	now = t0.Add(48 * time.Hour)
	receipts, err := e.ProcessSignals(context.Background(), signalsAtMinutes(0))
	require.NoError(t, err)
	require.Equal(t, 1, e.RetentionSweep(context.Background()))

	e.receipts[receipts[0].ReceiptID].Scores.Coherence = 0.1
	broken, ok := e.VerifyChain()
	assert.False(t, ok)
	assert.Equal(t, receipts[0].ReceiptID, broken)
}

func TestBufferObserver(t *testing.T) {
	o := NewBufferObserver("shell")
	o.Record("ignored while stopped")
	require.NoError(t, o.Start())
	o.Record("make test")
	o.Record("git diff")
	require.NoError(t, o.Stop())
	o.Record("ignored again")

	signals := o.Drain()
	require.Len(t, signals, 2)
	assert.Equal(t, "shell", signals[0].Modality)
	assert.NotEmpty(t, signals[0].Hash)
	assert.Empty(t, o.Drain())
}

package burn

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

type stubChain struct {
	burns       []contracts.BurnRecord
	deposits    []contracts.Deposit
	refunds     []string
	forfeitures []string
}

func (s *stubChain) PostBurn(_ context.Context, b *contracts.BurnRecord) (string, error) {
	s.burns = append(s.burns, *b)
	return "tx-" + b.ID, nil
}

func (s *stubChain) PostDeposit(_ context.Context, d *contracts.Deposit) error {
	s.deposits = append(s.deposits, *d)
	return nil
}

func (s *stubChain) PostRefund(_ context.Context, d *contracts.Deposit) error {
	s.refunds = append(s.refunds, d.DepositID)
	return nil
}

func (s *stubChain) PostForfeiture(_ context.Context, d *contracts.Deposit) error {
	s.forfeitures = append(s.forfeitures, d.DepositID)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T, dir string) *store.FileStore {
	t.Helper()
	st, err := store.New(dir, LedgerSchema, discard())
	require.NoError(t, err)
	return st
}

func testParams() Params {
	return Params{
		BaseFilingBurn:        10,
		FreeDailySubmissions:  1,
		EscalationBase:        2,
		EscalationExponent:    1,
		SuccessBurnPercentage: 0.0005,
		LoadScalingEnabled:    true,
		MaxLoadMultiplier:     10,
	}
}

func TestFilingEscalation(t *testing.T) {
	// One free submission, then 10·2^1, then 10·2^2.
	chain := &stubChain{}
	led := NewLedger(testParams(), newStore(t, t.TempDir()), chain, discard(),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }))

	ctx := context.Background()
	first, _, err := led.ChargeFiling(ctx, "alice", "h1")
	require.NoError(t, err)
	assert.Zero(t, first.Amount)
	assert.Equal(t, contracts.BurnBaseFiling, first.Type)

	second, _, err := led.ChargeFiling(ctx, "alice", "h2")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, second.Amount, 1e-9)
	assert.Equal(t, contracts.BurnEscalated, second.Type)
	assert.NotEmpty(t, second.TxHash)

	third, _, err := led.ChargeFiling(ctx, "alice", "h3")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, third.Amount, 1e-9)

	// Only the priced submissions reach the chain.
	assert.Len(t, chain.burns, 2)
}

func TestRequiredBurnDoesNotCharge(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	assert.Zero(t, led.RequiredBurn("alice"))
	assert.Zero(t, led.SubmissionsToday("alice"))

	_, _, err := led.ChargeFiling(context.Background(), "alice", "h1")
	require.NoError(t, err)
	assert.InDelta(t, 20.0, led.RequiredBurn("alice"), 1e-9)
	assert.Equal(t, 1, led.SubmissionsToday("alice"))
}

func TestFilingAppliesLoadMultiplier(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	led.SetMultiplier(2.5)

	_, _, err := led.ChargeFiling(context.Background(), "alice", "h1")
	require.NoError(t, err)
	rec, _, err := led.ChargeFiling(context.Background(), "alice", "h2")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rec.Amount, 1e-9) // 10·2^1·2.5
	assert.Equal(t, contracts.BurnLoadScaled, rec.Type)
	assert.InDelta(t, 2.5, rec.Multiplier, 1e-9)
}

func TestCountersResetAtMidnightUTC(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard(),
		WithClock(func() time.Time { return now }))

	ctx := context.Background()
	_, _, err := led.ChargeFiling(ctx, "alice", "h1")
	require.NoError(t, err)
	_, _, err = led.ChargeFiling(ctx, "alice", "h2")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute) // crosses the UTC day boundary
	rec, _, err := led.ChargeFiling(ctx, "alice", "h3")
	require.NoError(t, err)
	assert.Zero(t, rec.Amount)
	assert.Equal(t, 1, led.SubmissionsToday("alice"))
}

func TestSuccessBurn(t *testing.T) {
	chain := &stubChain{}
	led := NewLedger(testParams(), newStore(t, t.TempDir()), chain, discard())

	rec, err := led.SuccessBurn(context.Background(), "stl-1", 1000)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 0.5, rec.Amount, 1e-9)
	assert.Equal(t, contracts.BurnSuccess, rec.Type)
	assert.Equal(t, "stl-1", rec.SettlementID)
}

func TestSuccessBurnSkipsDust(t *testing.T) {
	chain := &stubChain{}
	led := NewLedger(testParams(), newStore(t, t.TempDir()), chain, discard())

	rec, err := led.SuccessBurn(context.Background(), "stl-1", 0.1)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, chain.burns)
}

func TestDepositTakenPastFreeLimit(t *testing.T) {
	params := testParams()
	params.SybilResistance = true
	params.DailyFreeLimit = 1
	params.ExcessDepositAmount = 100
	params.DepositRefundDays = 7
	chain := &stubChain{}
	led := NewLedger(params, newStore(t, t.TempDir()), chain, discard())

	ctx := context.Background()
	_, dep, err := led.ChargeFiling(ctx, "alice", "h1")
	require.NoError(t, err)
	assert.Nil(t, dep)

	_, dep, err = led.ChargeFiling(ctx, "alice", "h2")
	require.NoError(t, err)
	require.NotNil(t, dep)
	assert.Equal(t, 100.0, dep.Amount)
	assert.Equal(t, contracts.DepositActive, dep.Status)
	assert.Len(t, chain.deposits, 1)
}

func TestRefundSweepAfterDeadline(t *testing.T) {
	params := testParams()
	params.SybilResistance = true
	params.DailyFreeLimit = 0
	params.DepositRefundDays = 7
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	chain := &stubChain{}
	led := NewLedger(params, newStore(t, t.TempDir()), chain, discard(),
		WithClock(func() time.Time { return now }))

	ctx := context.Background()
	_, dep, err := led.ChargeFiling(ctx, "alice", "h1")
	require.NoError(t, err)
	require.NotNil(t, dep)

	assert.Zero(t, led.RefundSweep(ctx))

	now = now.Add(8 * 24 * time.Hour)
	assert.Equal(t, 1, led.RefundSweep(ctx))
	assert.Equal(t, []string{dep.DepositID}, chain.refunds)
	assert.Equal(t, contracts.DepositRefunded, led.Deposit(dep.DepositID).Status)

	// Already refunded: nothing left to sweep.
	assert.Zero(t, led.RefundSweep(ctx))
}

func TestForfeitBeforeDeadline(t *testing.T) {
	params := testParams()
	params.SybilResistance = true
	params.DailyFreeLimit = 0
	chain := &stubChain{}
	led := NewLedger(params, newStore(t, t.TempDir()), chain, discard())

	_, dep, err := led.ChargeFiling(context.Background(), "mallory", "h1")
	require.NoError(t, err)
	require.NotNil(t, dep)

	require.NoError(t, led.Forfeit(context.Background(), dep.DepositID))
	assert.Equal(t, contracts.DepositForfeited, led.Deposit(dep.DepositID).Status)

	// A forfeited deposit cannot be forfeited twice.
	assert.Error(t, led.Forfeit(context.Background(), dep.DepositID))
	assert.Error(t, led.Forfeit(context.Background(), "missing"))
}

func TestLedgerRehydratesFromStore(t *testing.T) {
	dir := t.TempDir()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	led := NewLedger(testParams(), newStore(t, dir), &stubChain{}, discard(), WithClock(clock))
	_, _, err := led.ChargeFiling(context.Background(), "alice", "h1")
	require.NoError(t, err)
	_, _, err = led.ChargeFiling(context.Background(), "alice", "h2")
	require.NoError(t, err)

	revived := NewLedger(testParams(), newStore(t, dir), &stubChain{}, discard(), WithClock(clock))
	assert.Equal(t, 2, revived.SubmissionsToday("alice"))
	assert.Len(t, revived.History(), 2)
	// Multiplier never survives restarts.
	assert.Equal(t, 1.0, revived.Multiplier())
}

func TestFilingHistoryCarriesTxHash(t *testing.T) {
	dir := t.TempDir()
	chain := &stubChain{}
	led := NewLedger(testParams(), newStore(t, dir), chain, discard())

	ctx := context.Background()
	_, _, err := led.ChargeFiling(ctx, "alice", "h1")
	require.NoError(t, err)
	rec, _, err := led.ChargeFiling(ctx, "alice", "h2")
	require.NoError(t, err)
	require.NotEmpty(t, rec.TxHash)

	history := led.History()
	require.Len(t, history, 2)
	assert.Equal(t, rec.TxHash, history[1].TxHash)

	// The persisted history carries the hash too.
	revived := NewLedger(testParams(), newStore(t, dir), &stubChain{}, discard())
	history = revived.History()
	require.Len(t, history, 2)
	assert.Equal(t, rec.TxHash, history[1].TxHash)
}

func TestSetMultiplierClamps(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	led.SetMultiplier(0.2)
	assert.Equal(t, 1.0, led.Multiplier())
	led.SetMultiplier(99)
	assert.Equal(t, 10.0, led.Multiplier())
}

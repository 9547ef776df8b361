package burn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMonitorParams() MonitorParams {
	return MonitorParams{
		TargetIntentRate:  10,
		MaxIntentRate:     50,
		MaxLoadMultiplier: 10,
		SmoothingFactor:   0.3,
	}
}

func TestTickSurgePricing(t *testing.T) {
	// 25 submissions in the last minute against a target of 10/min.
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon := NewMonitor(testMonitorParams(), led, discard(),
		WithMonitorClock(func() time.Time { return now }))

	tickAt := now
	base := tickAt.Add(-50 * time.Second)
	for i := 0; i < 25; i++ {
		now = base.Add(time.Duration(i) * time.Second)
		mon.RecordSubmission()
	}
	now = tickAt

	stats := mon.Tick()
	assert.InDelta(t, 25.0, stats.IntentRate, 1e-9)
	assert.InDelta(t, 2.5, stats.LoadFactor, 1e-9)
	assert.InDelta(t, 4.375, stats.TargetMultiplier, 1e-9)
	assert.InDelta(t, 2.0125, stats.Multiplier, 1e-9)
	assert.InDelta(t, 2.0125, led.Multiplier(), 1e-9)
}

func TestTickIdleDecaysTowardUnity(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	led.SetMultiplier(4)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon := NewMonitor(testMonitorParams(), led, discard(),
		WithMonitorClock(func() time.Time { return now }))

	// No traffic: target is 1, λ decays by the smoothing factor each tick.
	stats := mon.Tick()
	assert.InDelta(t, 1.0, stats.TargetMultiplier, 1e-9)
	assert.InDelta(t, 4*0.7+0.3, stats.Multiplier, 1e-9)

	for i := 0; i < 50; i++ {
		stats = mon.Tick()
	}
	assert.InDelta(t, 1.0, stats.Multiplier, 1e-6)
}

func TestTickNeverExceedsMax(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	params := testMonitorParams()
	params.SmoothingFactor = 1 // no smoothing: λ jumps straight to target
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon := NewMonitor(params, led, discard(),
		WithMonitorClock(func() time.Time { return now }))

	for i := 0; i < 500; i++ {
		mon.RecordSubmission()
	}
	stats := mon.Tick()
	assert.Equal(t, 10.0, stats.TargetMultiplier)
	assert.Equal(t, 10.0, stats.Multiplier)
	assert.Equal(t, 10.0, led.Multiplier())
}

func TestDequesPruneToWindow(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon := NewMonitor(testMonitorParams(), led, discard(),
		WithMonitorClock(func() time.Time { return now }))

	mon.RecordSubmission()
	mon.RecordSettlement()

	// Ten minutes later both events fall out of the five-minute window.
	now = now.Add(10 * time.Minute)
	stats := mon.Tick()
	assert.Zero(t, stats.IntentRate)
	assert.Zero(t, stats.SettlementRate)
	require.Empty(t, mon.submissions)
	require.Empty(t, mon.settlements)
}

func TestRecordBurnBoundedAverage(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	mon := NewMonitor(testMonitorParams(), led, discard())

	for i := 0; i < maxBurnSamples+100; i++ {
		mon.RecordBurn(2)
	}
	assert.Len(t, mon.burns, maxBurnSamples)
	stats := mon.Tick()
	assert.InDelta(t, 2.0, stats.AvgBurn, 1e-9)
}

func TestEventsOlderThanAMinuteExcludedFromRate(t *testing.T) {
	led := NewLedger(testParams(), newStore(t, t.TempDir()), &stubChain{}, discard())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mon := NewMonitor(testMonitorParams(), led, discard(),
		WithMonitorClock(func() time.Time { return now }))

	mon.RecordSubmission() // at t0

	now = now.Add(90 * time.Second)
	mon.RecordSubmission() // inside the rate window

	stats := mon.Tick()
	// First event is still inside the 5-minute deque but outside the rate
	// minute, so only one counts.
	assert.InDelta(t, 1.0, stats.IntentRate, 1e-9)
	assert.Len(t, mon.submissions, 2)
}

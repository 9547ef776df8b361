package burn

import (
	"log/slog"
	"sync"
	"time"
)

const (
	monitorWindow  = 5 * time.Minute
	rateWindow     = time.Minute
	maxBurnSamples = 1000
)

// MultiplierSink receives the smoothed multiplier each tick. *Ledger
// satisfies it.
type MultiplierSink interface {
	SetMultiplier(lambda float64)
	Multiplier() float64
}

// MonitorParams are the congestion-pricing knobs.
type MonitorParams struct {
	TargetIntentRate  float64 // submissions per minute considered normal
	MaxIntentRate     float64 // rate at which the multiplier saturates
	MaxLoadMultiplier float64
	SmoothingFactor   float64
}

// Stats is one tick's observation, for logging and the load_report gossip.
type Stats struct {
	IntentRate       float64 `json:"intent_rate"`
	SettlementRate   float64 `json:"settlement_rate"`
	AvgBurn          float64 `json:"avg_burn"`
	LoadFactor       float64 `json:"load_factor"`
	TargetMultiplier float64 `json:"target_multiplier"`
	Multiplier       float64 `json:"multiplier"`
}

// Monitor estimates submission pressure from sliding timestamp deques and
// drives the ledger's load multiplier with exponentially smoothed updates.
type Monitor struct {
	mu          sync.Mutex
	params      MonitorParams
	sink        MultiplierSink
	logger      *slog.Logger
	clock       func() time.Time
	submissions []time.Time
	settlements []time.Time
	burns       []float64
}

// NewMonitor wires the monitor to its multiplier sink.
func NewMonitor(params MonitorParams, sink MultiplierSink, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{params: params, sink: sink, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MonitorOption customises a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorClock injects a time source for tests.
func WithMonitorClock(clock func() time.Time) MonitorOption {
	return func(m *Monitor) { m.clock = clock }
}

// RecordSubmission notes one intent submission at the current time.
func (m *Monitor) RecordSubmission() {
	m.mu.Lock()
	m.submissions = append(m.submissions, m.clock())
	m.mu.Unlock()
}

// RecordSettlement notes one settlement at the current time.
func (m *Monitor) RecordSettlement() {
	m.mu.Lock()
	m.settlements = append(m.settlements, m.clock())
	m.mu.Unlock()
}

// RecordBurn notes a burn amount for the rolling average.
func (m *Monitor) RecordBurn(amount float64) {
	m.mu.Lock()
	m.burns = append(m.burns, amount)
	if len(m.burns) > maxBurnSamples {
		m.burns = m.burns[len(m.burns)-maxBurnSamples:]
	}
	m.mu.Unlock()
}

// Tick prunes the deques, recomputes rates, and pushes the smoothed
// multiplier into the sink. Returns the tick's stats.
func (m *Monitor) Tick() Stats {
	now := m.clock()

	m.mu.Lock()
	m.submissions = prune(m.submissions, now.Add(-monitorWindow))
	m.settlements = prune(m.settlements, now.Add(-monitorWindow))
	intentRate := ratePerMinute(m.submissions, now)
	settlementRate := ratePerMinute(m.settlements, now)
	avgBurn := mean(m.burns)
	m.mu.Unlock()

	loadFactor := intentRate / m.params.TargetIntentRate
	target := m.targetMultiplier(loadFactor)

	alpha := m.params.SmoothingFactor
	lambda := m.sink.Multiplier()*(1-alpha) + target*alpha
	if lambda < 1 {
		lambda = 1
	}
	if lambda > m.params.MaxLoadMultiplier {
		lambda = m.params.MaxLoadMultiplier
	}
	m.sink.SetMultiplier(lambda)

	stats := Stats{
		IntentRate:       intentRate,
		SettlementRate:   settlementRate,
		AvgBurn:          avgBurn,
		LoadFactor:       loadFactor,
		TargetMultiplier: target,
		Multiplier:       lambda,
	}
	m.logger.Debug("load monitor tick",
		"intent_rate", intentRate,
		"load_factor", loadFactor,
		"multiplier", lambda,
	)
	return stats
}

// targetMultiplier maps loadFactor to [1, max] piecewise linearly: unity at
// or below the target rate, saturating at the max rate.
func (m *Monitor) targetMultiplier(loadFactor float64) float64 {
	if loadFactor <= 1 {
		return 1
	}
	span := m.params.MaxIntentRate/m.params.TargetIntentRate - 1
	target := 1 + (loadFactor-1)/span*(m.params.MaxLoadMultiplier-1)
	if target > m.params.MaxLoadMultiplier {
		return m.params.MaxLoadMultiplier
	}
	return target
}

func prune(deque []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(deque) && deque[i].Before(cutoff) {
		i++
	}
	return deque[i:]
}

// ratePerMinute counts events inside the most recent minute.
func ratePerMinute(deque []time.Time, now time.Time) float64 {
	cutoff := now.Add(-rateWindow)
	count := 0
	for i := len(deque) - 1; i >= 0; i-- {
		if deque[i].Before(cutoff) {
			break
		}
		count++
	}
	return float64(count)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

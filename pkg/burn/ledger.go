// Package burn implements the submission-pricing economics: per-user daily
// counters with exponential escalation, the global load multiplier, success
// burns on settlement closure, and anti-Sybil deposit escrow.
package burn

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kase1111-hash/mediator-node-sub001/pkg/contracts"
)

const (
	maxHistoryRecords = 10000
	minSuccessBurn    = 1e-4
)

// Chain is the slice of the ledger client the burn subsystem needs.
type Chain interface {
	PostBurn(ctx context.Context, b *contracts.BurnRecord) (string, error)
	PostDeposit(ctx context.Context, d *contracts.Deposit) error
	PostRefund(ctx context.Context, d *contracts.Deposit) error
	PostForfeiture(ctx context.Context, d *contracts.Deposit) error
}

// Store is the persistence slice used by the ledger.
type Store interface {
	Save(id string, v interface{}) error
	Load(id string, v interface{}) error
}

// Params are the pricing knobs, fixed at construction.
type Params struct {
	BaseFilingBurn        float64
	FreeDailySubmissions  int
	EscalationBase        float64
	EscalationExponent    float64
	SuccessBurnPercentage float64
	LoadScalingEnabled    bool
	MaxLoadMultiplier     float64

	SybilResistance     bool
	DailyFreeLimit      int
	ExcessDepositAmount float64
	DepositRefundDays   int
}

// Ledger owns the burn-economics state region: daily counters, deposits,
// burn history, and the current load multiplier.
type Ledger struct {
	mu         sync.Mutex
	params     Params
	store      Store
	chain      Chain
	logger     *slog.Logger
	clock      func() time.Time
	daily      map[string]*contracts.UserDaily // author|date
	deposits   map[string]*contracts.Deposit
	history    []contracts.BurnRecord
	multiplier float64
}

type ledgerState struct {
	Daily    map[string]*contracts.UserDaily `json:"daily"`
	Deposits map[string]*contracts.Deposit   `json:"deposits"`
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock injects a time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// NewLedger rehydrates counters, deposits, and history from the store.
// Corrupt state files surface as absent and the ledger starts empty; the
// multiplier always starts at 1 regardless of prior runs.
func NewLedger(params Params, st Store, chain Chain, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		params:     params,
		store:      st,
		chain:      chain,
		logger:     logger,
		clock:      time.Now,
		daily:      make(map[string]*contracts.UserDaily),
		deposits:   make(map[string]*contracts.Deposit),
		multiplier: 1,
	}
	for _, opt := range opts {
		opt(l)
	}

	var state ledgerState
	if err := st.Load("submissions", &state); err == nil {
		if state.Daily != nil {
			l.daily = state.Daily
		}
		if state.Deposits != nil {
			l.deposits = state.Deposits
		}
	}
	var history []contracts.BurnRecord
	if err := st.Load("history", &history); err == nil {
		l.history = history
	}
	return l
}

func (l *Ledger) dayKey(author string, now time.Time) string {
	return author + "|" + now.UTC().Format("2006-01-02")
}

// Multiplier returns the current global load multiplier.
func (l *Ledger) Multiplier() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.multiplier
}

// SetMultiplier installs a new smoothed multiplier, clamped to
// [1, MaxLoadMultiplier]. Called by the load monitor each tick.
func (l *Ledger) SetMultiplier(lambda float64) {
	if lambda < 1 {
		lambda = 1
	}
	if lambda > l.params.MaxLoadMultiplier {
		lambda = l.params.MaxLoadMultiplier
	}
	l.mu.Lock()
	l.multiplier = lambda
	l.mu.Unlock()
}

// RequiredBurn prices the author's NEXT submission without charging it.
func (l *Ledger) RequiredBurn(author string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 1
	if d, ok := l.daily[l.dayKey(author, l.clock())]; ok {
		n = d.SubmissionCount + 1
	}
	return l.price(n)
}

// price computes the filing burn for submission ordinal n (1-based).
func (l *Ledger) price(n int) float64 {
	free := l.params.FreeDailySubmissions
	if n <= free {
		return 0
	}
	amount := l.params.BaseFilingBurn *
		math.Pow(l.params.EscalationBase, float64(n-free)*l.params.EscalationExponent)
	if l.params.LoadScalingEnabled {
		amount *= l.multiplier
	}
	return amount
}

// ChargeFiling records a submission for the author, posts any non-zero burn
// to the chain, and escrows an anti-Sybil deposit past the daily free limit.
// The returned deposit is nil unless one was taken.
func (l *Ledger) ChargeFiling(ctx context.Context, author, intentHash string) (*contracts.BurnRecord, *contracts.Deposit, error) {
	l.mu.Lock()
	now := l.clock()
	key := l.dayKey(author, now)
	d, ok := l.daily[key]
	if !ok {
		d = &contracts.UserDaily{Author: author, Date: now.UTC().Format("2006-01-02")}
		l.daily[key] = d
	}
	d.SubmissionCount++
	d.LastSubmissionAt = now
	n := d.SubmissionCount
	amount := l.price(n)
	lambda := l.multiplier

	record := &contracts.BurnRecord{
		ID:         uuid.NewString(),
		Type:       burnType(n, l.params.FreeDailySubmissions, lambda),
		Author:     author,
		Amount:     amount,
		IntentHash: intentHash,
		Multiplier: lambda,
		Timestamp:  now,
	}
	d.TotalBurned += amount

	var deposit *contracts.Deposit
	if l.params.SybilResistance && n > l.params.DailyFreeLimit {
		deposit = &contracts.Deposit{
			DepositID:      uuid.NewString(),
			Author:         author,
			IntentHash:     intentHash,
			Amount:         l.params.ExcessDepositAmount,
			SubmittedAt:    now,
			RefundDeadline: now.Add(time.Duration(l.params.DepositRefundDays) * 24 * time.Hour),
			Status:         contracts.DepositActive,
		}
		l.deposits[deposit.DepositID] = deposit
	}
	l.mu.Unlock()

	// History is appended only after the chain call so the persisted record
	// carries its transaction hash.
	if amount > 0 && l.chain != nil {
		tx, err := l.chain.PostBurn(ctx, record)
		if err != nil {
			l.appendHistory(record)
			return record, deposit, fmt.Errorf("post filing burn: %w", err)
		}
		record.TxHash = tx
	}
	l.appendHistory(record)
	if deposit != nil && l.chain != nil {
		if err := l.chain.PostDeposit(ctx, deposit); err != nil {
			return record, deposit, fmt.Errorf("post deposit: %w", err)
		}
	}
	if err := l.persist(); err != nil {
		l.logger.WarnContext(ctx, "burn ledger persist failed", "error", err)
	}
	return record, deposit, nil
}

func burnType(n, free int, lambda float64) contracts.BurnType {
	switch {
	case n <= free:
		return contracts.BurnBaseFiling
	case lambda > 1:
		return contracts.BurnLoadScaled
	default:
		return contracts.BurnEscalated
	}
}

// SuccessBurn charges the facilitation burn when a settlement finalizes.
// Amounts below the dust floor are skipped and return nil.
func (l *Ledger) SuccessBurn(ctx context.Context, settlementID string, settlementValue float64) (*contracts.BurnRecord, error) {
	amount := settlementValue * l.params.SuccessBurnPercentage
	if amount < minSuccessBurn {
		return nil, nil
	}
	now := l.clock()
	record := &contracts.BurnRecord{
		ID:           uuid.NewString(),
		Type:         contracts.BurnSuccess,
		Amount:       amount,
		SettlementID: settlementID,
		Multiplier:   1,
		Timestamp:    now,
	}
	if l.chain != nil {
		tx, err := l.chain.PostBurn(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("post success burn: %w", err)
		}
		record.TxHash = tx
	}
	l.appendHistory(record)
	if err := l.persist(); err != nil {
		l.logger.WarnContext(ctx, "burn ledger persist failed", "error", err)
	}
	return record, nil
}

// RefundSweep refunds every active deposit past its deadline. Returns the
// number refunded; chain failures leave the deposit active for the next sweep.
func (l *Ledger) RefundSweep(ctx context.Context) int {
	now := l.clock()
	l.mu.Lock()
	var due []*contracts.Deposit
	for _, d := range l.deposits {
		if d.Status == contracts.DepositActive && !now.Before(d.RefundDeadline) {
			due = append(due, d)
		}
	}
	l.mu.Unlock()

	refunded := 0
	for _, d := range due {
		if l.chain != nil {
			if err := l.chain.PostRefund(ctx, d); err != nil {
				l.logger.WarnContext(ctx, "deposit refund failed", "deposit_id", d.DepositID, "error", err)
				continue
			}
		}
		l.mu.Lock()
		d.Status = contracts.DepositRefunded
		l.mu.Unlock()
		refunded++
	}
	if refunded > 0 {
		if err := l.persist(); err != nil {
			l.logger.WarnContext(ctx, "burn ledger persist failed", "error", err)
		}
	}
	return refunded
}

// Forfeit forfeits an active deposit ahead of its refund deadline, on the
// strength of a validated spam proof.
func (l *Ledger) Forfeit(ctx context.Context, depositID string) error {
	l.mu.Lock()
	d, ok := l.deposits[depositID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("deposit %s not found", depositID)
	}
	if d.Status != contracts.DepositActive {
		l.mu.Unlock()
		return fmt.Errorf("deposit %s is %s, not active", depositID, d.Status)
	}
	l.mu.Unlock()

	if l.chain != nil {
		if err := l.chain.PostForfeiture(ctx, d); err != nil {
			return fmt.Errorf("post forfeiture: %w", err)
		}
	}
	l.mu.Lock()
	d.Status = contracts.DepositForfeited
	l.mu.Unlock()
	if err := l.persist(); err != nil {
		l.logger.WarnContext(ctx, "burn ledger persist failed", "error", err)
	}
	return nil
}

// Deposit returns a deposit by id, or nil.
func (l *Ledger) Deposit(depositID string) *contracts.Deposit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.deposits[depositID]; ok {
		copied := *d
		return &copied
	}
	return nil
}

// SubmissionsToday returns the author's submission count for the current
// UTC day.
func (l *Ledger) SubmissionsToday(author string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d, ok := l.daily[l.dayKey(author, l.clock())]; ok {
		return d.SubmissionCount
	}
	return 0
}

func (l *Ledger) appendHistory(record *contracts.BurnRecord) {
	l.mu.Lock()
	l.history = append(l.history, *record)
	l.mu.Unlock()
}

// History returns a copy of the burn history, newest last.
func (l *Ledger) History() []contracts.BurnRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]contracts.BurnRecord, len(l.history))
	copy(out, l.history)
	return out
}

// persist writes counters, deposits, and truncated history to the store.
func (l *Ledger) persist() error {
	l.mu.Lock()
	if len(l.history) > maxHistoryRecords {
		l.history = append([]contracts.BurnRecord(nil), l.history[len(l.history)-maxHistoryRecords:]...)
	}
	state := ledgerState{
		Daily:    make(map[string]*contracts.UserDaily, len(l.daily)),
		Deposits: make(map[string]*contracts.Deposit, len(l.deposits)),
	}
	for k, v := range l.daily {
		copied := *v
		state.Daily[k] = &copied
	}
	for k, v := range l.deposits {
		copied := *v
		state.Deposits[k] = &copied
	}
	history := make([]contracts.BurnRecord, len(l.history))
	copy(history, l.history)
	l.mu.Unlock()

	if err := l.store.Save("submissions", &state); err != nil {
		return err
	}
	return l.store.Save("history", &history)
}

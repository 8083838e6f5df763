// Package ledger implements cash-settlement bookkeeping for a cash
// brokerage account. Sale proceeds sit in pending buckets until their T+1
// settlement date; only settled cash counts as buying power.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"limitless/internal/domain"
	"limitless/internal/store"
)

// ErrInsufficientFunds is returned by Reserve when the requested amount
// exceeds available buying power. It blocks one entry and is not fatal.
var ErrInsufficientFunds = errors.New("insufficient settled funds")

// ErrCorrupt is returned when the ledger's internal invariants no longer
// hold. It is fatal: the engine must halt rather than keep trading.
var ErrCorrupt = errors.New("ledger invariant violation")

// reconcileEpsilon absorbs float rounding in the bookkeeping identity.
const reconcileEpsilon = 1e-6

// SettleFn maps a trade date to its settlement date (next business day).
type SettleFn func(tradeDate time.Time) time.Time

// Ledger tracks settled cash and pending settlement buckets.
//
// Concurrency: single writer. Reserve, Release, RecordSale and
// RollSettlement are called only from the engine goroutine; Snapshot may be
// called from any goroutine and holds the lock only long enough to copy.
type Ledger struct {
	mu         sync.Mutex
	settled    float64
	buckets    []domain.Bucket // pending only; settled buckets are merged and dropped
	nextID     int64
	cumBuys    float64
	cumSells   float64
	baseline   float64
	settleDate SettleFn
	persist    store.LedgerStore // optional
	log        *slog.Logger
}

// New creates a Ledger. If persist holds previous state it is restored;
// otherwise the ledger starts with initialCash settled.
func New(initialCash float64, settleDate SettleFn, persist store.LedgerStore, log *slog.Logger) (*Ledger, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		settled:    initialCash,
		baseline:   initialCash,
		nextID:     1,
		settleDate: settleDate,
		persist:    persist,
		log:        log.With("component", "ledger"),
	}

	if persist != nil {
		state, err := persist.LoadLedger(context.Background())
		if err != nil {
			return nil, fmt.Errorf("restoring ledger: %w", err)
		}
		if state != nil {
			l.settled = state.SettledCash
			l.cumBuys = state.CumBuys
			l.cumSells = state.CumSells
			l.baseline = state.Baseline
			l.buckets = append([]domain.Bucket(nil), state.Buckets...)
			for _, b := range l.buckets {
				if b.ID >= l.nextID {
					l.nextID = b.ID + 1
				}
			}
			l.log.Info("ledger restored",
				"settled", l.settled,
				"pending_buckets", len(l.buckets),
			)
		}
	}

	if l.settled < 0 {
		return nil, fmt.Errorf("%w: restored settled cash %.2f is negative", ErrCorrupt, l.settled)
	}
	return l, nil
}

// Reserve atomically checks amount against available buying power and, on
// success, debits settled cash. The caller must not submit a buy order when
// Reserve fails.
func (l *Ledger) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %.2f", amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.settled {
		return fmt.Errorf("%w: need %.2f, available %.2f", ErrInsufficientFunds, amount, l.settled)
	}
	l.settled -= amount
	l.cumBuys += amount
	l.save()
	return nil
}

// Release returns a previous reservation to buying power. Used when an
// entry order is rejected, cancelled, or times out before filling.
func (l *Ledger) Release(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settled += amount
	l.cumBuys -= amount
	l.save()
}

// RecordSale creates a pending bucket for the net proceeds of a fill on
// tradeDate. The proceeds become buying power only after RollSettlement
// observes the bucket's settlement date.
func (l *Ledger) RecordSale(proceeds float64, tradeDate time.Time) (int64, error) {
	if proceeds < 0 {
		return 0, fmt.Errorf("sale proceeds must be non-negative, got %.2f", proceeds)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := domain.Bucket{
		ID:             l.nextID,
		Amount:         proceeds,
		SettlementDate: l.settleDate(tradeDate),
		Status:         domain.BucketPending,
	}
	l.nextID++
	l.buckets = append(l.buckets, b)
	l.cumSells += proceeds
	l.save()
	return b.ID, nil
}

// RollSettlement settles every pending bucket whose settlement date has
// been reached and folds its amount into settled cash. Idempotent: calling
// twice with the same date is a no-op the second time. Returns ErrCorrupt
// if the bookkeeping identity no longer holds.
func (l *Ledger) RollSettlement(current time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.buckets[:0]
	changed := false
	for _, b := range l.buckets {
		if !b.SettlementDate.After(current) {
			l.settled += b.Amount
			changed = true
			continue
		}
		remaining = append(remaining, b)
	}
	l.buckets = remaining

	if err := l.checkInvariants(); err != nil {
		return err
	}
	if changed {
		l.save()
	}
	return nil
}

// Snapshot returns a copy of the ledger state. Safe from any goroutine.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := domain.LedgerSnapshot{
		SettledCash: l.settled,
		Pending:     make([]domain.Bucket, len(l.buckets)),
	}
	copy(snap.Pending, l.buckets)
	for _, b := range l.buckets {
		snap.PendingTotal += b.Amount
	}
	return snap
}

// checkInvariants verifies, under the lock, that settled cash is
// non-negative and that baseline + sells − buys equals settled + pending.
func (l *Ledger) checkInvariants() error {
	if l.settled < 0 {
		return fmt.Errorf("%w: settled cash %.2f is negative", ErrCorrupt, l.settled)
	}
	var pending float64
	for _, b := range l.buckets {
		pending += b.Amount
	}
	expect := l.baseline + l.cumSells - l.cumBuys
	if math.Abs(expect-(l.settled+pending)) > reconcileEpsilon {
		return fmt.Errorf("%w: expected %.6f, have settled %.6f + pending %.6f",
			ErrCorrupt, expect, l.settled, pending)
	}
	return nil
}

// save persists the current state best-effort; the in-memory ledger remains
// authoritative within a run. Caller holds the lock.
func (l *Ledger) save() {
	if l.persist == nil {
		return
	}
	state := &store.LedgerState{
		SettledCash: l.settled,
		CumBuys:     l.cumBuys,
		CumSells:    l.cumSells,
		Baseline:    l.baseline,
		Buckets:     append([]domain.Bucket(nil), l.buckets...),
	}
	if err := l.persist.SaveLedger(context.Background(), state); err != nil {
		l.log.Warn("persisting ledger state", "error", err)
	}
}

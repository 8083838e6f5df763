// Package risk tracks realized PnL against the day's starting equity and
// enforces the soft and hard daily caps. Both PnL directions are guarded:
// gain caps stop the engine from giving a good day back, loss caps are the
// daily kill switch.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"limitless/internal/domain"
	"limitless/internal/store"
)

// Caps holds the four threshold fractions of starting equity. A zero or
// negative value disables that direction.
type Caps struct {
	SoftGainPct float64
	HardGainPct float64
	SoftLossPct float64
	HardLossPct float64
}

// Tracker is the per-trading-date cap state. Cap hits are sticky: once a
// threshold trips it stays tripped until the next trading date starts.
//
// Concurrency: single writer (the engine goroutine) for OnTradeDateStart
// and RecordRealized; the query methods may be called from any goroutine.
type Tracker struct {
	mu      sync.Mutex
	caps    Caps
	state   domain.DailyCapState
	persist store.DayStateStore // optional
	log     *slog.Logger
}

// NewTracker creates a Tracker with no active trading date. The first
// OnTradeDateStart initializes it.
func NewTracker(caps Caps, persist store.DayStateStore, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		caps:    caps,
		persist: persist,
		log:     log.With("component", "caps"),
	}
}

// OnTradeDateStart resets tracking for a new trading date, anchored at the
// day's starting equity. If persisted state exists for the same date (an
// intraday restart) it is restored instead, so a halt survives the restart.
func (t *Tracker) OnTradeDateStart(date time.Time, equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.persist != nil {
		if prev, err := t.persist.LoadDayState(context.Background(), date); err != nil {
			t.log.Warn("loading day state", "error", err)
		} else if prev != nil {
			t.state = *prev
			t.log.Info("day state restored",
				"date", date.Format("2006-01-02"),
				"realized", prev.RealizedPnL,
				"soft_hit", prev.SoftCapHit,
				"hard_hit", prev.HardCapHit,
			)
			return
		}
	}

	t.state = domain.DailyCapState{
		TradingDate:    date,
		StartingEquity: equity,
	}
	t.save()
	t.log.Info("trading day started", "date", date.Format("2006-01-02"), "equity", equity)
}

// RecordRealized accumulates realized PnL and re-evaluates the caps.
func (t *Tracker) RecordRealized(delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.RealizedPnL += delta
	t.evaluate()
	t.save()
}

// evaluate trips cap flags. Caller holds the lock. Flags only ever go from
// false to true within a trading date.
func (t *Tracker) evaluate() {
	eq := t.state.StartingEquity
	if eq <= 0 {
		return
	}
	pnl := t.state.RealizedPnL

	if t.caps.SoftGainPct > 0 && pnl >= eq*t.caps.SoftGainPct {
		t.state.SoftCapHit = true
	}
	if t.caps.HardGainPct > 0 && pnl >= eq*t.caps.HardGainPct {
		t.state.HardCapHit = true
	}
	if t.caps.SoftLossPct > 0 && pnl <= -eq*t.caps.SoftLossPct {
		t.state.SoftCapHit = true
	}
	if t.caps.HardLossPct > 0 && pnl <= -eq*t.caps.HardLossPct {
		t.state.HardCapHit = true
	}
}

// AllowsNewEntries reports whether new positions may be armed. False once
// the soft cap (either direction) has been hit.
func (t *Tracker) AllowsNewEntries() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.state.SoftCapHit && !t.state.HardCapHit
}

// RequiresFlatten reports whether every open position must be force-exited.
// True once the hard cap has been hit; stays true until the next date.
func (t *Tracker) RequiresFlatten() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.HardCapHit
}

// State returns a copy of the day's cap state.
func (t *Tracker) State() domain.DailyCapState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TradingDate returns the date the tracker is currently anchored to.
func (t *Tracker) TradingDate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.TradingDate
}

// save persists the day state best-effort. Caller holds the lock.
func (t *Tracker) save() {
	if t.persist == nil {
		return
	}
	state := t.state
	if err := t.persist.SaveDayState(context.Background(), &state); err != nil {
		t.log.Warn("persisting day state", "error", err)
	}
}

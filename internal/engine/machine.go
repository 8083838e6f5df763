package engine

import (
	"math"
	"time"

	"limitless/internal/config"
	"limitless/internal/domain"
)

// Exit reasons recorded in the fill journal and event payloads.
const (
	exitTargetHit     = "target_hit"
	exitMAECut        = "mae_cut"
	exitATRTrail      = "atr_trail_stop"
	exitFridayFlatten = "friday_flatten"
	exitCapFlatten    = "hard_cap_flatten"
	exitAnomaly       = "anomaly"
)

// machine is the per-symbol lifecycle record. All fields are owned by the
// engine goroutine; external readers go through Engine.PositionSnapshots.
type machine struct {
	pos domain.Position

	// Armed setup, valid in armed and entering.
	entryPrice float64
	target     float64
	qty        int64
	atr        float64

	// In-flight order, valid in entering and exiting.
	order      domain.Order
	placedAt   time.Time
	exitReason string
	submitTry  int

	// Ledger reservation outstanding for an unfilled entry.
	reserved float64

	trailStop     float64
	cooldownUntil time.Time
}

func newMachine(symbol string) *machine {
	return &machine{pos: domain.Position{Symbol: symbol, State: domain.StateIdle}}
}

// reset clears everything but the symbol and cooldown clock.
func (m *machine) reset() {
	sym := m.pos.Symbol
	cooldown := m.cooldownUntil
	*m = machine{pos: domain.Position{Symbol: sym, State: domain.StateIdle}}
	m.cooldownUntil = cooldown
}

// ---------------------------------------------------------------------------
// Sizing and pricing
// ---------------------------------------------------------------------------

// entryPriceFor picks the working entry price: the signal bar high for
// buy-stop entries, the last close for buy-limit.
func entryPriceFor(orderType string, ev domain.Evaluation) float64 {
	if orderType == "buy_stop" {
		return ev.SignalHigh
	}
	return ev.Price
}

// targetFor computes the take-profit limit: the percent target, stretched
// to an ATR-based target when that is further away. Rounded to cents.
func targetFor(entry, atr float64, cfg config.Strategy) float64 {
	target := entry * (1.0 + cfg.TargetPct)
	if cfg.ATRTakeProfitK > 0 && atr > 0 {
		if alt := entry + cfg.ATRTakeProfitK*atr; alt > target {
			target = alt
		}
	}
	return math.Round(target*100) / 100
}

// qtyFor sizes an entry: the symbol's notional budget, clipped to the
// utilization fraction of available buying power. Zero when even one share
// does not fit.
func qtyFor(notional, buyingPower, utilization, price float64) int64 {
	if price <= 0 {
		return 0
	}
	spend := notional
	if limit := buyingPower * utilization; limit < spend {
		spend = limit
	}
	qty := int64(spend / price)
	if qty < 1 {
		return 0
	}
	return qty
}

// slippageExceeded reports whether price has already run too far past the
// signal bar high to chase.
func slippageExceeded(price, signalHigh, maxPct float64) bool {
	if maxPct <= 0 || signalHigh <= 0 {
		return false
	}
	return (price-signalHigh)/signalHigh > maxPct
}

// ---------------------------------------------------------------------------
// Exit decision
// ---------------------------------------------------------------------------

// updateMarks folds the latest price into the trailing high-water mark and
// the max adverse excursion.
func (m *machine) updateMarks(price float64) {
	if price > m.pos.TrailingHigh {
		m.pos.TrailingHigh = price
	}
	if adverse := m.pos.EntryPrice - price; adverse > m.pos.MaxAdverse {
		m.pos.MaxAdverse = adverse
	}
}

// decideExit returns the exit reason for an open position at the latest
// price, or "" to stay in. flattenReason forces an exit. Checked in
// priority order: forced flatten, target, MAE cut, ATR trail.
func (m *machine) decideExit(price, atr float64, cfg config.Strategy, flattenReason string, inPowerOK bool) string {
	if flattenReason != "" {
		return flattenReason
	}
	if price >= m.pos.TargetPrice {
		return exitTargetHit
	}
	if cfg.MAEStopK > 0 && atr > 0 && price < m.pos.EntryPrice-cfg.MAEStopK*atr {
		return exitMAECut
	}
	if cfg.ATRTrailK > 0 && atr > 0 && inPowerOK {
		if proposed := m.pos.TrailingHigh - cfg.ATRTrailK*atr; proposed > m.trailStop {
			m.trailStop = proposed
		}
		// The trail only locks in gains; it never converts a winner into a
		// realized loss below entry.
		if m.trailStop > 0 && price < m.trailStop && price > m.pos.EntryPrice {
			return exitATRTrail
		}
	}
	return ""
}

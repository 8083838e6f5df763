// Package domain defines the core value types shared across the trading
// system: positions and their lifecycle states, orders, account state,
// signal evaluations, and ledger projections. The package has no
// dependencies so that no SDK types leak into the trading core.
package domain

import (
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Markets and bars
// ---------------------------------------------------------------------------

// Market identifies a trading venue family.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single OHLCV bar.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the broker-reported state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a broker order reference held by the engine while an entry or
// exit is in flight.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Qty            int64
	LimitPrice     float64
	StopPrice      float64
	TargetPrice    float64 // bracket take-profit, zero if none
	Status         OrderStatus
	FilledQty      int64
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// ---------------------------------------------------------------------------
// Positions
// ---------------------------------------------------------------------------

// PositionState is a symbol's place in the trading lifecycle.
type PositionState string

const (
	StateIdle     PositionState = "idle"
	StateArmed    PositionState = "armed"
	StateEntering PositionState = "entering"
	StateOpen     PositionState = "open"
	StateExiting  PositionState = "exiting"
	StateClosed   PositionState = "closed"
	StateCooldown PositionState = "cooldown"
)

// Active reports whether the state counts against the concurrency cap.
func (s PositionState) Active() bool {
	return s == StateEntering || s == StateOpen
}

// Position is the engine-owned record of a symbol's open trade. It is
// mutated only by the engine goroutine; external readers get a copy via
// Snapshot.
type Position struct {
	Symbol       string
	State        PositionState
	Qty          int64
	EntryPrice   float64
	EntryTime    time.Time
	StopPrice    float64
	TargetPrice  float64
	TrailingHigh float64 // high-water mark since entry
	MaxAdverse   float64 // worst unrealized loss per share (>= 0)
}

// Snapshot returns a copy safe to hand to readers outside the engine.
func (p *Position) Snapshot() Position { return *p }

// ---------------------------------------------------------------------------
// Account
// ---------------------------------------------------------------------------

// AccountInfo is a broker account snapshot.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	IsPaper     bool
}

// ---------------------------------------------------------------------------
// Signal evaluation
// ---------------------------------------------------------------------------

// UndefinedVWAP is the sentinel for a VWAP that cannot be computed (zero
// cumulative volume). Comparisons against it through the helpers below fail
// closed instead of treating it as zero.
func UndefinedVWAP() float64 { return math.NaN() }

// Evaluation is a signal provider's read of one symbol. All boolean gates
// are false when the underlying value is undefined.
type Evaluation struct {
	Symbol string

	// Pre-entry filters.
	TrendOK      bool    // EMA20 > EMA50
	AboveVWAP    bool    // close above session VWAP
	AboveOpenRng bool    // close above opening-range high
	TouchedVWAP  bool    // recent touch or near-touch of VWAP
	NotExtended  bool    // extension above VWAP within tolerance
	VWAP         float64 // NaN when undefined

	// Confirmation filters.
	ConfirmOK bool // higher-low / VWAP-reclaim / retest, per config

	// Guardrails.
	RVOL      float64
	SpreadPct float64

	// Exit inputs.
	ATR float64

	// Reference prices.
	Price      float64 // last close
	SignalHigh float64 // high of the signal bar (buy-stop trigger)
}

// VWAPDefined reports whether the session VWAP could be computed.
func (e Evaluation) VWAPDefined() bool { return !math.IsNaN(e.VWAP) }

// EntryReady reports whether every pre-entry filter passed. An undefined
// VWAP makes this false regardless of the other gates.
func (e Evaluation) EntryReady() bool {
	return e.VWAPDefined() &&
		e.TrendOK && e.AboveVWAP && e.AboveOpenRng &&
		e.TouchedVWAP && e.NotExtended
}

// ---------------------------------------------------------------------------
// Ledger projections
// ---------------------------------------------------------------------------

// BucketStatus is the settlement state of a proceeds bucket.
type BucketStatus string

const (
	BucketPending BucketStatus = "pending"
	BucketSettled BucketStatus = "settled"
)

// Bucket is a ledger record of sale proceeds pending T+1 settlement.
type Bucket struct {
	ID             int64
	Amount         float64
	SettlementDate time.Time // date granularity, ET
	Status         BucketStatus
}

// LedgerSnapshot is a read-only copy of the settlement ledger. Available
// buying power excludes pending buckets by construction.
type LedgerSnapshot struct {
	SettledCash  float64
	PendingTotal float64
	Pending      []Bucket
}

// AvailableBuyingPower is the cash usable for new entries right now.
func (s LedgerSnapshot) AvailableBuyingPower() float64 { return s.SettledCash }

// DailyCapState is a copy of the day's cap-tracking state.
type DailyCapState struct {
	TradingDate    time.Time
	StartingEquity float64
	RealizedPnL    float64
	SoftCapHit     bool
	HardCapHit     bool
}

// Fill is one executed entry or exit, journalled for the audit archive.
type Fill struct {
	Symbol      string
	Side        OrderSide
	Qty         int64
	Price       float64
	RealizedPnL float64 // zero for buys
	Reason      string  // exit reason, empty for buys
	Timestamp   time.Time
}

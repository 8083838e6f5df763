// Package httpapi exposes the trading engine's state over a read-only HTTP
// API: ledger and cap status, per-symbol positions, the recent event trail,
// and a live event stream.
package httpapi

import (
	"time"

	"limitless/internal/domain"
)

// LedgerJSON is the JSON view of the settlement ledger.
type LedgerJSON struct {
	SettledCash  float64      `json:"settledCash"`
	PendingTotal float64      `json:"pendingTotal"`
	BuyingPower  float64      `json:"buyingPower"`
	Buckets      []BucketJSON `json:"buckets"`
}

// BucketJSON is one pending settlement bucket.
type BucketJSON struct {
	ID             int64   `json:"id"`
	Amount         float64 `json:"amount"`
	SettlementDate string  `json:"settlementDate"`
}

// CapsJSON is the JSON view of the daily cap state.
type CapsJSON struct {
	TradingDate    string  `json:"tradingDate"`
	StartingEquity float64 `json:"startingEquity"`
	RealizedPnL    float64 `json:"realizedPnl"`
	SoftCapHit     bool    `json:"softCapHit"`
	HardCapHit     bool    `json:"hardCapHit"`
}

// PositionJSON is one symbol's lifecycle state and open position, if any.
type PositionJSON struct {
	Symbol       string  `json:"symbol"`
	State        string  `json:"state"`
	Qty          int64   `json:"qty,omitempty"`
	EntryPrice   float64 `json:"entryPrice,omitempty"`
	EntryTime    string  `json:"entryTime,omitempty"`
	TargetPrice  float64 `json:"targetPrice,omitempty"`
	TrailingHigh float64 `json:"trailingHigh,omitempty"`
	MaxAdverse   float64 `json:"maxAdverse,omitempty"`
}

// StatusResponse is the top-level response for GET /api/status.
type StatusResponse struct {
	Time      string         `json:"time"`
	Watchlist []string       `json:"watchlist"`
	Ledger    LedgerJSON     `json:"ledger"`
	Caps      CapsJSON       `json:"caps"`
	Positions []PositionJSON `json:"positions"`
}

// EventJSON is one audit-trail event.
type EventJSON struct {
	Time    string            `json:"time"`
	Kind    string            `json:"kind"`
	Class   string            `json:"class"`
	Symbol  string            `json:"symbol,omitempty"`
	Message string            `json:"message,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

// EventsResponse holds recent events, newest first.
type EventsResponse struct {
	Events []EventJSON `json:"events"`
}

func convertLedger(s domain.LedgerSnapshot) LedgerJSON {
	buckets := make([]BucketJSON, 0, len(s.Pending))
	for _, b := range s.Pending {
		buckets = append(buckets, BucketJSON{
			ID:             b.ID,
			Amount:         b.Amount,
			SettlementDate: b.SettlementDate.Format("2006-01-02"),
		})
	}
	return LedgerJSON{
		SettledCash:  s.SettledCash,
		PendingTotal: s.PendingTotal,
		BuyingPower:  s.AvailableBuyingPower(),
		Buckets:      buckets,
	}
}

func convertCaps(s domain.DailyCapState) CapsJSON {
	date := ""
	if !s.TradingDate.IsZero() {
		date = s.TradingDate.Format("2006-01-02")
	}
	return CapsJSON{
		TradingDate:    date,
		StartingEquity: s.StartingEquity,
		RealizedPnL:    s.RealizedPnL,
		SoftCapHit:     s.SoftCapHit,
		HardCapHit:     s.HardCapHit,
	}
}

func convertPosition(p domain.Position) PositionJSON {
	out := PositionJSON{Symbol: p.Symbol, State: string(p.State)}
	if p.State.Active() {
		out.Qty = p.Qty
		out.EntryPrice = p.EntryPrice
		out.TargetPrice = p.TargetPrice
		out.TrailingHigh = p.TrailingHigh
		out.MaxAdverse = p.MaxAdverse
		if !p.EntryTime.IsZero() {
			out.EntryTime = p.EntryTime.UTC().Format(time.RFC3339)
		}
	}
	return out
}

func convertEvent(ev domain.Event) EventJSON {
	return EventJSON{
		Time:    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Kind:    string(ev.Kind),
		Class:   ev.Class.String(),
		Symbol:  ev.Symbol,
		Message: ev.Message,
		Payload: ev.Payload,
	}
}

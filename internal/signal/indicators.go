// Package signal evaluates entry and exit conditions from minute bars.
// Indicator math runs on whatever bars the source returns; gates that
// depend on an undefined value (VWAP with zero cumulative volume, short
// histories) fail closed.
package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"limitless/internal/config"
	"limitless/internal/domain"
)

// openingRangeMinutes is the span of the opening range after session open.
const openingRangeMinutes = 15

// rvolBaseLen is how many recent bars feed the relative-volume baseline.
const rvolBaseLen = 50

// Provider evaluates one symbol's current entry and exit conditions.
type Provider interface {
	Evaluate(ctx context.Context, symbol string) (domain.Evaluation, error)
}

// BarSource supplies recent minute bars, newest last.
type BarSource interface {
	Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error)
}

// Indicators is the bar-driven Provider used in live trading.
type Indicators struct {
	bars BarSource
	cfg  config.Strategy
	loc  *time.Location
}

var _ Provider = (*Indicators)(nil)

// NewIndicators creates a Provider reading bars from src with the given
// strategy tolerances. loc anchors the session open (exchange time).
func NewIndicators(src BarSource, cfg config.Strategy, loc *time.Location) *Indicators {
	return &Indicators{bars: src, cfg: cfg, loc: loc}
}

// Evaluate fetches bars and computes the full entry/exit read for symbol.
func (ind *Indicators) Evaluate(ctx context.Context, symbol string) (domain.Evaluation, error) {
	bars, err := ind.bars.Bars(ctx, symbol, ind.cfg.BarLimit)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return domain.Evaluation{}, fmt.Errorf("no bars for %s", symbol)
	}
	return ind.evaluate(symbol, bars), nil
}

func (ind *Indicators) evaluate(symbol string, bars []domain.Bar) domain.Evaluation {
	last := bars[len(bars)-1]
	vwap := SessionVWAP(bars)
	ema20 := EMA(bars, 20)
	ema50 := EMA(bars, 50)
	orHigh, _ := OpeningRange(bars, ind.loc)

	ev := domain.Evaluation{
		Symbol:     symbol,
		VWAP:       vwap,
		RVOL:       RelativeVolume(bars),
		SpreadPct:  SpreadPct(last),
		ATR:        ATR(bars, ind.cfg.ATRLen),
		Price:      last.Close,
		SignalHigh: last.High,
	}

	ev.TrendOK = ema20 > ema50
	if !math.IsNaN(vwap) {
		ev.AboveVWAP = last.Close > vwap
		extension := (last.Close - vwap) / vwap
		ev.NotExtended = extension <= ind.cfg.VWAPExtensionPct
		ev.TouchedVWAP = touchedVWAP(bars, ind.cfg.VWAPTouchPct)
	}
	if !math.IsNaN(orHigh) {
		ev.AboveOpenRng = last.Close > orHigh
	}
	ev.ConfirmOK = ind.confirmed(bars, vwap)
	return ev
}

// confirmed applies the configured confirmation filters. With none enabled
// it passes; an undefined VWAP fails every VWAP-based filter.
func (ind *Indicators) confirmed(bars []domain.Bar, vwap float64) bool {
	ok := true
	if ind.cfg.ConfirmHigherLow {
		ok = ok && HasHigherLow(bars, 3)
	}
	if ind.cfg.ConfirmVWAPRecl {
		ok = ok && !math.IsNaN(vwap) && bars[len(bars)-1].Close > vwap
	}
	if ind.cfg.RetestLookback > 0 && ind.cfg.ConfirmVWAPRecl {
		ok = ok && VWAPRetest(bars, ind.cfg.RetestLookback)
	}
	return ok
}

// ---------------------------------------------------------------------------
// Indicator primitives
// ---------------------------------------------------------------------------

// EMA returns the exponential moving average of closes with the given span,
// seeded at the first close. Zero if there are no bars.
func EMA(bars []domain.Bar, span int) float64 {
	if len(bars) == 0 || span < 1 {
		return 0
	}
	alpha := 2.0 / float64(span+1)
	ema := bars[0].Close
	for _, b := range bars[1:] {
		ema = alpha*b.Close + (1-alpha)*ema
	}
	return ema
}

// SessionVWAP is the cumulative typical-price VWAP over the bars. Returns
// the undefined sentinel when cumulative volume is zero.
func SessionVWAP(bars []domain.Bar) float64 {
	var cumVP, cumVol float64
	for _, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3.0
		cumVP += tp * float64(b.Volume)
		cumVol += float64(b.Volume)
	}
	if cumVol == 0 {
		return domain.UndefinedVWAP()
	}
	return cumVP / cumVol
}

// sessionVWAPAt is the VWAP of bars[:i+1], used by the per-bar filters.
func sessionVWAPAt(bars []domain.Bar, i int) float64 {
	return SessionVWAP(bars[:i+1])
}

// OpeningRange returns the high and low of the first 15 minutes after the
// 09:30 session open in loc. NaN when no bars fall inside the range.
func OpeningRange(bars []domain.Bar, loc *time.Location) (high, low float64) {
	high, low = math.NaN(), math.NaN()
	if len(bars) == 0 {
		return high, low
	}
	day := bars[len(bars)-1].Timestamp.In(loc)
	open := time.Date(day.Year(), day.Month(), day.Day(), 9, 30, 0, 0, loc)
	end := open.Add(openingRangeMinutes * time.Minute)

	for _, b := range bars {
		ts := b.Timestamp.In(loc)
		if ts.Before(open) || !ts.Before(end) {
			continue
		}
		if math.IsNaN(high) || b.High > high {
			high = b.High
		}
		if math.IsNaN(low) || b.Low < low {
			low = b.Low
		}
	}
	return high, low
}

// touchedVWAP reports whether any of the last three bars touched its
// session VWAP or came within tol of it.
func touchedVWAP(bars []domain.Bar, tol float64) bool {
	start := len(bars) - 3
	if start < 0 {
		start = 0
	}
	for i := start; i < len(bars); i++ {
		v := sessionVWAPAt(bars, i)
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		if bars[i].Low <= v {
			return true
		}
		if math.Abs(bars[i].Low-v)/v <= tol {
			return true
		}
	}
	return false
}

// ATR is the simple moving average of true range over length bars. Zero
// when the history is too short.
func ATR(bars []domain.Bar, length int) float64 {
	need := length
	if need < 3 {
		need = 3
	}
	if length < 1 || len(bars) < need {
		return 0
	}
	trs := make([]float64, len(bars))
	trs[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trs[i] = math.Max(hl, math.Max(hc, lc))
	}
	var sum float64
	for _, tr := range trs[len(trs)-length:] {
		sum += tr
	}
	return sum / float64(length)
}

// HasHigherLow reports whether the newest bar's low is higher than the
// prior bar's, and that prior low dipped to or below the bar before it.
// This is the pullback-then-hold shape used as an entry confirmation.
func HasHigherLow(bars []domain.Bar, lookback int) bool {
	if lookback < 2 {
		lookback = 2
	}
	if len(bars) < lookback+1 {
		return false
	}
	lows := make([]float64, lookback+1)
	for i := range lows {
		lows[i] = bars[len(bars)-lookback-1+i].Low
	}
	n := len(lows)
	return lows[n-1] > lows[n-2] && lows[n-2] <= lows[n-3]
}

// VWAPRetest reports whether, within the last lookback bars, some bar
// pulled back and held above its VWAP (close above and low at or above).
func VWAPRetest(bars []domain.Bar, lookback int) bool {
	if lookback < 2 {
		lookback = 2
	}
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	for i := start; i < len(bars); i++ {
		v := sessionVWAPAt(bars, i)
		if math.IsNaN(v) {
			continue
		}
		if bars[i].Close > v && bars[i].Low >= v {
			return true
		}
	}
	return false
}

// SpreadPct approximates the spread from the last bar's high/low range as
// a fraction of its close. Zero on a non-positive close.
func SpreadPct(last domain.Bar) float64 {
	if last.Close <= 0 {
		return 0
	}
	return (last.High - last.Low) / math.Max(1e-6, last.Close)
}

// RelativeVolume is the last bar's volume over the average of the prior
// bars in the baseline window. Neutral 1.0 on short or empty histories.
func RelativeVolume(bars []domain.Bar) float64 {
	n := len(bars)
	if n == 0 {
		return 1.0
	}
	start := n - rvolBaseLen
	if start < 0 {
		start = 0
	}
	recent := bars[start:]
	if len(recent) < 5 {
		return 1.0
	}
	var sum float64
	for _, b := range recent[:len(recent)-1] {
		sum += float64(b.Volume)
	}
	avg := sum / float64(len(recent)-1)
	if avg <= 0 {
		return 1.0
	}
	return float64(recent[len(recent)-1].Volume) / avg
}

// Package engine runs the trading loop: one goroutine scans the watchlist
// on a fixed interval, drives every symbol's lifecycle state machine, and
// keeps the settlement ledger and daily caps consistent with fills.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"limitless/internal/broker"
	"limitless/internal/calendar"
	"limitless/internal/config"
	"limitless/internal/domain"
	"limitless/internal/event"
	"limitless/internal/ledger"
	"limitless/internal/risk"
	"limitless/internal/signal"
	"limitless/internal/store"
	"limitless/internal/util"
)

// submitRetryDelay is the backoff before the single order-submission retry.
const submitRetryDelay = 250 * time.Millisecond

// PriceSource supplies the latest trade price for open-position management.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// EarningsGate blocks arming on earnings lockout days.
type EarningsGate interface {
	IsSkipDay(symbol string, date time.Time) bool
}

// Deps carries everything the engine needs. Bridge, Audit, Journal,
// Auditor, and Earnings are optional; a nil value disables that surface.
type Deps struct {
	Config   *config.Config
	Broker   broker.Client
	Signals  signal.Provider
	Prices   PriceSource
	Ledger   *ledger.Ledger
	Caps     *risk.Tracker
	Calendar *calendar.TradingCalendar
	Earnings EarningsGate
	Bridge   *event.Bridge
	Audit    store.AuditStore
	Journal  *store.JournalArchive
	Auditor  *util.Auditor
	Log      *slog.Logger
	Now      func() time.Time // injectable clock; defaults to time.Now
}

// Engine owns the scan loop and every symbol's state machine.
type Engine struct {
	deps Deps
	cfg  *config.Config
	log  *slog.Logger
	now  func() time.Time

	// machines and watch are owned by the scan goroutine. External readers
	// never touch them; they get copies from the snapshot map, so a scan
	// cycle stuck on a broker call cannot stall the status surface.
	machines map[string]*machine
	watch    []string

	snapMu    sync.Mutex
	snapshots map[string]domain.Position

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an Engine with one state machine per watchlist symbol, in
// stable watchlist order.
func New(deps Deps) *Engine {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		deps:      deps,
		cfg:       deps.Config,
		log:       log.With("component", "engine"),
		now:       now,
		machines:  make(map[string]*machine),
		snapshots: make(map[string]domain.Position),
	}
	for _, sym := range deps.Config.Trading.Watchlist {
		if _, ok := e.machines[sym]; ok {
			continue
		}
		e.machines[sym] = newMachine(sym)
		e.watch = append(e.watch, sym)
		e.snapshots[sym] = e.machines[sym].pos.Snapshot()
	}
	return e
}

// Start launches the scan loop after reconciling broker-held positions.
// Idempotent: a second Start while running is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}
	e.running = true

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.reconcileStartup(runCtx)
	go e.run(runCtx)
}

// Stop halts the scan loop and waits for the in-flight cycle to drain.
// Idempotent and safe to call before Start.
func (e *Engine) Stop() {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()

	cancel()
	<-done
	e.log.Info("engine stopped")
}

// PositionSnapshots returns a copy of every symbol's position, in watchlist
// order. Safe from any goroutine and never blocked by an in-flight scan.
func (e *Engine) PositionSnapshots() []domain.Position {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	out := make([]domain.Position, 0, len(e.watch))
	for _, sym := range e.watch {
		out = append(out, e.snapshots[sym])
	}
	return out
}

// States returns each symbol's lifecycle state keyed by symbol. Safe from
// any goroutine and never blocked by an in-flight scan.
func (e *Engine) States() map[string]string {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	out := make(map[string]string, len(e.snapshots))
	for sym, p := range e.snapshots {
		out[sym] = string(p.State)
	}
	return out
}

// syncSnapshot publishes a machine's current position to external readers.
// Called from the scan goroutine after every mutation point.
func (e *Engine) syncSnapshot(m *machine) {
	e.snapMu.Lock()
	e.snapshots[m.pos.Symbol] = m.pos.Snapshot()
	e.snapMu.Unlock()
}

// Watchlist returns the engine's symbols in scan order.
func (e *Engine) Watchlist() []string {
	out := make([]string, len(e.watch))
	copy(out, e.watch)
	return out
}

// run is the scan loop body.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.Trading.ScanInterval)
	defer ticker.Stop()

	for {
		if err := e.ScanCycle(ctx); err != nil {
			e.publish(domain.Event{
				Kind:    domain.EventEngineHalt,
				Class:   domain.ClassCritical,
				Message: err.Error(),
			})
			e.log.Error("engine halting", "error", err)
			// The loop is dead; clear the flag so a later Start is not a
			// silent no-op.
			e.runMu.Lock()
			e.running = false
			e.runMu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanCycle runs one pass: settlement roll, day bookkeeping, then every
// symbol in stable watchlist order. Only a ledger invariant violation is
// fatal; symbol-local errors are contained.
func (e *Engine) ScanCycle(ctx context.Context) error {
	now := e.now()

	if err := e.deps.Ledger.RollSettlement(e.deps.Calendar.DateOf(now)); err != nil {
		if errors.Is(err, ledger.ErrCorrupt) {
			return fmt.Errorf("settlement roll: %w", err)
		}
		e.log.Warn("settlement roll", "error", err)
	}

	e.startTradingDate(ctx, now)

	for _, sym := range e.watch {
		if ctx.Err() != nil {
			return nil
		}
		// Re-queried per symbol: a sell fill earlier in this cycle can
		// realize the loss that trips the hard cap, and the symbols after
		// it must flatten in the same cycle.
		m := e.machines[sym]
		e.step(ctx, m, now, e.flattenReason(now))
		e.syncSnapshot(m)
	}
	return nil
}

// flattenReason returns the forced-exit reason in effect, or "".
func (e *Engine) flattenReason(now time.Time) string {
	if e.deps.Caps.RequiresFlatten() {
		return exitCapFlatten
	}
	if e.deps.Calendar.FridayFlattenDue(now) {
		return exitFridayFlatten
	}
	return ""
}

// startTradingDate anchors the cap tracker and refreshes the earnings
// calendar when a new ET trading date begins.
func (e *Engine) startTradingDate(ctx context.Context, now time.Time) {
	date := e.deps.Calendar.DateOf(now)
	if e.deps.Caps.TradingDate().Equal(date) {
		return
	}

	equity := e.deps.Ledger.Snapshot().SettledCash
	if acct, err := e.deps.Broker.GetAccount(ctx); err != nil {
		e.log.Warn("fetching account for day start", "error", err)
	} else if acct.Equity > 0 {
		equity = acct.Equity
	}
	e.deps.Caps.OnTradeDateStart(date, equity)

	if gate, ok := e.deps.Earnings.(interface {
		RefreshAll(ctx context.Context, symbols []string)
	}); ok {
		gate.RefreshAll(ctx, e.watch)
	}
}

// ---------------------------------------------------------------------------
// Per-symbol stepping
// ---------------------------------------------------------------------------

func (e *Engine) step(ctx context.Context, m *machine, now time.Time, flattenReason string) {
	switch m.pos.State {
	case domain.StateIdle:
		if flattenReason == "" {
			e.stepIdle(ctx, m, now)
		}
	case domain.StateArmed:
		if flattenReason != "" {
			m.reset()
			e.transition(m, domain.StateIdle, now, "flatten in effect")
			return
		}
		e.stepArmed(ctx, m, now)
	case domain.StateEntering:
		e.stepEntering(ctx, m, now, flattenReason)
	case domain.StateOpen:
		e.stepOpen(ctx, m, now, flattenReason)
	case domain.StateExiting:
		e.stepExiting(ctx, m, now)
	case domain.StateClosed:
		m.cooldownUntil = now.Add(time.Duration(e.cfg.Trading.CooldownSec) * time.Second)
		e.transition(m, domain.StateCooldown, now, "")
	case domain.StateCooldown:
		if !now.Before(m.cooldownUntil) {
			m.reset()
			e.transition(m, domain.StateIdle, now, "cooldown elapsed")
		}
	}
}

// stepIdle evaluates the entry setup and arms the symbol when everything
// lines up. Arming reserves nothing; funds are committed at submission.
func (e *Engine) stepIdle(ctx context.Context, m *machine, now time.Time) {
	sym := m.pos.Symbol

	if !e.deps.Calendar.InEntryWindow(now) {
		return
	}
	if e.deps.Earnings != nil && e.deps.Earnings.IsSkipDay(sym, e.deps.Calendar.DateOf(now)) {
		e.publishSkip(sym, "earnings lockout", nil)
		return
	}
	if !e.deps.Caps.AllowsNewEntries() {
		return
	}
	if e.activeCount() >= e.cfg.Trading.ConcurrencyCap {
		return
	}

	ev, err := e.deps.Signals.Evaluate(ctx, sym)
	if err != nil {
		e.log.Warn("evaluating signals", "symbol", sym, "error", err)
		return
	}
	if !ev.EntryReady() || !ev.ConfirmOK {
		return
	}
	if ev.RVOL < e.cfg.Strategy.RVOLMin {
		e.publishSkip(sym, "insufficient relative volume", map[string]string{
			"rvol": fmt.Sprintf("%.2f", ev.RVOL),
		})
		return
	}
	if ev.SpreadPct > e.cfg.Strategy.SpreadMaxPct {
		e.publishSkip(sym, "spread too wide", map[string]string{
			"spread_pct": fmt.Sprintf("%.4f", ev.SpreadPct),
		})
		return
	}
	if slippageExceeded(ev.Price, ev.SignalHigh, e.cfg.Strategy.SlippageMaxPct) {
		e.publishSkip(sym, "slippage limit breached", nil)
		return
	}

	m.entryPrice = entryPriceFor(e.cfg.Trading.EntryOrderType, ev)
	m.target = targetFor(m.entryPrice, ev.ATR, e.cfg.Strategy)
	m.atr = ev.ATR
	e.transition(m, domain.StateArmed, now, "entry setup qualified")
}

// stepArmed sizes the entry, reserves settled cash, and submits the order.
// An insufficient-funds denial keeps the symbol armed for the next cycle;
// a persistent submission failure returns it to idle.
func (e *Engine) stepArmed(ctx context.Context, m *machine, now time.Time) {
	sym := m.pos.Symbol

	if !e.deps.Calendar.InEntryWindow(now) || !e.deps.Caps.AllowsNewEntries() {
		m.reset()
		e.transition(m, domain.StateIdle, now, "entry conditions lapsed")
		return
	}
	if e.activeCount() >= e.cfg.Trading.ConcurrencyCap {
		return
	}

	bp := e.deps.Ledger.Snapshot().AvailableBuyingPower()
	qty := qtyFor(e.cfg.Trading.NotionalFor(sym), bp, e.cfg.Trading.UtilizationPct, m.entryPrice)
	if qty < 1 {
		e.publishFundsDenied(sym, m.entryPrice, bp)
		return
	}
	cost := float64(qty) * m.entryPrice

	if err := e.deps.Ledger.Reserve(cost); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			e.publishFundsDenied(sym, cost, bp)
			return
		}
		e.log.Warn("reserving entry funds", "symbol", sym, "error", err)
		return
	}
	m.qty = qty
	m.reserved = cost

	order := domain.Order{
		Symbol:      sym,
		Side:        domain.OrderSideBuy,
		Qty:         qty,
		LimitPrice:  m.entryPrice,
		TargetPrice: m.target,
	}
	if e.cfg.Trading.EntryOrderType == "buy_stop" {
		order.StopPrice = m.entryPrice
	}

	placed, err := e.submitWithRetry(ctx, order)
	if err != nil {
		e.deps.Ledger.Release(m.reserved)
		e.publishOrderFailure(sym, "entry submission failed", err)
		m.reset()
		e.transition(m, domain.StateIdle, now, "entry submission failed")
		return
	}

	m.order = placed
	m.placedAt = now
	e.audit("entry_order_placed", map[string]any{
		"symbol": sym, "qty": qty, "entry": m.entryPrice, "target": m.target,
	})
	e.transition(m, domain.StateEntering, now, "entry order submitted")
}

// stepEntering polls the entry order. Stale orders are cancelled and the
// reservation refunded; fills open the position.
func (e *Engine) stepEntering(ctx context.Context, m *machine, now time.Time, flattenReason string) {
	sym := m.pos.Symbol

	o, err := e.deps.Broker.PollOrder(ctx, m.order.ID)
	if err != nil {
		e.log.Warn("polling entry order", "symbol", sym, "order_id", m.order.ID, "error", err)
		return
	}
	m.order = o

	switch o.Status {
	case domain.OrderStatusFilled:
		fillPrice := o.FilledAvgPrice
		if fillPrice <= 0 {
			fillPrice = m.entryPrice
		}
		m.pos.Qty = o.FilledQty
		m.pos.EntryPrice = fillPrice
		m.pos.EntryTime = now
		m.pos.TargetPrice = m.target
		m.pos.TrailingHigh = fillPrice
		m.pos.MaxAdverse = 0
		m.reserved = 0
		e.journalFill(domain.Fill{
			Symbol: sym, Side: domain.OrderSideBuy, Qty: o.FilledQty,
			Price: fillPrice, Timestamp: now,
		})
		e.publishFill(sym, o, 0, "")
		e.transition(m, domain.StateOpen, now, "entry filled")
		return

	case domain.OrderStatusRejected, domain.OrderStatusCancelled:
		e.deps.Ledger.Release(m.reserved)
		e.publishOrderFailure(sym, "entry order "+string(o.Status), nil)
		m.reset()
		e.transition(m, domain.StateIdle, now, "entry order "+string(o.Status))
		return
	}

	stale := now.Sub(m.placedAt) > time.Duration(e.cfg.Trading.EntryCancelMinutes)*time.Minute
	if stale || flattenReason != "" {
		if err := e.deps.Broker.CancelOrder(ctx, m.order.ID); err != nil {
			e.log.Warn("cancelling entry order", "symbol", sym, "error", err)
		}
		e.deps.Ledger.Release(m.reserved)
		e.audit("entry_order_cancelled", map[string]any{"symbol": sym, "order_id": m.order.ID})
		m.reset()
		e.transition(m, domain.StateIdle, now, "entry cancelled")
	}
}

// stepOpen manages an open position: refresh marks, then the exit decision.
func (e *Engine) stepOpen(ctx context.Context, m *machine, now time.Time, flattenReason string) {
	sym := m.pos.Symbol

	price, err := e.deps.Prices.LatestPrice(ctx, sym)
	if err != nil {
		e.log.Warn("fetching latest price", "symbol", sym, "error", err)
		return
	}
	m.updateMarks(price)
	e.publish(domain.Event{
		Kind: domain.EventPriceTick, Class: domain.ClassInformational,
		Symbol: sym,
		Payload: map[string]string{
			"price": strconv.FormatFloat(price, 'f', 2, 64),
		},
	})

	atr := m.atr
	if ev, err := e.deps.Signals.Evaluate(ctx, sym); err == nil && ev.ATR > 0 {
		atr = ev.ATR
		m.atr = ev.ATR
	}

	inPowerOK := e.deps.Calendar.InPowerWindow(now) || flattenReason != ""
	reason := m.decideExit(price, atr, e.cfg.Strategy, flattenReason, inPowerOK)
	if reason == "" {
		return
	}

	sell := domain.Order{Symbol: sym, Side: domain.OrderSideSell, Qty: m.pos.Qty}
	placed, err := e.submitWithRetry(ctx, sell)
	if err != nil {
		e.forceClose(m, now, fmt.Errorf("exit submission failed: %w", err))
		return
	}
	m.order = placed
	m.placedAt = now
	m.exitReason = reason
	e.transition(m, domain.StateExiting, now, reason)
}

// stepExiting polls the sell order, settles proceeds on fill, and forces
// the position closed with an anomaly if the exit cannot complete.
func (e *Engine) stepExiting(ctx context.Context, m *machine, now time.Time) {
	sym := m.pos.Symbol

	o, err := e.deps.Broker.PollOrder(ctx, m.order.ID)
	if err != nil {
		e.log.Warn("polling exit order", "symbol", sym, "order_id", m.order.ID, "error", err)
		return
	}
	m.order = o

	switch o.Status {
	case domain.OrderStatusFilled:
		fillPrice := o.FilledAvgPrice
		proceeds := float64(o.FilledQty) * fillPrice
		if _, err := e.deps.Ledger.RecordSale(proceeds, now); err != nil {
			e.log.Error("recording sale proceeds", "symbol", sym, "error", err)
		}
		realized := (fillPrice - m.pos.EntryPrice) * float64(o.FilledQty)
		e.deps.Caps.RecordRealized(realized)
		e.journalFill(domain.Fill{
			Symbol: sym, Side: domain.OrderSideSell, Qty: o.FilledQty,
			Price: fillPrice, RealizedPnL: realized, Reason: m.exitReason,
			Timestamp: now,
		})
		e.publishFill(sym, o, realized, m.exitReason)
		e.audit("position_closed", map[string]any{
			"symbol": sym, "exit_price": fillPrice, "realized": realized, "reason": m.exitReason,
		})
		if !e.deps.Caps.AllowsNewEntries() {
			e.publishCapState(sym)
		}
		e.transition(m, domain.StateClosed, now, m.exitReason)
		return

	case domain.OrderStatusRejected, domain.OrderStatusCancelled:
		e.forceClose(m, now, fmt.Errorf("exit order %s", o.Status))
		return
	}

	if now.Sub(m.placedAt) > time.Duration(e.cfg.Trading.OrderTimeoutSec)*time.Second {
		// One fresh market order before declaring an anomaly.
		if m.submitTry == 0 {
			m.submitTry++
			if err := e.deps.Broker.CancelOrder(ctx, m.order.ID); err != nil {
				e.log.Warn("cancelling stuck exit order", "symbol", sym, "error", err)
			}
			sell := domain.Order{Symbol: sym, Side: domain.OrderSideSell, Qty: m.pos.Qty}
			placed, err := e.submitWithRetry(ctx, sell)
			if err != nil {
				e.forceClose(m, now, fmt.Errorf("exit resubmission failed: %w", err))
				return
			}
			m.order = placed
			m.placedAt = now
			return
		}
		e.forceClose(m, now, errors.New("exit order timed out"))
	}
}

// forceClose abandons broker-side reconciliation for this position: the
// book is marked closed and an anomaly is published for the operator. The
// ledger records no proceeds, so buying power stays conservative.
func (e *Engine) forceClose(m *machine, now time.Time, cause error) {
	sym := m.pos.Symbol
	e.publish(domain.Event{
		Kind: domain.EventAnomaly, Class: domain.ClassCritical,
		Symbol:  sym,
		Message: cause.Error(),
		Payload: map[string]string{"qty": strconv.FormatInt(m.pos.Qty, 10)},
	})
	e.audit("position_force_closed", map[string]any{"symbol": sym, "cause": cause.Error()})
	m.exitReason = exitAnomaly
	e.transition(m, domain.StateClosed, now, exitAnomaly)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// activeCount counts machines holding or acquiring a position. Scan
// goroutine only.
func (e *Engine) activeCount() int {
	n := 0
	for _, m := range e.machines {
		if m.pos.State.Active() {
			n++
		}
	}
	return n
}

// submitWithRetry submits an order, retrying once after a short backoff.
func (e *Engine) submitWithRetry(ctx context.Context, order domain.Order) (domain.Order, error) {
	var placed domain.Order
	err := util.Retry(ctx, 2, submitRetryDelay, func() error {
		var err error
		placed, err = e.deps.Broker.SubmitOrder(ctx, order)
		return err
	})
	return placed, err
}

// transition mutates the machine's state and publishes the change.
func (e *Engine) transition(m *machine, to domain.PositionState, now time.Time, note string) {
	from := m.pos.State
	if from == to {
		return
	}
	m.pos.State = to
	e.log.Info("state change", "symbol", m.pos.Symbol, "from", from, "to", to, "note", note)
	e.publish(domain.Event{
		Kind: domain.EventStateChange, Class: domain.ClassCritical,
		Timestamp: now,
		Symbol:    m.pos.Symbol,
		Message:   note,
		Payload:   map[string]string{"from": string(from), "to": string(to)},
	})
}

// reconcileStartup aligns in-memory machines with positions the broker
// already holds, so a restart never double-enters or orphans a position.
func (e *Engine) reconcileStartup(ctx context.Context) {
	positions, err := e.deps.Broker.GetPositions(ctx)
	if err != nil {
		e.log.Warn("startup position reconciliation", "error", err)
		return
	}

	for _, p := range positions {
		m, ok := e.machines[p.Symbol]
		if !ok {
			e.log.Warn("broker holds unmanaged position", "symbol", p.Symbol, "qty", p.Qty)
			continue
		}
		m.pos.State = domain.StateOpen
		m.pos.Qty = p.Qty
		m.pos.EntryPrice = p.EntryPrice
		m.pos.EntryTime = e.now()
		m.pos.TrailingHigh = p.EntryPrice
		m.pos.TargetPrice = targetFor(p.EntryPrice, 0, e.cfg.Strategy)
		e.syncSnapshot(m)
		e.log.Info("position adopted from broker", "symbol", p.Symbol, "qty", p.Qty, "entry", p.EntryPrice)
	}
}

// publish hands an event to the bridge and mirrors critical events into the
// durable audit store.
func (e *Engine) publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	if e.deps.Audit != nil && ev.Critical() {
		if err := e.deps.Audit.SaveEvent(context.Background(), ev); err != nil {
			e.log.Warn("persisting event", "kind", ev.Kind, "error", err)
		}
	}
	if e.deps.Bridge != nil {
		e.deps.Bridge.Publish(ev)
	}
}

func (e *Engine) publishSkip(symbol, reason string, payload map[string]string) {
	e.publish(domain.Event{
		Kind: domain.EventEntrySkip, Class: domain.ClassInformational,
		Symbol: symbol, Message: reason, Payload: payload,
	})
}

func (e *Engine) publishFundsDenied(symbol string, need, have float64) {
	e.publish(domain.Event{
		Kind: domain.EventFundsDenied, Class: domain.ClassInformational,
		Symbol:  symbol,
		Message: "insufficient settled funds",
		Payload: map[string]string{
			"need": strconv.FormatFloat(need, 'f', 2, 64),
			"have": strconv.FormatFloat(have, 'f', 2, 64),
		},
	})
}

func (e *Engine) publishOrderFailure(symbol, msg string, cause error) {
	payload := map[string]string{}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	e.publish(domain.Event{
		Kind: domain.EventOrderFailure, Class: domain.ClassCritical,
		Symbol: symbol, Message: msg, Payload: payload,
	})
}

func (e *Engine) publishFill(symbol string, o domain.Order, realized float64, reason string) {
	payload := map[string]string{
		"side":  string(o.Side),
		"qty":   strconv.FormatInt(o.FilledQty, 10),
		"price": strconv.FormatFloat(o.FilledAvgPrice, 'f', 2, 64),
	}
	if o.Side == domain.OrderSideSell {
		payload["realized"] = strconv.FormatFloat(realized, 'f', 2, 64)
		payload["reason"] = reason
	}
	e.publish(domain.Event{
		Kind: domain.EventOrderFill, Class: domain.ClassCritical,
		Symbol: symbol, Payload: payload,
	})
}

func (e *Engine) publishCapState(symbol string) {
	state := e.deps.Caps.State()
	e.publish(domain.Event{
		Kind: domain.EventCapHit, Class: domain.ClassCritical,
		Symbol:  symbol,
		Message: "daily cap reached",
		Payload: map[string]string{
			"realized": strconv.FormatFloat(state.RealizedPnL, 'f', 2, 64),
			"soft":     strconv.FormatBool(state.SoftCapHit),
			"hard":     strconv.FormatBool(state.HardCapHit),
		},
	})
}

// audit appends to the JSONL audit trail when one is configured.
func (e *Engine) audit(event string, payload map[string]any) {
	if e.deps.Auditor == nil {
		return
	}
	if err := e.deps.Auditor.Log(event, payload); err != nil {
		e.log.Warn("audit trail append", "event", event, "error", err)
	}
}

// journalFill records a fill in the parquet journal and the JSONL trail.
func (e *Engine) journalFill(f domain.Fill) {
	if e.deps.Journal != nil {
		e.deps.Journal.Record(f)
	}
	e.audit("fill", map[string]any{
		"symbol": f.Symbol, "side": string(f.Side), "qty": f.Qty,
		"price": f.Price, "realized": f.RealizedPnL, "reason": f.Reason,
	})
}

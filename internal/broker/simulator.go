package broker

import (
	"context"
	"fmt"
	"sync"

	"limitless/internal/domain"
)

// Compile-time interface check.
var _ Client = (*Simulator)(nil)

// Script controls how the Simulator treats orders for one symbol. The zero
// value fills buys at their stop/limit price on the first poll.
type Script struct {
	SubmitErrs int     // fail this many submissions before accepting
	Reject     bool    // reject instead of filling
	NeverFill  bool    // stay pending forever (forces timeouts)
	FillAfter  int     // polls to sit pending before filling
	FillPrice  float64 // fill price override; zero uses the order's price
}

// Simulator implements Client in memory with scripted behavior per symbol.
// Used for paper trading and for driving the engine in tests.
type Simulator struct {
	mu        sync.Mutex
	scripts   map[string]Script
	orders    map[string]*domain.Order
	polls     map[string]int
	positions map[string]domain.Position
	account   domain.AccountInfo
	submits   []domain.Order
	nextID    int
}

// NewSimulator creates an empty Simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		scripts:   make(map[string]Script),
		orders:    make(map[string]*domain.Order),
		polls:     make(map[string]int),
		positions: make(map[string]domain.Position),
		account:   domain.AccountInfo{IsPaper: true},
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string { return "simulator" }

// SetScript installs scripted behavior for a symbol.
func (s *Simulator) SetScript(symbol string, sc Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[symbol] = sc
}

// SetAccount sets the account snapshot returned by GetAccount.
func (s *Simulator) SetAccount(a domain.AccountInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.IsPaper = true
	s.account = a
}

// SetPosition seeds a held position, for startup-reconciliation tests.
func (s *Simulator) SetPosition(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = p
}

// Submissions returns every order accepted so far, in submission order.
func (s *Simulator) Submissions() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, len(s.submits))
	copy(out, s.submits)
	return out
}

// SubmitOrder applies the symbol's script and records the order.
func (s *Simulator) SubmitOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := s.scripts[order.Symbol]
	if sc.SubmitErrs > 0 {
		sc.SubmitErrs--
		s.scripts[order.Symbol] = sc
		return order, fmt.Errorf("simulated submit failure for %s", order.Symbol)
	}

	s.nextID++
	order.ID = fmt.Sprintf("sim-%d", s.nextID)
	order.Status = domain.OrderStatusPending
	if sc.Reject {
		order.Status = domain.OrderStatusRejected
	}
	cp := order
	s.orders[order.ID] = &cp
	s.submits = append(s.submits, order)
	return order, nil
}

// PollOrder advances the scripted lifecycle one step and returns the
// order's current state.
func (s *Simulator) PollOrder(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("unknown order %s", orderID)
	}
	sc := s.scripts[o.Symbol]
	if o.Status == domain.OrderStatusPending && !sc.NeverFill {
		s.polls[orderID]++
		if s.polls[orderID] > sc.FillAfter {
			s.fill(o, sc)
		}
	}
	return *o, nil
}

// fill marks the order filled and applies it to simulated positions.
// Caller holds the lock.
func (s *Simulator) fill(o *domain.Order, sc Script) {
	price := sc.FillPrice
	if price == 0 {
		price = o.LimitPrice
	}
	if price == 0 {
		price = o.StopPrice
	}
	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price

	if o.Side == domain.OrderSideBuy {
		s.positions[o.Symbol] = domain.Position{
			Symbol:     o.Symbol,
			State:      domain.StateOpen,
			Qty:        o.Qty,
			EntryPrice: price,
		}
	} else {
		delete(s.positions, o.Symbol)
	}
}

// CancelOrder cancels a pending order; terminal orders are left alone.
func (s *Simulator) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok && o.Status == domain.OrderStatusPending {
		o.Status = domain.OrderStatusCancelled
	}
	return nil
}

// GetPositions returns the simulated positions.
func (s *Simulator) GetPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetAccount returns the simulated account snapshot.
func (s *Simulator) GetAccount(_ context.Context) (domain.AccountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, nil
}

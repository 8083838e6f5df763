package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"limitless/internal/domain"
)

// Compile-time interface check.
var _ Client = (*Alpaca)(nil)

// Alpaca implements Client against the Alpaca trading REST API. Entries go
// in as day-TIF bracket orders (buy-stop-limit or buy-limit with a
// take-profit leg, no stop-loss leg); exits are plain market sells.
type Alpaca struct {
	client *alpaca.Client
	log    *slog.Logger
}

// NewAlpaca creates an Alpaca client for the given credentials and endpoint.
// baseURL selects paper or live trading.
func NewAlpaca(apiKey, apiSecret, baseURL string, log *slog.Logger) *Alpaca {
	if log == nil {
		log = slog.Default()
	}
	return &Alpaca{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		log: log.With("component", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *Alpaca) Name() string { return "alpaca" }

// SubmitOrder places the order. Buy orders become bracket orders with the
// order's TargetPrice as the take-profit limit; sell orders are market.
func (b *Alpaca) SubmitOrder(_ context.Context, order domain.Order) (domain.Order, error) {
	qty := decimal.NewFromInt(order.Qty)
	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Symbol,
		Qty:         &qty,
		TimeInForce: alpaca.Day,
	}

	switch order.Side {
	case domain.OrderSideBuy:
		req.Side = alpaca.Buy
		limit := decimal.NewFromFloat(order.LimitPrice).Round(2)
		req.LimitPrice = &limit
		if order.StopPrice > 0 {
			stop := decimal.NewFromFloat(order.StopPrice).Round(2)
			req.StopPrice = &stop
			req.Type = alpaca.StopLimit
		} else {
			req.Type = alpaca.Limit
		}
		if order.TargetPrice > 0 {
			tp := decimal.NewFromFloat(order.TargetPrice).Round(2)
			req.OrderClass = alpaca.Bracket
			req.TakeProfit = &alpaca.TakeProfit{LimitPrice: &tp}
		}
	case domain.OrderSideSell:
		req.Side = alpaca.Sell
		req.Type = alpaca.Market
	default:
		return order, fmt.Errorf("unsupported order side %q", order.Side)
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return order, fmt.Errorf("placing %s %s order: %w", order.Side, order.Symbol, err)
	}
	b.log.Info("order submitted",
		"symbol", order.Symbol,
		"side", order.Side,
		"qty", order.Qty,
		"order_id", placed.ID,
	)
	return fromAlpacaOrder(placed, order), nil
}

// PollOrder fetches the broker's current view of the order.
func (b *Alpaca) PollOrder(_ context.Context, orderID string) (domain.Order, error) {
	o, err := b.client.GetOrder(orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return fromAlpacaOrder(o, domain.Order{}), nil
}

// CancelOrder requests cancellation; an already-terminal order is not an
// error worth surfacing to the state machine.
func (b *Alpaca) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	return nil
}

// GetPositions returns held positions mapped into domain records. Broker
// positions carry no lifecycle state; the engine reconciles them at startup.
func (b *Alpaca) GetPositions(_ context.Context) ([]domain.Position, error) {
	raw, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, domain.Position{
			Symbol:     p.Symbol,
			State:      domain.StateOpen,
			Qty:        p.Qty.IntPart(),
			EntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return positions, nil
}

// GetAccount returns the account snapshot.
func (b *Alpaca) GetAccount(_ context.Context) (domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("fetching account: %w", err)
	}
	return domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
	}, nil
}

// fromAlpacaOrder maps the SDK order onto the domain record, carrying over
// request fields the broker does not echo back.
func fromAlpacaOrder(o *alpaca.Order, req domain.Order) domain.Order {
	out := req
	out.ID = o.ID
	out.Symbol = o.Symbol
	out.Status = mapOrderStatus(o.Status)
	out.FilledQty = o.FilledQty.IntPart()
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.Qty != nil {
		out.Qty = o.Qty.IntPart()
	}
	if o.LimitPrice != nil {
		out.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.StopPrice != nil {
		out.StopPrice = o.StopPrice.InexactFloat64()
	}
	out.SubmittedAt = o.SubmittedAt
	if o.Side == alpaca.Buy {
		out.Side = domain.OrderSideBuy
	} else {
		out.Side = domain.OrderSideSell
	}
	return out
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "expired", "replaced", "done_for_day":
		return domain.OrderStatusCancelled
	case "rejected", "suspended", "stopped":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

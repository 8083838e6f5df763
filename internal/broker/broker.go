// Package broker defines the Client interface the engine trades through and
// provides the Alpaca implementation plus an in-memory simulator.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"limitless/internal/domain"
)

// ErrOrderTimeout is returned when an order does not reach a terminal state
// within the allotted polling window.
var ErrOrderTimeout = errors.New("order not filled in time")

// ErrOrderRejected is returned when the broker rejects or cancels an order.
var ErrOrderRejected = errors.New("order rejected")

// Client abstracts brokerage operations for order execution and account
// state. Every call takes a context and is expected to be bounded; the
// engine treats any error as symbol-local.
type Client interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order for execution and returns the broker's
	// record of it, including the assigned ID.
	SubmitOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// PollOrder fetches the current state of an order by ID.
	PollOrder(ctx context.Context, orderID string) (domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions returns all positions currently held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (domain.AccountInfo, error)
}

// WaitForFill polls an order until it fills, fails, or the window elapses.
// A rejection or cancellation wraps ErrOrderRejected; running out the window
// wraps ErrOrderTimeout. The order's last observed state is returned either
// way so the caller can inspect partial fills.
func WaitForFill(ctx context.Context, c Client, orderID string, window, interval time.Duration) (domain.Order, error) {
	deadline := time.Now().Add(window)
	var last domain.Order
	for {
		o, err := c.PollOrder(ctx, orderID)
		if err != nil {
			return last, fmt.Errorf("polling order %s: %w", orderID, err)
		}
		last = o
		switch o.Status {
		case domain.OrderStatusFilled:
			return o, nil
		case domain.OrderStatusRejected, domain.OrderStatusCancelled:
			return o, fmt.Errorf("order %s %s: %w", orderID, o.Status, ErrOrderRejected)
		}
		if time.Now().After(deadline) {
			return last, fmt.Errorf("order %s: %w", orderID, ErrOrderTimeout)
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
}

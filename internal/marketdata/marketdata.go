// Package marketdata wraps the Alpaca market-data API behind the small
// surface the engine needs: recent minute bars and the latest trade price.
package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	md "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"limitless/internal/domain"
	"limitless/internal/util"
)

// requestsPerMinute matches the free-tier Alpaca data API limit.
const requestsPerMinute = 200

// Client fetches bars and trades for US equities, rate limited so a wide
// watchlist cannot exhaust the API quota.
type Client struct {
	client *md.Client
	feed   string
	rl     *util.RateLimiter
	log    *slog.Logger
}

// SelectFeed picks the data feed: an explicit configuration wins, otherwise
// iex for the paper endpoint and sip for live.
func SelectFeed(configured, baseURL string) string {
	if configured != "" {
		return strings.ToLower(configured)
	}
	if strings.Contains(baseURL, "paper-api") {
		return "iex"
	}
	return "sip"
}

// NewClient creates a market-data client. dataURL may be empty for the
// default endpoint; feed should come from SelectFeed.
func NewClient(apiKey, apiSecret, dataURL, feed string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	opts := md.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &Client{
		client: md.NewClient(opts),
		feed:   feed,
		rl:     util.NewRateLimiter(requestsPerMinute),
		log:    log.With("component", "marketdata"),
	}
}

// Bars returns up to limit one-minute bars for symbol, newest last.
func (c *Client) Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := c.client.GetBars(symbol, md.GetBarsRequest{
		TimeFrame:  md.OneMin,
		Start:      time.Now().Add(-24 * time.Hour),
		TotalLimit: limit,
		Feed:       c.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// LatestPrice returns the most recent trade price for symbol.
func (c *Client) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, err
	}

	trade, err := c.client.GetLatestTrade(symbol, md.GetLatestTradeRequest{Feed: c.feed})
	if err != nil {
		return 0, fmt.Errorf("GetLatestTrade %s: %w", symbol, err)
	}
	if trade == nil {
		return 0, fmt.Errorf("no trades for %s", symbol)
	}
	return trade.Price, nil
}

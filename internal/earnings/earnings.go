// Package earnings blocks new entries on a symbol's earnings dates using
// the Finnhub earnings calendar. Without an API key the calendar is empty
// and nothing is ever locked out.
package earnings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const defaultBaseURL = "https://finnhub.io/api/v1"

// Calendar caches per-symbol earnings skip dates. Refresh is expected once
// per trading day per symbol; IsSkipDay is cheap and lock-protected.
type Calendar struct {
	mu        sync.Mutex
	skipDates map[string]map[string]bool // symbol -> ISO date set

	apiKey      string
	baseURL     string
	skipNextDay bool
	httpClient  *http.Client
	log         *slog.Logger
}

// New creates a Calendar. An empty apiKey disables lookups; every
// IsSkipDay then returns false.
func New(apiKey string, skipNextDay bool, log *slog.Logger) *Calendar {
	if log == nil {
		log = slog.Default()
	}
	return &Calendar{
		skipDates:   make(map[string]map[string]bool),
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		skipNextDay: skipNextDay,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		log:         log.With("component", "earnings"),
	}
}

// SetBaseURL overrides the API endpoint, for tests.
func (c *Calendar) SetBaseURL(u string) { c.baseURL = u }

type calendarResponse struct {
	EarningsCalendar []struct {
		Date   string `json:"date"`
		Symbol string `json:"symbol"`
	} `json:"earningsCalendar"`
}

// RefreshSymbol fetches the symbol's earnings dates and updates the cache.
// Fetch failures leave the previous cache entry in place and are not fatal:
// a missing calendar must never halt trading.
func (c *Calendar) RefreshSymbol(ctx context.Context, symbol string) {
	if c.apiKey == "" {
		c.log.Warn("finnhub api key not configured, earnings lockout disabled", "symbol", symbol)
		return
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/calendar/earnings?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		c.log.Error("building earnings request", "symbol", symbol, "error", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("fetching earnings calendar", "symbol", symbol, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Error("earnings calendar request failed", "symbol", symbol, "status", resp.StatusCode)
		return
	}

	var data calendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		c.log.Error("decoding earnings calendar", "symbol", symbol, "error", err)
		return
	}

	days := make(map[string]bool)
	for _, item := range data.EarningsCalendar {
		if item.Date == "" {
			continue
		}
		days[item.Date] = true
		if c.skipNextDay {
			if d, err := time.Parse("2006-01-02", item.Date); err == nil {
				days[d.AddDate(0, 0, 1).Format("2006-01-02")] = true
			}
		}
	}

	c.mu.Lock()
	c.skipDates[symbol] = days
	c.mu.Unlock()
	c.log.Info("earnings calendar refreshed", "symbol", symbol, "skip_days", len(days))
}

// RefreshAll refreshes every symbol in the watchlist.
func (c *Calendar) RefreshAll(ctx context.Context, symbols []string) {
	for _, s := range symbols {
		c.RefreshSymbol(ctx, s)
	}
}

// IsSkipDay reports whether date is an earnings lockout day for symbol.
func (c *Calendar) IsSkipDay(symbol string, date time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipDates[symbol][date.Format("2006-01-02")]
}

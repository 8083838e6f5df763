// Package calendar provides trading-day math for US equities: settlement
// dates under T+1, session windows, and the Friday flatten cutoff. Holiday
// awareness comes from the Alpaca exchange calendar, with a weekend-only
// fallback when the calendar cannot be fetched.
package calendar

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

const dateLayout = "2006-01-02"

// Windows are ET time-of-day boundaries for entries and the weekly flatten.
type Windows struct {
	MorningStart  string // "09:45"
	MorningEnd    string // "11:15"
	PowerStart    string // "15:00"
	PowerEnd      string // "15:55"
	FridayFlatten string // "15:45"
}

// TradingCalendar answers trading-day and session-window questions in ET.
type TradingCalendar struct {
	loc      *time.Location
	windows  Windows
	holidays map[string]bool // "2006-01-02" → market closed (weekday)
}

// New creates a TradingCalendar with the given session windows and no
// holiday data (weekends only). Use LoadHolidays to add exchange holidays.
func New(windows Windows) (*TradingCalendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}
	return &TradingCalendar{
		loc:      loc,
		windows:  windows,
		holidays: make(map[string]bool),
	}, nil
}

// LoadHolidays fetches the exchange calendar from Alpaca for [start, end]
// and records every weekday the market is closed. Safe to call again to
// extend the range; errors leave the existing holiday set untouched.
func (tc *TradingCalendar) LoadHolidays(client *alpaca.Client, start, end time.Time) error {
	days, err := client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
	if err != nil {
		return fmt.Errorf("GetCalendar: %w", err)
	}

	open := make(map[string]bool, len(days))
	for _, d := range days {
		open[d.Date] = true
	}
	for d := tc.DateOf(start); !d.After(tc.DateOf(end)); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if !open[d.Format(dateLayout)] {
			tc.holidays[d.Format(dateLayout)] = true
		}
	}
	return nil
}

// MarkHoliday records a single non-trading weekday, for tests and offline use.
func (tc *TradingCalendar) MarkHoliday(date time.Time) {
	tc.holidays[tc.DateOf(date).Format(dateLayout)] = true
}

// Location returns the ET location used for all calendar math.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// DateOf truncates t to its ET calendar date (midnight ET).
func (tc *TradingCalendar) DateOf(t time.Time) time.Time {
	y, m, d := t.In(tc.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tc.loc)
}

// SameTradingDay reports whether a and b fall on the same ET calendar date.
func (tc *TradingCalendar) SameTradingDay(a, b time.Time) bool {
	return tc.DateOf(a).Equal(tc.DateOf(b))
}

// IsTradingDay reports whether the given date is a weekday and not a known
// exchange holiday.
func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	d := tc.DateOf(date)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !tc.holidays[d.Format(dateLayout)]
}

// SettlementDate returns the T+1 settlement date for a trade executed on
// tradeDate: the next business day, skipping weekends and holidays.
func (tc *TradingCalendar) SettlementDate(tradeDate time.Time) time.Time {
	d := tc.DateOf(tradeDate).AddDate(0, 0, 1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// InEntryWindow reports whether t falls inside the morning or power entry
// window on a trading day.
func (tc *TradingCalendar) InEntryWindow(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	et := t.In(tc.loc)
	return tc.within(et, tc.windows.MorningStart, tc.windows.MorningEnd) ||
		tc.within(et, tc.windows.PowerStart, tc.windows.PowerEnd)
}

// InPowerWindow reports whether t falls inside the afternoon power window.
func (tc *TradingCalendar) InPowerWindow(t time.Time) bool {
	if !tc.IsTradingDay(t) {
		return false
	}
	return tc.within(t.In(tc.loc), tc.windows.PowerStart, tc.windows.PowerEnd)
}

// FridayFlattenDue reports whether t is a Friday at or past the weekly
// flatten cutoff.
func (tc *TradingCalendar) FridayFlattenDue(t time.Time) bool {
	et := t.In(tc.loc)
	if et.Weekday() != time.Friday {
		return false
	}
	return !et.Before(tc.at(et, tc.windows.FridayFlatten))
}

// within reports whether et falls in [startHHMM, endHHMM] on its own date.
func (tc *TradingCalendar) within(et time.Time, startHHMM, endHHMM string) bool {
	start := tc.at(et, startHHMM)
	end := tc.at(et, endHHMM)
	return !et.Before(start) && !et.After(end)
}

// at returns the given "HH:MM" time-of-day on et's date. A malformed string
// yields midnight, which makes the enclosing window check fail closed.
func (tc *TradingCalendar) at(et time.Time, hhmm string) time.Time {
	h, m, ok := parseHHMM(hhmm)
	if !ok {
		slog.Warn("malformed window time", "value", hhmm)
		h, m = 0, 0
	}
	y, mo, d := et.Date()
	return time.Date(y, mo, d, h, m, 0, 0, tc.loc)
}

func parseHHMM(s string) (h, m int, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

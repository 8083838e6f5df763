package earnings

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func earningsServer(t *testing.T, dates ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			t.Error("request missing token parameter")
		}
		fmt.Fprint(w, `{"earningsCalendar":[`)
		for i, d := range dates {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"date":%q,"symbol":"TSLA"}`, d)
		}
		fmt.Fprint(w, `]}`)
	}))
}

func TestSkipDayAfterRefresh(t *testing.T) {
	srv := earningsServer(t, "2025-01-08")
	defer srv.Close()

	c := New("test-key", false, nil)
	c.SetBaseURL(srv.URL)
	c.RefreshSymbol(context.Background(), "TSLA")

	if !c.IsSkipDay("TSLA", time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)) {
		t.Error("earnings date not marked as skip day")
	}
	if c.IsSkipDay("TSLA", time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC)) {
		t.Error("day after earnings marked without skip_next_day")
	}
	if c.IsSkipDay("AAPL", time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)) {
		t.Error("unrelated symbol marked as skip day")
	}
}

func TestSkipNextDay(t *testing.T) {
	srv := earningsServer(t, "2025-01-08")
	defer srv.Close()

	c := New("test-key", true, nil)
	c.SetBaseURL(srv.URL)
	c.RefreshSymbol(context.Background(), "TSLA")

	for _, day := range []int{8, 9} {
		if !c.IsSkipDay("TSLA", time.Date(2025, 1, day, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("2025-01-%02d not marked as skip day", day)
		}
	}
}

func TestMissingAPIKeyNoLockouts(t *testing.T) {
	c := New("", true, nil)
	c.RefreshSymbol(context.Background(), "TSLA")

	if c.IsSkipDay("TSLA", time.Now()) {
		t.Error("lockout active without an API key")
	}
}

func TestFetchFailureKeepsPreviousCache(t *testing.T) {
	srv := earningsServer(t, "2025-01-08")
	c := New("test-key", false, nil)
	c.SetBaseURL(srv.URL)
	c.RefreshSymbol(context.Background(), "TSLA")
	srv.Close()

	// Endpoint is gone now; the refresh fails but the cache survives.
	c.RefreshSymbol(context.Background(), "TSLA")
	if !c.IsSkipDay("TSLA", time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Error("failed refresh wiped the previous skip dates")
	}
}

func TestServerErrorIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("test-key", false, nil)
	c.SetBaseURL(srv.URL)
	c.RefreshSymbol(context.Background(), "TSLA")

	if c.IsSkipDay("TSLA", time.Now()) {
		t.Error("lockout active after a failed fetch")
	}
}

package calendar

import (
	"testing"
	"time"
)

func testWindows() Windows {
	return Windows{
		MorningStart:  "09:45",
		MorningEnd:    "11:15",
		PowerStart:    "15:00",
		PowerEnd:      "15:55",
		FridayFlatten: "15:45",
	}
}

func mustNew(t *testing.T) *TradingCalendar {
	t.Helper()
	tc, err := New(testWindows())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return tc
}

func et(t *testing.T, y int, mo time.Month, d, h, m int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading ET: %v", err)
	}
	return time.Date(y, mo, d, h, m, 0, 0, loc)
}

func TestSettlementDateSkipsWeekend(t *testing.T) {
	tc := mustNew(t)

	// Friday 2025-01-10 → settles Monday 2025-01-13.
	friday := et(t, 2025, time.January, 10, 14, 30)
	got := tc.SettlementDate(friday)
	want := tc.DateOf(et(t, 2025, time.January, 13, 0, 0))
	if !got.Equal(want) {
		t.Errorf("SettlementDate(Friday) = %v, want %v", got, want)
	}

	// Tuesday 2025-01-07 → settles Wednesday 2025-01-08.
	tuesday := et(t, 2025, time.January, 7, 10, 0)
	got = tc.SettlementDate(tuesday)
	want = tc.DateOf(et(t, 2025, time.January, 8, 0, 0))
	if !got.Equal(want) {
		t.Errorf("SettlementDate(Tuesday) = %v, want %v", got, want)
	}
}

func TestSettlementDateSkipsHoliday(t *testing.T) {
	tc := mustNew(t)
	// MLK day: Monday 2025-01-20.
	tc.MarkHoliday(et(t, 2025, time.January, 20, 0, 0))

	friday := et(t, 2025, time.January, 17, 11, 0)
	got := tc.SettlementDate(friday)
	want := tc.DateOf(et(t, 2025, time.January, 21, 0, 0))
	if !got.Equal(want) {
		t.Errorf("SettlementDate over holiday weekend = %v, want %v (Tuesday)", got, want)
	}
}

func TestEntryWindows(t *testing.T) {
	tc := mustNew(t)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before morning", et(t, 2025, time.January, 7, 9, 30), false},
		{"morning window", et(t, 2025, time.January, 7, 10, 0), true},
		{"midday lull", et(t, 2025, time.January, 7, 13, 0), false},
		{"power window", et(t, 2025, time.January, 7, 15, 30), true},
		{"after close", et(t, 2025, time.January, 7, 16, 30), false},
		{"saturday", et(t, 2025, time.January, 11, 10, 0), false},
	}
	for _, c := range cases {
		if got := tc.InEntryWindow(c.at); got != c.want {
			t.Errorf("InEntryWindow(%s) = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestFridayFlattenDue(t *testing.T) {
	tc := mustNew(t)

	if tc.FridayFlattenDue(et(t, 2025, time.January, 10, 15, 30)) {
		t.Error("flatten due before 15:45 Friday")
	}
	if !tc.FridayFlattenDue(et(t, 2025, time.January, 10, 15, 45)) {
		t.Error("flatten not due at 15:45 Friday")
	}
	if tc.FridayFlattenDue(et(t, 2025, time.January, 9, 15, 50)) {
		t.Error("flatten due on a Thursday")
	}
}

func TestSameTradingDay(t *testing.T) {
	tc := mustNew(t)
	a := et(t, 2025, time.January, 7, 9, 30)
	b := et(t, 2025, time.January, 7, 15, 55)
	c := et(t, 2025, time.January, 8, 9, 30)

	if !tc.SameTradingDay(a, b) {
		t.Error("same ET date reported as different trading days")
	}
	if tc.SameTradingDay(a, c) {
		t.Error("different ET dates reported as same trading day")
	}
}

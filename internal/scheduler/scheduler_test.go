package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatal(err)
	}
	return loc
}

func TestMatchers(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	at := func(h, m int) time.Time {
		return time.Date(2025, 6, 2, h, m, 0, 0, loc) // a Monday
	}

	nine := At(9, 0)
	if !nine(at(9, 0)) || nine(at(9, 1)) || nine(at(10, 0)) {
		t.Error("At(9,0) matched wrong minutes")
	}

	monitor := EveryBetween(9, 30, 15, 20, 20)
	for _, tt := range []struct {
		h, m int
		want bool
	}{
		{9, 30, true}, {9, 50, true}, {10, 10, true}, {15, 10, true},
		{9, 29, false}, {9, 40, false}, {15, 21, false}, {15, 30, false},
	} {
		if got := monitor(at(tt.h, tt.m)); got != tt.want {
			t.Errorf("EveryBetween at %02d:%02d = %v, want %v", tt.h, tt.m, got, tt.want)
		}
	}

	hourly := HourlyBetween(9, 16)
	if !hourly(at(9, 0)) || !hourly(at(16, 0)) || hourly(at(8, 0)) || hourly(at(9, 30)) || hourly(at(17, 0)) {
		t.Error("HourlyBetween matched wrong minutes")
	}
}

func TestWeekdayCalendar(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	cal := WeekdayCalendar([]string{"2025-06-04"})

	monday := time.Date(2025, 6, 2, 9, 0, 0, 0, loc)
	saturday := time.Date(2025, 6, 7, 9, 0, 0, 0, loc)
	holiday := time.Date(2025, 6, 4, 9, 0, 0, 0, loc)

	if !cal(monday) {
		t.Error("Monday not a trading day")
	}
	if cal(saturday) {
		t.Error("Saturday traded")
	}
	if cal(holiday) {
		t.Error("listed holiday traded")
	}
}

// TestVirtualDay walks a full trading day minute by minute and counts
// firings against the published timetable.
func TestVirtualDay(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	s := New(loc, WeekdayCalendar(nil), testLogger())

	counts := map[string]*atomic.Int32{}
	add := func(name string, when Matcher) {
		c := &atomic.Int32{}
		counts[name] = c
		s.Add(Entry{Workflow: name, When: when, Run: func(ctx context.Context, sessionID string) error {
			if sessionID != "2025-06-02" {
				t.Errorf("session id = %s", sessionID)
			}
			c.Add(1)
			return nil
		}})
	}
	add("intraday_analysis", At(9, 0))
	add("order_execution", At(9, 15))
	add("position_monitoring", EveryBetween(9, 30, 15, 20, 20))
	add("news_digest", HourlyBetween(9, 16))
	add("post_trade", At(16, 0))

	ctx := context.Background()
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, loc)
	for m := 0; m < 10*60; m++ { // 08:00 through 17:59
		s.Tick(ctx, start.Add(time.Duration(m)*time.Minute))
		s.Wait()
	}

	want := map[string]int32{
		"intraday_analysis":   1,
		"order_execution":     1,
		"position_monitoring": 18, // 09:30..15:10 every 20 min
		"news_digest":         8,  // 09:00..16:00 on the hour
		"post_trade":          1,
	}
	for name, w := range want {
		if got := counts[name].Load(); got != w {
			t.Errorf("%s fired %d times, want %d", name, got, w)
		}
	}
}

func TestNoCatchUpForMissedMinutes(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	s := New(loc, WeekdayCalendar(nil), testLogger())

	var fired atomic.Int32
	s.Add(Entry{Workflow: "order_execution", When: At(9, 15), Run: func(ctx context.Context, _ string) error {
		fired.Add(1)
		return nil
	}})

	ctx := context.Background()
	// process was down over 09:15; clock next observed at 09:17
	s.Tick(ctx, time.Date(2025, 6, 2, 9, 14, 0, 0, loc))
	s.Tick(ctx, time.Date(2025, 6, 2, 9, 17, 0, 0, loc))
	s.Wait()

	if got := fired.Load(); got != 0 {
		t.Errorf("missed minute was replayed %d times", got)
	}
}

func TestNonOverlapDropsTrigger(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	s := New(loc, WeekdayCalendar(nil), testLogger())

	var started atomic.Int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	s.Add(Entry{Workflow: "position_monitoring", When: EveryBetween(9, 30, 15, 20, 20), Run: func(ctx context.Context, _ string) error {
		if started.Add(1) == 1 {
			defer wg.Done()
			<-release // first run outlives the next trigger
		}
		return nil
	}})

	ctx := context.Background()
	s.Tick(ctx, time.Date(2025, 6, 2, 9, 30, 0, 0, loc))
	// give the first job a moment to mark itself running
	for i := 0; i < 100 && started.Load() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	s.Tick(ctx, time.Date(2025, 6, 2, 9, 50, 0, 0, loc)) // dropped: still running
	close(release)
	wg.Wait()
	s.Wait()

	if got := started.Load(); got != 1 {
		t.Errorf("overlapping trigger started %d runs, want 1", got)
	}

	// next trigger after completion fires normally
	s.Tick(ctx, time.Date(2025, 6, 2, 10, 10, 0, 0, loc))
	s.Wait()
	if got := started.Load(); got != 2 {
		t.Errorf("post-completion trigger: %d runs, want 2", got)
	}
}

func TestWeekendAndDuplicateMinuteSkipped(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	s := New(loc, WeekdayCalendar(nil), testLogger())

	var fired atomic.Int32
	s.Add(Entry{Workflow: "intraday_analysis", When: At(9, 0), Run: func(ctx context.Context, _ string) error {
		fired.Add(1)
		return nil
	}})

	ctx := context.Background()
	s.Tick(ctx, time.Date(2025, 6, 7, 9, 0, 0, 0, loc)) // Saturday
	s.Wait()
	if fired.Load() != 0 {
		t.Error("fired on a weekend")
	}

	monday := time.Date(2025, 6, 2, 9, 0, 0, 0, loc)
	s.Tick(ctx, monday)
	s.Tick(ctx, monday.Add(30*time.Second)) // same minute, different second
	s.Wait()
	if got := fired.Load(); got != 1 {
		t.Errorf("same minute fired %d times, want 1", got)
	}
}

// Package scheduler fires workflows on their intraday timetable.
//
// The scheduler evaluates its entries once per minute of venue-local time.
// A trigger fires only when its matcher accepts the current minute: a
// minute that passes while the process is down is simply gone, never
// replayed. Per-workflow non-overlap is enforced by a running set; a
// trigger landing while the previous run of the same workflow is still
// going is dropped with a warning. Weekends and configured holidays are
// skipped wholesale.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Matcher decides whether a trigger fires at a given venue-local minute.
type Matcher func(t time.Time) bool

// At matches a single hh:mm each day.
func At(hour, minute int) Matcher {
	return func(t time.Time) bool {
		return t.Hour() == hour && t.Minute() == minute
	}
}

// EveryBetween matches every step minutes from start through end inclusive.
// Minutes are counted from the start anchor, matching a 09:30 start with a
// 20-minute step at 09:30, 09:50, 10:10, and so on.
func EveryBetween(startHour, startMin, endHour, endMin, stepMinutes int) Matcher {
	start := startHour*60 + startMin
	end := endHour*60 + endMin
	return func(t time.Time) bool {
		m := t.Hour()*60 + t.Minute()
		if m < start || m > end {
			return false
		}
		return (m-start)%stepMinutes == 0
	}
}

// HourlyBetween matches on the hour from start through end inclusive.
func HourlyBetween(startHour, endHour int) Matcher {
	return func(t time.Time) bool {
		return t.Minute() == 0 && t.Hour() >= startHour && t.Hour() <= endHour
	}
}

// Job is the work a trigger launches. sessionID is the venue-local trading
// date.
type Job func(ctx context.Context, sessionID string) error

// Entry binds a workflow name to its schedule and job.
type Entry struct {
	Workflow string
	When     Matcher
	Run      Job
}

// Calendar reports whether a date is a trading day.
type Calendar func(t time.Time) bool

// WeekdayCalendar trades Monday through Friday minus the listed holidays
// (formatted YYYY-MM-DD).
func WeekdayCalendar(holidays []string) Calendar {
	skip := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		skip[h] = true
	}
	return func(t time.Time) bool {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
		return !skip[t.Format("2006-01-02")]
	}
}

// Scheduler drives the timetable. Tick is exposed so tests can feed a
// virtual timeline; Run drives Tick from the wall clock.
type Scheduler struct {
	loc      *time.Location
	calendar Calendar
	entries  []Entry
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup

	// lastMinute deduplicates ticks landing inside the same minute
	lastMinute time.Time
}

// New creates a scheduler for the venue timezone.
func New(loc *time.Location, calendar Calendar, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		loc:      loc,
		calendar: calendar,
		logger:   logger.With("component", "scheduler"),
		running:  make(map[string]bool),
	}
}

// Add registers an entry. Not safe to call after Run starts.
func (s *Scheduler) Add(e Entry) { s.entries = append(s.entries, e) }

// Run evaluates the timetable once per minute until ctx is cancelled, then
// waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	// align to the next minute boundary so matchers see clean minutes
	now := time.Now().In(s.loc)
	wait := now.Truncate(time.Minute).Add(time.Minute).Sub(now)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case t := <-timer.C:
			s.Tick(ctx, t.In(s.loc))
			now = time.Now().In(s.loc)
			timer.Reset(now.Truncate(time.Minute).Add(time.Minute).Sub(now))
		}
	}
}

// Tick evaluates all entries against one venue-local instant. Duplicate
// calls within the same minute are ignored; skipped minutes are not
// replayed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	now = now.In(s.loc)
	minute := now.Truncate(time.Minute)

	s.mu.Lock()
	if minute.Equal(s.lastMinute) {
		s.mu.Unlock()
		return
	}
	s.lastMinute = minute
	s.mu.Unlock()

	if !s.calendar(now) {
		return
	}
	sessionID := now.Format("2006-01-02")

	for _, e := range s.entries {
		if !e.When(now) {
			continue
		}
		s.mu.Lock()
		if s.running[e.Workflow] {
			s.mu.Unlock()
			s.logger.Warn("trigger dropped, previous run still active", "workflow", e.Workflow, "at", now.Format("15:04"))
			continue
		}
		s.running[e.Workflow] = true
		s.mu.Unlock()

		s.wg.Add(1)
		go func(e Entry) {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				s.running[e.Workflow] = false
				s.mu.Unlock()
			}()

			s.logger.Info("trigger fired", "workflow", e.Workflow, "session", sessionID, "at", now.Format("15:04"))
			if err := e.Run(ctx, sessionID); err != nil {
				s.logger.Error("workflow run failed", "workflow", e.Workflow, "error", err)
			}
		}(e)
	}
}

// Wait blocks until in-flight jobs finish. Tests use it to assert on
// completed work after a synthetic tick.
func (s *Scheduler) Wait() { s.wg.Wait() }

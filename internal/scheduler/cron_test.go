package scheduler

import (
	"testing"
	"time"

	"github.com/baluhost/baluhost/internal/model"
)

func mustParseCron(t *testing.T, expr string) cronSchedule {
	t.Helper()
	cs, err := parseCron(expr)
	if err != nil {
		t.Fatalf("parseCron(%q): %v", expr, err)
	}
	return cs
}

func TestParseCronRejectsWrongFieldCount(t *testing.T) {
	if _, err := parseCron("* * *"); err == nil {
		t.Fatal("expected error for a 3-field expression")
	}
}

func TestCronEveryMinuteMatchesAnyTime(t *testing.T) {
	cs := mustParseCron(t, "* * * * *")
	now := time.Date(2026, 3, 14, 8, 17, 0, 0, time.UTC)
	if !cs.matches(now) {
		t.Fatal("expected every-minute schedule to match any minute")
	}
}

func TestCronNextAdvancesToMatchingMinute(t *testing.T) {
	cs := mustParseCron(t, "30 2 * * *")
	after := time.Date(2026, 3, 14, 8, 17, 0, 0, time.UTC)
	next := cs.next(after)
	if next.Hour() != 2 || next.Minute() != 30 {
		t.Fatalf("next = %v, want 02:30", next)
	}
	if !next.After(after) {
		t.Fatalf("next must be strictly after `after`: %v vs %v", next, after)
	}
	// Should roll to the next day since 02:30 already passed today.
	if next.Day() != after.Day()+1 {
		t.Fatalf("expected roll to next day, got %v", next)
	}
}

func TestCronDayOfWeekRestriction(t *testing.T) {
	// Sundays only at midnight.
	cs := mustParseCron(t, "0 0 * * 0")
	sunday := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC) // a Sunday
	monday := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	if !cs.matches(sunday) {
		t.Error("expected Sunday midnight to match")
	}
	if cs.matches(monday) {
		t.Error("expected Monday midnight not to match")
	}
}

func TestCronStepValues(t *testing.T) {
	cs := mustParseCron(t, "*/15 * * * *")
	for _, m := range []int{0, 15, 30, 45} {
		if !cs.minutes.has(m) {
			t.Errorf("expected minute %d to match */15", m)
		}
	}
	if cs.minutes.has(16) {
		t.Error("minute 16 should not match */15")
	}
}

func TestNextFireTimeInterval(t *testing.T) {
	trig := model.Trigger{Kind: model.TriggerInterval, IntervalSeconds: 60}
	after := time.Date(2026, 3, 14, 8, 17, 0, 0, time.UTC)
	next, err := nextFireTime(trig, after)
	if err != nil {
		t.Fatalf("nextFireTime: %v", err)
	}
	if !next.Equal(after.Add(time.Minute)) {
		t.Errorf("next = %v, want %v", next, after.Add(time.Minute))
	}
}

func TestNextFireTimeDailyRollsToTomorrowIfPassed(t *testing.T) {
	trig := model.Trigger{Kind: model.TriggerDaily, DailyHour: 3, DailyMinute: 0, DailyTZ: "UTC"}
	after := time.Date(2026, 3, 14, 8, 17, 0, 0, time.UTC)
	next, err := nextFireTime(trig, after)
	if err != nil {
		t.Fatalf("nextFireTime: %v", err)
	}
	if next.Day() != 15 || next.Hour() != 3 {
		t.Fatalf("next = %v, want 2026-03-15 03:00", next)
	}
}

func TestNextFireTimeIntervalRejectsNonPositive(t *testing.T) {
	trig := model.Trigger{Kind: model.TriggerInterval, IntervalSeconds: 0}
	if _, err := nextFireTime(trig, time.Now()); err == nil {
		t.Fatal("expected error for a non-positive interval")
	}
}

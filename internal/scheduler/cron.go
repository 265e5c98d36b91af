package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// cronSchedule is a parsed five-field, minute-precision cron expression
// (minute hour day-of-month month day-of-week). No cron-expression
// library is depended on anywhere upstream of this module, so this is
// the one ambient piece of the scheduler implemented directly over the
// standard library — see DESIGN.md.
type cronSchedule struct {
	minutes    fieldSet
	hours      fieldSet
	daysOfMon  fieldSet
	months     fieldSet
	daysOfWeek fieldSet
}

// fieldSet is a bitset over a bounded range; "*" sets every bit.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, baluerr.New(baluerr.KindInvalidArg, "scheduler.parseCron", "expected 5 fields, got "+strconv.Itoa(len(fields)))
	}
	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return cronSchedule{}, err
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return cronSchedule{}, err
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return cronSchedule{}, err
	}
	mon, err := parseField(fields[3], 1, 12)
	if err != nil {
		return cronSchedule{}, err
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return cronSchedule{}, err
	}
	return cronSchedule{minutes: minutes, hours: hours, daysOfMon: dom, months: mon, daysOfWeek: dow}, nil
}

func parseField(raw string, lo, hi int) (fieldSet, error) {
	if raw == "*" {
		var set fieldSet
		for v := lo; v <= hi; v++ {
			set |= 1 << uint(v)
		}
		return set, nil
	}

	var set fieldSet
	for _, part := range strings.Split(raw, ",") {
		if strings.Contains(part, "/") {
			bounds := strings.SplitN(part, "/", 2)
			step, err := strconv.Atoi(bounds[1])
			if err != nil || step <= 0 {
				return 0, baluerr.New(baluerr.KindInvalidArg, "scheduler.parseCron", "bad step in field "+raw)
			}
			start, end := lo, hi
			if bounds[0] != "*" {
				rStart, rEnd, err := parseRange(bounds[0])
				if err != nil {
					return 0, err
				}
				start, end = rStart, rEnd
			}
			for v := start; v <= end; v += step {
				set |= 1 << uint(v)
			}
			continue
		}
		if strings.Contains(part, "-") {
			start, end, err := parseRange(part)
			if err != nil {
				return 0, err
			}
			for v := start; v <= end; v++ {
				set |= 1 << uint(v)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < lo || v > hi {
			return 0, baluerr.New(baluerr.KindInvalidArg, "scheduler.parseCron", "value out of range in field "+raw)
		}
		set |= 1 << uint(v)
	}
	return set, nil
}

func parseRange(s string) (int, int, error) {
	bounds := strings.SplitN(s, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, baluerr.New(baluerr.KindInvalidArg, "scheduler.parseCron", "malformed range "+s)
	}
	start, err1 := strconv.Atoi(bounds[0])
	end, err2 := strconv.Atoi(bounds[1])
	if err1 != nil || err2 != nil || start > end {
		return 0, 0, baluerr.New(baluerr.KindInvalidArg, "scheduler.parseCron", "malformed range "+s)
	}
	return start, end, nil
}

// next returns the earliest minute-aligned instant strictly after `after`
// matching the schedule. Day-of-month and day-of-week are OR'd together
// when both are restricted, matching standard cron semantics.
func (c cronSchedule) next(after time.Time) time.Time {
	t := after.Truncate(time.Minute).Add(time.Minute)
	// Bounded search: at most six years of minutes (leap-safe upper bound)
	// before giving up — a schedule that never matches is a config bug,
	// not something to spin on forever.
	for i := 0; i < 60*24*366*6; i++ {
		if c.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (c cronSchedule) matches(t time.Time) bool {
	if !c.minutes.has(t.Minute()) {
		return false
	}
	if !c.hours.has(t.Hour()) {
		return false
	}
	if !c.months.has(int(t.Month())) {
		return false
	}
	domMatch := c.daysOfMon.has(t.Day())
	dowMatch := c.daysOfWeek.has(int(t.Weekday()))
	if c.daysOfMon == allDOM && c.daysOfWeek == allDOW {
		return true
	}
	if c.daysOfMon == allDOM {
		return dowMatch
	}
	if c.daysOfWeek == allDOW {
		return domMatch
	}
	return domMatch || dowMatch
}

var (
	allDOM fieldSet
	allDOW fieldSet
)

func init() {
	for v := 1; v <= 31; v++ {
		allDOM |= 1 << uint(v)
	}
	for v := 0; v <= 6; v++ {
		allDOW |= 1 << uint(v)
	}
}

// nextFireTime computes the next time a Trigger should fire strictly
// after `after`.
func nextFireTime(trig model.Trigger, after time.Time) (time.Time, error) {
	switch trig.Kind {
	case model.TriggerInterval:
		if trig.IntervalSeconds <= 0 {
			return time.Time{}, baluerr.New(baluerr.KindInvalidArg, "scheduler.nextFireTime", "interval must be positive")
		}
		return after.Add(time.Duration(trig.IntervalSeconds) * time.Second), nil
	case model.TriggerCron:
		cs, err := parseCron(trig.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return cs.next(after), nil
	case model.TriggerDaily:
		loc := time.UTC
		if trig.DailyTZ != "" {
			if l, err := time.LoadLocation(trig.DailyTZ); err == nil {
				loc = l
			}
		}
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), trig.DailyHour, trig.DailyMinute, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next.In(after.Location()), nil
	default:
		return time.Time{}, baluerr.New(baluerr.KindInvalidArg, "scheduler.nextFireTime", "unknown trigger kind")
	}
}

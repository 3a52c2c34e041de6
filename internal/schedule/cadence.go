package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"agentflow/internal/domain"
)

// cronParser accepts plain 5-field expressions only, no descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCronExpr validates a cron-cadence expression.
func ParseCronExpr(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// ParseTimeOfDay parses "HH:MM" (24h). Trailing text is rejected.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Boundary computes the entry's current period boundary: the most
// recent cadence occurrence at or before now. The entry fires when
// lastFiredAt predates this boundary. Monthly days beyond the month's
// length clamp to its last day.
func Boundary(e domain.ScheduleEntry, now time.Time) (time.Time, error) {
	if e.Cadence.Kind == domain.CadenceCron {
		return cronBoundary(e, now)
	}

	hour, minute, err := ParseTimeOfDay(e.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, now.Location())
	}

	switch e.Cadence.Kind {
	case domain.CadenceDaily:
		b := at(now.Year(), now.Month(), now.Day())
		if b.After(now) {
			b = b.AddDate(0, 0, -1)
		}
		return b, nil

	case domain.CadenceWeekly:
		dow := e.Cadence.DayOfWeek
		if dow < 0 || dow > 6 {
			return time.Time{}, fmt.Errorf("invalid day of week %d", dow)
		}
		back := (int(now.Weekday()) - dow + 7) % 7
		b := at(now.Year(), now.Month(), now.Day()).AddDate(0, 0, -back)
		if b.After(now) {
			b = b.AddDate(0, 0, -7)
		}
		return b, nil

	case domain.CadenceMonthly:
		dom := e.Cadence.DayOfMonth
		if dom < 1 || dom > 31 {
			return time.Time{}, fmt.Errorf("invalid day of month %d", dom)
		}
		b := at(now.Year(), now.Month(), clampDay(now.Year(), now.Month(), dom))
		if b.After(now) {
			py, pm := prevMonth(now.Year(), now.Month())
			b = at(py, pm, clampDay(py, pm, dom))
		}
		return b, nil

	default:
		return time.Time{}, fmt.Errorf("unknown cadence kind %q", e.Cadence.Kind)
	}
}

// cronBoundary walks the cron schedule forward from the last fire (or
// entry creation) and returns the latest occurrence at or before now.
// A zero time means nothing is due yet.
func cronBoundary(e domain.ScheduleEntry, now time.Time) (time.Time, error) {
	sched, err := ParseCronExpr(e.Cadence.Expr)
	if err != nil {
		return time.Time{}, err
	}
	base := e.CreatedAt
	if e.LastFiredAt != nil {
		base = *e.LastFiredAt
	}
	due := sched.Next(base)
	if due.After(now) {
		return time.Time{}, nil
	}
	for {
		n := sched.Next(due)
		if n.After(now) {
			return due, nil
		}
		due = n
	}
}

func clampDay(year int, month time.Month, day int) int {
	if last := daysIn(year, month); day > last {
		return last
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}

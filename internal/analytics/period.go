package analytics

import (
	"strings"
	"time"
)

// Period is a half-open date range [Start, End) used as an analytics window.
type Period struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ResolvePeriod maps a symbolic period name to a calendar window relative to
// now. Weeks start on Monday. Unrecognised names resolve to "this month".
func ResolvePeriod(name string, now time.Time) Period {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "last month":
		start := monthStart.AddDate(0, -1, 0)
		return Period{Name: "last month", Start: start, End: monthStart}
	case "this week":
		monday := day.AddDate(0, 0, -mondayOffset(day))
		return Period{Name: "this week", Start: monday, End: monday.AddDate(0, 0, 7)}
	case "last week":
		monday := day.AddDate(0, 0, -mondayOffset(day))
		return Period{Name: "last week", Start: monday.AddDate(0, 0, -7), End: monday}
	case "this year":
		start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		return Period{Name: "this year", Start: start, End: start.AddDate(1, 0, 0)}
	default:
		return Period{Name: "this month", Start: monthStart, End: monthStart.AddDate(0, 1, 0)}
	}
}

// LastMonths returns the n calendar months ending with the current one,
// oldest first. Handy as the period list for Trend.
func LastMonths(now time.Time, n int) []Period {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periods := make([]Period, 0, n)
	for i := n - 1; i >= 0; i-- {
		start := monthStart.AddDate(0, -i, 0)
		periods = append(periods, Period{
			Name:  start.Format("2006-01"),
			Start: start,
			End:   start.AddDate(0, 1, 0),
		})
	}
	return periods
}

// mondayOffset is the number of days since the most recent Monday.
func mondayOffset(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

package util

import (
	"fmt"
	"time"
)

// All day partitioning in the pipeline is UTC. Callers must go through
// these helpers instead of extracting date components directly so that a
// local-time Day()/Month() can never leak into a blob key or a coverage
// calculation.

const dateLayout = "2006-01-02"

// ParseUTCDate parses a YYYY-MM-DD string as UTC midnight.
func ParseUTCDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

// DayStart truncates t to UTC midnight.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DateComponents returns zero-padded UTC year, month, and day strings.
func DateComponents(t time.Time) (year, month, day string) {
	u := t.UTC()
	return fmt.Sprintf("%04d", u.Year()), fmt.Sprintf("%02d", int(u.Month())), fmt.Sprintf("%02d", u.Day())
}

// FormatUTCDate renders t as a UTC YYYY-MM-DD string.
func FormatUTCDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// DaysBetween returns the inclusive count of UTC calendar days between
// start and end. Returns 0 when end precedes start.
func DaysBetween(start, end time.Time) int {
	s, e := DayStart(start), DayStart(end)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// InWeekendClose reports whether t falls inside the forex market-closed
// window: Saturday 00:00 UTC through Sunday 22:00 UTC.
func InWeekendClose(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday:
		return true
	case time.Sunday:
		return u.Hour() < 22
	default:
		return false
	}
}

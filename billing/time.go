package billing

import "time"

// =============================================================================
// DATE HELPERS - all billing dates are UTC calendar days
// =============================================================================

// Date returns midnight UTC of the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return Date(u.Year(), u.Month(), u.Day())
}

func StartOfMonth(year int, month time.Month) time.Time { return Date(year, month, 1) }

func EndOfMonth(year int, month time.Month) time.Time {
	return Date(year, month+1, 1).AddDate(0, 0, -1)
}

// QuarterOf returns the quarter (1-4) containing month.
func QuarterOf(month time.Month) int { return (int(month)-1)/3 + 1 }

// QuarterStartMonth returns the first month of quarter q.
func QuarterStartMonth(q int) time.Month { return time.Month((q-1)*3 + 1) }

// IsQuarterEnd reports whether month closes a quarter.
func IsQuarterEnd(month time.Month) bool { return int(month)%3 == 0 }

// DaysBetween counts whole calendar days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// AddClampedMonths adds months, clamping the day to the length of the target
// month so Jan 31 + 1 month is Feb 28/29 instead of Mar 2/3.
func AddClampedMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := EndOfMonth(target.Year(), target.Month()).Day()
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

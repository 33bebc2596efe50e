package billing

import (
	"time"
)

// =============================================================================
// PERIOD - The billing window an obligation covers
// =============================================================================

// Period is an inclusive range of calendar days [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t falls on a day within the period.
func (p Period) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int { return DaysBetween(p.Start, p.End) + 1 }

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// Validate checks start <= end.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return invalid("period", "start and end are required")
	}
	if p.End.Before(p.Start) {
		return invalid("period", "end %s before start %s", p.End.Format("2006-01-02"), p.Start.Format("2006-01-02"))
	}
	return nil
}

// =============================================================================
// PERIOD CALCULATOR
// =============================================================================

// ComputePeriod returns the calendar period for (year, index) under freq.
// For monthly frequency index is the month (1-12); for quarterly it is the
// quarter (1-4). Enum values are expected to be validated at the input
// boundary; an unknown frequency falls back to monthly.
func ComputePeriod(year, index int, freq Frequency) Period {
	if freq == FrequencyQuarterly {
		first := QuarterStartMonth(index)
		return Period{
			Start: StartOfMonth(year, first),
			End:   EndOfMonth(year, first+2),
		}
	}
	month := time.Month(index)
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// PeriodFor returns the calendar period under freq that contains date.
func PeriodFor(date time.Time, freq Frequency) Period {
	if freq == FrequencyQuarterly {
		return ComputePeriod(date.Year(), QuarterOf(date.Month()), freq)
	}
	return ComputePeriod(date.Year(), int(date.Month()), FrequencyMonthly)
}

// NextOccurrence adds interval units of typ to base.
// Month-based steps clamp to the end of short months.
func NextOccurrence(base time.Time, typ RecurrenceType, interval int) time.Time {
	switch typ {
	case RecurDaily:
		return base.AddDate(0, 0, interval)
	case RecurWeekly:
		return base.AddDate(0, 0, 7*interval)
	case RecurMonthly:
		return AddClampedMonths(base, interval)
	case RecurQuarterly:
		return AddClampedMonths(base, 3*interval)
	case RecurYearly:
		return AddClampedMonths(base, 12*interval)
	default:
		return base
	}
}

// RecurringPeriod returns the period of the occurrence starting at start: it
// runs until the day before the following occurrence. A calendar-aligned
// monthly record therefore maps onto the next whole month.
func RecurringPeriod(start time.Time, typ RecurrenceType, interval int) Period {
	start = DateOf(start)
	return Period{
		Start: start,
		End:   NextOccurrence(start, typ, interval).AddDate(0, 0, -1),
	}
}

// NextPeriod returns the period following p under freq.
func (p Period) NextPeriod(freq Frequency) Period {
	return PeriodFor(p.End.AddDate(0, 0, 1), freq)
}

package schedule

import (
	"time"

	"github.com/phrazzld/research-digest/internal/domain"
)

// NextDelivery returns the first instant strictly after ref at which a
// recipient with the given cadence becomes due again.
//
// Unknown cadences fall back to daily.
func NextDelivery(cadence domain.Cadence, ref time.Time) time.Time {
	ref = ref.UTC()
	switch cadence {
	case domain.CadenceWeekly:
		return ref.AddDate(0, 0, 7)
	case domain.CadenceMonthly:
		return addMonthClamped(ref)
	default:
		return ref.AddDate(0, 0, 1)
	}
}

// addMonthClamped moves t to the same day of the following month, clamping to
// that month's last day. time.AddDate would normalise Jan 31 into March.
func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	month++
	if month > time.December {
		month = time.January
		year++
	}
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

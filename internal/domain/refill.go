package domain

import "time"

// RefillCalendar estimates when the next fiat deposit lands.
//
// Deposits are assumed to arrive on a fixed day of the month and never on a
// weekend: a refill day falling on Saturday or Sunday is moved back to the
// preceding Friday. Days past the end of a month are clamped to its last day
// (31 in February → 28 or 29).
type RefillCalendar struct {
	Day int // 1–31; anything else means "not configured"
}

// Configured reports whether a valid refill day is set.
func (c RefillCalendar) Configured() bool {
	return c.Day >= 1 && c.Day <= 31
}

// Next returns the estimated next refill instant.
//
// On the first evaluation the refill day of the current month is used,
// rolling one month forward if it is not in the future. Later evaluations
// start from prev, the previous estimate, and roll forward until the result
// lies after both prev and now. Without a configured day the estimate is one
// month from now. The clock time of the anchor (now or prev) is kept.
func (c RefillCalendar) Next(now, prev time.Time, first bool) time.Time {
	if !c.Configured() {
		return AdjustWeekend(AddMonths(now, 1))
	}

	anchor := now
	if !first && !prev.IsZero() {
		anchor = prev
	}

	for offset := 0; ; offset++ {
		next := AdjustWeekend(dayInMonth(anchor, offset, c.Day))
		if next.After(anchor) && next.After(now) {
			return next
		}
	}
}

// AdjustWeekend moves a Saturday or Sunday back to the preceding Friday.
func AdjustWeekend(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, -2)
	}
	return t
}

// AddMonths adds n calendar months to t, clamping the day to the length of
// the target month instead of overflowing into the following one.
func AddMonths(t time.Time, n int) time.Time {
	return dayInMonth(t, n, t.Day())
}

// dayInMonth returns day of the month that is offset months after t's
// month, keeping t's clock time and location.
func dayInMonth(t time.Time, offset, day int) time.Time {
	h, m, s := t.Clock()
	first := time.Date(t.Year(), t.Month()+time.Month(offset), 1, h, m, s, t.Nanosecond(), t.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, h, m, s, t.Nanosecond(), t.Location())
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

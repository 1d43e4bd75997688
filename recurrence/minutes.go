package recurrence

import (
	"fmt"
	"time"
)

// MinutesPerDay is the length of a calendar day in the time-of-day model
const MinutesPerDay = 24 * 60

// ToMinutes converts an instant to whole minutes since the Unix epoch,
// rounding toward negative infinity.
func ToMinutes(t time.Time) int64 {
	return floorDiv(t.Unix(), 60)
}

// CeilMinutes converts an instant to minutes since the Unix epoch, rounding up
// when the instant is not minute aligned.
func CeilMinutes(t time.Time) int64 {
	m := ToMinutes(t)
	if !IsAligned(t) {
		m++
	}
	return m
}

// FromMinutes converts minutes since the Unix epoch back to a UTC instant
func FromMinutes(m int64) time.Time {
	return time.Unix(m*60, 0).UTC()
}

// IsAligned reports whether t falls on a whole minute
func IsAligned(t time.Time) bool {
	return t.Nanosecond() == 0 && t.Unix()%60 == 0
}

// CheckAligned returns ErrNotMinuteAligned for instants with seconds
func CheckAligned(t time.Time) error {
	if !IsAligned(t) {
		return fmt.Errorf("%w: %s", ErrNotMinuteAligned, t.Format(time.RFC3339Nano))
	}
	return nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// localDate returns the calendar date of t in loc, encoded as midnight UTC so
// that day arithmetic never crosses a DST transition.
func localDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
}

// wallClock returns the elapsed wall-clock time since local midnight of t in loc
func wallClock(t time.Time, loc *time.Location) time.Duration {
	lt := t.In(loc)
	return time.Duration(lt.Hour())*time.Hour +
		time.Duration(lt.Minute())*time.Minute +
		time.Duration(lt.Second())*time.Second +
		time.Duration(lt.Nanosecond())
}

// LocalDay describes where an instant falls on the calendar of a zone. The
// filter package uses it to reason about day boundaries the same way the
// calculator does.
type LocalDay struct {
	Date time.Time // midnight UTC carrying the local calendar date
	// Minutes since local midnight, floored and ceiled
	MinuteFloor int
	MinuteCeil  int
}

// LocalDayOf splits t into its local calendar date and minute of day in loc
func LocalDayOf(t time.Time, loc *time.Location) LocalDay {
	wc := wallClock(t, loc)
	floor := int(wc / time.Minute)
	ceil := floor
	if wc%time.Minute != 0 {
		ceil++
	}
	return LocalDay{Date: localDate(t, loc), MinuteFloor: floor, MinuteCeil: ceil}
}

// DayStart returns the instant of local midnight of the calendar date d in loc
func DayStart(d time.Time, loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

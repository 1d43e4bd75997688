package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// ErrInvalidPattern is returned when a pattern fails validation
var ErrInvalidPattern = errors.New("invalid recurrence pattern")

// Kind identifies the pattern family
type Kind int

const (
	KindInterval Kind = iota + 1
	KindWeekday
	KindDayOfMonth
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindWeekday:
		return "weekday"
	case KindDayOfMonth:
		return "day_of_month"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pattern is one of Interval, WeekdayMatch or DayOfMonthMatch
type Pattern interface {
	Kind() Kind
	// Duration is the length of every occurrence
	Duration() time.Duration
	Validate() error
	sealed()
}

// Interval fires at Anchor + k*IntervalMinutes for every integer k, optionally
// stopping before End.
type Interval struct {
	Anchor          time.Time
	End             mo.Option[time.Time] // exclusive bound on occurrence starts
	IntervalMinutes int
	DurationMinutes int
}

// NewInterval creates and validates an interval pattern
func NewInterval(anchor time.Time, intervalMinutes, durationMinutes int, end mo.Option[time.Time]) (Interval, error) {
	p := Interval{
		Anchor:          anchor,
		End:             end,
		IntervalMinutes: intervalMinutes,
		DurationMinutes: durationMinutes,
	}
	if err := p.Validate(); err != nil {
		return Interval{}, err
	}
	return p, nil
}

func (Interval) Kind() Kind { return KindInterval }

func (p Interval) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

// The k-th start and the index arithmetic work in minutes, so phases far
// from the anchor do not overflow time.Duration.
func (p Interval) start(k int64) time.Time {
	return FromMinutes(ToMinutes(p.Anchor) + k*int64(p.IntervalMinutes)).In(p.Anchor.Location())
}

// floorIndex is the index of the last start at or before t
func (p Interval) floorIndex(t time.Time) int64 {
	return floorDiv(ToMinutes(t)-ToMinutes(p.Anchor), int64(p.IntervalMinutes))
}

// ceilIndex is the index of the first start at or after t
func (p Interval) ceilIndex(t time.Time) int64 {
	return ceilDiv(CeilMinutes(t)-ToMinutes(p.Anchor), int64(p.IntervalMinutes))
}

func (p Interval) Validate() error {
	if p.IntervalMinutes < 1 {
		return fmt.Errorf("%w: interval must be at least one minute, got %d", ErrInvalidPattern, p.IntervalMinutes)
	}
	if p.DurationMinutes < 1 {
		return fmt.Errorf("%w: duration must be at least one minute, got %d", ErrInvalidPattern, p.DurationMinutes)
	}
	// Occurrences of one pattern never overlap each other
	if p.DurationMinutes > p.IntervalMinutes {
		return fmt.Errorf("%w: duration %dm exceeds interval %dm", ErrInvalidPattern, p.DurationMinutes, p.IntervalMinutes)
	}
	if err := CheckAligned(p.Anchor); err != nil {
		return fmt.Errorf("%w: anchor: %w", ErrInvalidPattern, err)
	}
	if end, ok := p.End.Get(); ok {
		if !end.After(p.Anchor) {
			return fmt.Errorf("%w: end %s must be after anchor %s", ErrInvalidPattern,
				end.Format(time.RFC3339), p.Anchor.Format(time.RFC3339))
		}
		if err := CheckAligned(end); err != nil {
			return fmt.Errorf("%w: end: %w", ErrInvalidPattern, err)
		}
	}
	return nil
}

func (Interval) sealed() {}

// Daily holds what weekday and day-of-month patterns share: a local start
// time, a duration and the zone both are interpreted in.
type Daily struct {
	TimeOfDayMinutes int
	DurationMinutes  int
	Location         *time.Location
}

// OvernightDuration is the number of minutes an occurrence spills past local
// midnight into the next day, if any.
func (d Daily) OvernightDuration() mo.Option[int] {
	if over := d.TimeOfDayMinutes + d.DurationMinutes - MinutesPerDay; over > 0 {
		return mo.Some(over)
	}
	return mo.None[int]()
}

// SameDayLastTime is the minute of day at which the occurrence stops covering
// its own start day.
func (d Daily) SameDayLastTime() int {
	return min(MinutesPerDay, d.TimeOfDayMinutes+d.DurationMinutes)
}

func (d Daily) Duration() time.Duration {
	return time.Duration(d.DurationMinutes) * time.Minute
}

// StartOn returns the occurrence start on the local calendar date of day.
// The wall-clock time stays fixed across DST changes.
func (d Daily) StartOn(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		d.TimeOfDayMinutes/60, d.TimeOfDayMinutes%60, 0, 0, d.Location)
}

// PeriodOn returns the occurrence period starting on the given date
func (d Daily) PeriodOn(day time.Time) Period {
	start := d.StartOn(day)
	return Period{Start: start, End: start.Add(d.Duration())}
}

func (d Daily) validate() error {
	if d.Location == nil {
		return fmt.Errorf("%w: time zone is required", ErrInvalidPattern)
	}
	if d.TimeOfDayMinutes < 0 || d.TimeOfDayMinutes >= MinutesPerDay {
		return fmt.Errorf("%w: time of day must be in [0, %d), got %d", ErrInvalidPattern, MinutesPerDay, d.TimeOfDayMinutes)
	}
	if d.DurationMinutes < 1 {
		return fmt.Errorf("%w: duration must be at least one minute, got %d", ErrInvalidPattern, d.DurationMinutes)
	}
	if d.DurationMinutes > MinutesPerDay {
		return fmt.Errorf("%w: duration %dm exceeds one day", ErrInvalidPattern, d.DurationMinutes)
	}
	return nil
}

// WeekdayMatch fires once on every matching weekday
type WeekdayMatch struct {
	Daily
	Weekdays WeekdaySet
}

// NewWeekdayMatch creates and validates a weekday pattern
func NewWeekdayMatch(timeOfDayMinutes, durationMinutes int, weekdays WeekdaySet, loc *time.Location) (WeekdayMatch, error) {
	p := WeekdayMatch{
		Daily:    Daily{TimeOfDayMinutes: timeOfDayMinutes, DurationMinutes: durationMinutes, Location: loc},
		Weekdays: weekdays,
	}
	if err := p.Validate(); err != nil {
		return WeekdayMatch{}, err
	}
	return p, nil
}

func (WeekdayMatch) Kind() Kind { return KindWeekday }

func (p WeekdayMatch) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if p.Weekdays.Empty() {
		return fmt.Errorf("%w: weekday set is empty", ErrInvalidPattern)
	}
	return nil
}

// MatchesDate reports whether the calendar date is one of the weekdays
func (p WeekdayMatch) MatchesDate(day time.Time) bool {
	return p.Weekdays.Has(WeekdayOf(day))
}

func (p WeekdayMatch) daily() Daily { return p.Daily }

func (WeekdayMatch) sealed() {}

// DayOfMonthMatch fires once a month on a fixed day number
type DayOfMonthMatch struct {
	Daily
	Day DayOfMonth
}

// NewDayOfMonthMatch creates and validates a day-of-month pattern
func NewDayOfMonthMatch(timeOfDayMinutes, durationMinutes int, day DayOfMonth, loc *time.Location) (DayOfMonthMatch, error) {
	p := DayOfMonthMatch{
		Daily: Daily{TimeOfDayMinutes: timeOfDayMinutes, DurationMinutes: durationMinutes, Location: loc},
		Day:   day,
	}
	if err := p.Validate(); err != nil {
		return DayOfMonthMatch{}, err
	}
	return p, nil
}

func (DayOfMonthMatch) Kind() Kind { return KindDayOfMonth }

func (p DayOfMonthMatch) Validate() error {
	if err := p.validate(); err != nil {
		return err
	}
	if !p.Day.Valid() {
		return fmt.Errorf("%w: day of month must be in [1, 31], got %d", ErrInvalidPattern, p.Day)
	}
	return nil
}

// MatchesDate reports whether the calendar date falls on the configured day
func (p DayOfMonthMatch) MatchesDate(day time.Time) bool {
	return p.Day.Matches(day)
}

func (p DayOfMonthMatch) daily() Daily { return p.Daily }

func (DayOfMonthMatch) sealed() {}

// dailyPattern is implemented by the two calendar-day driven pattern kinds
type dailyPattern interface {
	Pattern
	MatchesDate(day time.Time) bool
	daily() Daily
}

var (
	_ dailyPattern = WeekdayMatch{}
	_ dailyPattern = DayOfMonthMatch{}
	_ Pattern      = Interval{}
)

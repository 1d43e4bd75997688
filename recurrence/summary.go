package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// ErrUnconvertibleSummary is returned when a summary carries no pattern kind
var ErrUnconvertibleSummary = errors.New("pattern summary has no recognizable kind")

// PatternSummary flattens a Pattern into scalar columns a store can filter on.
// Exactly one of the weekday flags, DayOfMonth or IntervalMinutes identifies
// the kind.
type PatternSummary struct {
	Sunday    bool
	Monday    bool
	Tuesday   bool
	Wednesday bool
	Thursday  bool
	Friday    bool
	Saturday  bool

	DayOfMonth      *int
	IntervalMinutes *int
	IntervalAnchor  *int64 // minutes since epoch
	IntervalEnd     *int64 // minutes since epoch

	TimeOfDayMinutes int
	DurationMinutes  int
	TimeZone         string
}

// Summarize flattens p
func Summarize(p Pattern) PatternSummary {
	switch pt := p.(type) {
	case Interval:
		interval := pt.IntervalMinutes
		anchor := ToMinutes(pt.Anchor)
		s := PatternSummary{
			IntervalMinutes: &interval,
			IntervalAnchor:  &anchor,
			DurationMinutes: pt.DurationMinutes,
			TimeZone:        time.UTC.String(),
		}
		if end, ok := pt.End.Get(); ok {
			m := ToMinutes(end)
			s.IntervalEnd = &m
		}
		return s
	case WeekdayMatch:
		s := dailySummary(pt.Daily)
		s.SetWeekdays(pt.Weekdays)
		return s
	case DayOfMonthMatch:
		s := dailySummary(pt.Daily)
		day := int(pt.Day)
		s.DayOfMonth = &day
		return s
	}
	return PatternSummary{}
}

func dailySummary(d Daily) PatternSummary {
	return PatternSummary{
		TimeOfDayMinutes: d.TimeOfDayMinutes,
		DurationMinutes:  d.DurationMinutes,
		TimeZone:         d.Location.String(),
	}
}

// Weekdays collects the weekday flags into a set
func (s PatternSummary) Weekdays() WeekdaySet {
	flags := [7]bool{s.Sunday, s.Monday, s.Tuesday, s.Wednesday, s.Thursday, s.Friday, s.Saturday}
	var set WeekdaySet
	for i, on := range flags {
		if on {
			set = set.Add(Weekday(i))
		}
	}
	return set
}

// SetWeekdays sets the weekday flags from a set
func (s *PatternSummary) SetWeekdays(set WeekdaySet) {
	s.Sunday = set.Has(Sunday)
	s.Monday = set.Has(Monday)
	s.Tuesday = set.Has(Tuesday)
	s.Wednesday = set.Has(Wednesday)
	s.Thursday = set.Has(Thursday)
	s.Friday = set.Has(Friday)
	s.Saturday = set.Has(Saturday)
}

// Kind reports which pattern family the summary describes
func (s PatternSummary) Kind() mo.Option[Kind] {
	switch {
	case s.IntervalMinutes != nil:
		return mo.Some(KindInterval)
	case s.DayOfMonth != nil:
		return mo.Some(KindDayOfMonth)
	case !s.Weekdays().Empty():
		return mo.Some(KindWeekday)
	}
	return mo.None[Kind]()
}

// Pattern reconstructs the pattern the summary was flattened from
func (s PatternSummary) Pattern() (Pattern, error) {
	kind, ok := s.Kind().Get()
	if !ok {
		return nil, ErrUnconvertibleSummary
	}
	if kind == KindInterval {
		if s.IntervalAnchor == nil {
			return nil, fmt.Errorf("%w: interval without anchor", ErrUnconvertibleSummary)
		}
		end := mo.None[time.Time]()
		if s.IntervalEnd != nil {
			end = mo.Some(FromMinutes(*s.IntervalEnd))
		}
		return NewInterval(FromMinutes(*s.IntervalAnchor), *s.IntervalMinutes, s.DurationMinutes, end)
	}

	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %w", ErrUnconvertibleSummary, s.TimeZone, err)
	}
	if kind == KindDayOfMonth {
		return NewDayOfMonthMatch(s.TimeOfDayMinutes, s.DurationMinutes, DayOfMonth(*s.DayOfMonth), loc)
	}
	return NewWeekdayMatch(s.TimeOfDayMinutes, s.DurationMinutes, s.Weekdays(), loc)
}

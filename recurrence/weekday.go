package recurrence

import (
	"strings"
	"time"
)

// Weekday mirrors time.Weekday: Sunday is 0 and Saturday is 6
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// WeekdayOf returns the weekday of a calendar date
func WeekdayOf(t time.Time) Weekday {
	return Weekday(t.Weekday())
}

// Next returns the following day, wrapping Saturday to Sunday
func (d Weekday) Next() Weekday {
	return (d + 1) % 7
}

// Previous returns the preceding day, wrapping Sunday to Saturday
func (d Weekday) Previous() Weekday {
	return (d + 6) % 7
}

// Valid reports whether d is one of the seven weekdays
func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

func (d Weekday) String() string {
	return time.Weekday(d).String()
}

// WeekdaySet is a bit set of weekdays
type WeekdaySet uint8

// AllWeekdays contains every day of the week
const AllWeekdays WeekdaySet = 1<<7 - 1

// NewWeekdaySet builds a set from the given days
func NewWeekdaySet(days ...Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

// Add returns the set with d included
func (s WeekdaySet) Add(d Weekday) WeekdaySet {
	if !d.Valid() {
		return s
	}
	return s | 1<<uint(d)
}

// Has reports whether d is in the set
func (s WeekdaySet) Has(d Weekday) bool {
	return d.Valid() && s&(1<<uint(d)) != 0
}

// Empty reports whether no day is set
func (s WeekdaySet) Empty() bool {
	return s&AllWeekdays == 0
}

// Len returns the number of days in the set
func (s WeekdaySet) Len() int {
	n := 0
	for d := Sunday; d <= Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days lists the set members from Sunday to Saturday
func (s WeekdaySet) Days() []Weekday {
	var days []Weekday
	for d := Sunday; d <= Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

func (s WeekdaySet) String() string {
	names := make([]string, 0, 7)
	for _, d := range s.Days() {
		names = append(names, d.String()[:3])
	}
	return "{" + strings.Join(names, ",") + "}"
}

// DayOfMonth is a day number between 1 and 31. It is not checked against
// month lengths: day 31 never fires in a 30-day month.
type DayOfMonth int

// Valid reports whether d is between 1 and 31
func (d DayOfMonth) Valid() bool {
	return d >= 1 && d <= 31
}

// Matches reports whether the calendar date falls on day d
func (d DayOfMonth) Matches(date time.Time) bool {
	return date.Day() == int(d)
}

package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

var (
	// ErrInvalidPeriod is returned when a period ends before it starts
	ErrInvalidPeriod = errors.New("invalid period")
	// ErrNotMinuteAligned is returned for instants that carry seconds or sub-second parts
	ErrNotMinuteAligned = errors.New("instant is not minute aligned")
)

// Period is a half-open time interval [Start, End)
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod creates a period, rejecting an end before the start
func NewPeriod(start, end time.Time) (Period, error) {
	if end.Before(start) {
		return Period{}, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidPeriod, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Period{Start: start, End: end}, nil
}

// MustPeriod is like NewPeriod but panics on error. Intended for tests and literals.
func MustPeriod(start, end time.Time) Period {
	p, err := NewPeriod(start, end)
	if err != nil {
		panic(err)
	}
	return p
}

// Duration returns the length of the period
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Intersects reports whether two half-open periods share at least one instant
func (p Period) Intersects(o Period) bool {
	return p.Start.Before(o.End) && p.End.After(o.Start)
}

// IntersectsRange is Intersects against the window [from, to). An empty window
// contains no instant and therefore intersects nothing.
func (p Period) IntersectsRange(from, to time.Time) bool {
	if !from.Before(to) {
		return false
	}
	return p.Start.Before(to) && p.End.After(from)
}

// Contains reports whether t lies inside [Start, End)
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Equal compares the two bounds as instants, ignoring locations
func (p Period) Equal(o Period) bool {
	return p.Start.Equal(o.Start) && p.End.Equal(o.End)
}

// In returns the same period expressed in loc
func (p Period) In(loc *time.Location) Period {
	return Period{Start: p.Start.In(loc), End: p.End.In(loc)}
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
}

// Validate checks the period bounds and their minute alignment
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	if err := CheckAligned(p.Start); err != nil {
		return err
	}
	return CheckAligned(p.End)
}

// OpenPeriod is a lifetime starting at Start and lasting until End, or forever
// when End is absent.
type OpenPeriod struct {
	Start time.Time
	End   mo.Option[time.Time]
}

// NewOpenPeriod creates an open period, rejecting an end before the start
func NewOpenPeriod(start time.Time, end mo.Option[time.Time]) (OpenPeriod, error) {
	if e, ok := end.Get(); ok && e.Before(start) {
		return OpenPeriod{}, fmt.Errorf("%w: end %s is before start %s",
			ErrInvalidPeriod, e.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return OpenPeriod{Start: start, End: end}, nil
}

// Since returns an unbounded open period starting at start
func Since(start time.Time) OpenPeriod {
	return OpenPeriod{Start: start, End: mo.None[time.Time]()}
}

// Between returns an open period bounded on both sides
func Between(start, end time.Time) OpenPeriod {
	return OpenPeriod{Start: start, End: mo.Some(end)}
}

// Bounded reports whether the period has an end
func (o OpenPeriod) Bounded() bool {
	return o.End.IsPresent()
}

// Contains reports whether t is inside [Start, End)
func (o OpenPeriod) Contains(t time.Time) bool {
	if t.Before(o.Start) {
		return false
	}
	if e, ok := o.End.Get(); ok && !t.Before(e) {
		return false
	}
	return true
}

// Until narrows the end of the period to end. An existing earlier end is kept.
func (o OpenPeriod) Until(end time.Time) OpenPeriod {
	if e, ok := o.End.Get(); ok && e.Before(end) {
		return o
	}
	if end.Before(o.Start) {
		end = o.Start
	}
	return OpenPeriod{Start: o.Start, End: mo.Some(end)}
}

// Validate checks bounds and minute alignment
func (o OpenPeriod) Validate() error {
	if err := CheckAligned(o.Start); err != nil {
		return err
	}
	if e, ok := o.End.Get(); ok {
		if e.Before(o.Start) {
			return fmt.Errorf("%w: effective end %s is before start %s",
				ErrInvalidPeriod, e.Format(time.RFC3339), o.Start.Format(time.RFC3339))
		}
		return CheckAligned(e)
	}
	return nil
}

func (o OpenPeriod) String() string {
	if e, ok := o.End.Get(); ok {
		return fmt.Sprintf("[%s, %s)", o.Start.Format(time.RFC3339), e.Format(time.RFC3339))
	}
	return fmt.Sprintf("[%s, ...)", o.Start.Format(time.RFC3339))
}

// earliest returns the smallest present bound, or None when no bound is present
func earliest(bounds ...mo.Option[time.Time]) mo.Option[time.Time] {
	out := mo.None[time.Time]()
	for _, b := range bounds {
		v, ok := b.Get()
		if !ok {
			continue
		}
		if cur, set := out.Get(); !set || v.Before(cur) {
			out = mo.Some(v)
		}
	}
	return out
}

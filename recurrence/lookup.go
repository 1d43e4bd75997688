package recurrence

import (
	"time"

	"github.com/samber/mo"
)

// LastPeriod returns the occurrence with the greatest start strictly before t.
// It is absent when t is not after the start of the effective range.
func LastPeriod(p Pattern, eff OpenPeriod, t time.Time) mo.Option[Period] {
	if p == nil || p.Validate() != nil || !t.After(eff.Start) {
		return mo.None[Period]()
	}
	upper := t
	if e, ok := eff.End.Get(); ok && e.Before(upper) {
		upper = e
	}

	switch pt := p.(type) {
	case Interval:
		if end, ok := pt.End.Get(); ok && end.Before(upper) {
			upper = end
		}
		start := pt.start(pt.ceilIndex(upper) - 1)
		if start.Before(eff.Start) {
			return mo.None[Period]()
		}
		return mo.Some(Period{Start: start, End: start.Add(pt.Duration())})
	case dailyPattern:
		d := pt.daily()
		first := localDate(eff.Start, d.Location)
		for day := localDate(upper, d.Location); !day.Before(first); day = day.AddDate(0, 0, -1) {
			if !pt.MatchesDate(day) {
				continue
			}
			start := d.StartOn(day)
			if !start.Before(upper) {
				continue
			}
			if start.Before(eff.Start) {
				break
			}
			return mo.Some(Period{Start: start, End: start.Add(d.Duration())})
		}
	}
	return mo.None[Period]()
}

// MatchPeriod returns the occurrence starting exactly at t, if t is an
// occurrence start.
func MatchPeriod(p Pattern, eff OpenPeriod, t time.Time) mo.Option[Period] {
	if p == nil || p.Validate() != nil || !eff.Contains(t) {
		return mo.None[Period]()
	}

	switch pt := p.(type) {
	case Interval:
		if end, ok := pt.End.Get(); ok && !t.Before(end) {
			return mo.None[Period]()
		}
		if !IsAligned(t) || !pt.start(pt.floorIndex(t)).Equal(t) {
			return mo.None[Period]()
		}
		return mo.Some(Period{Start: t, End: t.Add(pt.Duration())})
	case dailyPattern:
		d := pt.daily()
		day := localDate(t, d.Location)
		if !pt.MatchesDate(day) || !d.StartOn(day).Equal(t) {
			return mo.None[Period]()
		}
		return mo.Some(Period{Start: t, End: t.Add(d.Duration())})
	}
	return mo.None[Period]()
}

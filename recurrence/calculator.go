package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/mo"
)

// ErrUnboundedRange is returned when neither the query window nor the
// effective range has an end, so the expansion would never terminate.
var ErrUnboundedRange = errors.New("unbounded occurrence range")

// Occurrences returns the occurrence periods of p that intersect [from, to),
// including occurrences that started before from and are still running.
// Occurrence starts are constrained to eff. When to is absent the scan runs
// to the end of eff.
func Occurrences(p Pattern, eff OpenPeriod, from time.Time, to mo.Option[time.Time]) ([]Period, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil pattern", ErrInvalidPattern)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if t, ok := to.Get(); ok {
		if t.Before(from) {
			return nil, fmt.Errorf("%w: window end %s is before start %s",
				ErrInvalidPeriod, t.Format(time.RFC3339), from.Format(time.RFC3339))
		}
		if t.Equal(from) {
			return nil, nil
		}
	}
	bound := earliest(to, eff.End)
	if ip, ok := p.(Interval); ok {
		bound = earliest(bound, ip.End)
	}
	if bound.IsAbsent() {
		return nil, ErrUnboundedRange
	}
	return scan(p, eff, from, bound, 0), nil
}

// First returns the first occurrence that ends after from
func First(p Pattern, eff OpenPeriod, from time.Time) mo.Option[Period] {
	// An invalid pattern (say, an empty weekday set) might never fire
	if p == nil || p.Validate() != nil {
		return mo.None[Period]()
	}
	found := scan(p, eff, from, eff.End, 1)
	if len(found) == 0 {
		return mo.None[Period]()
	}
	return mo.Some(found[0])
}

// HasOccurrence reports whether any occurrence of p intersects the period
func HasOccurrence(p Pattern, eff OpenPeriod, period Period) bool {
	if !period.Start.Before(period.End) {
		return false
	}
	first, ok := First(p, eff, period.Start).Get()
	return ok && first.Start.Before(period.End)
}

// scan expands p from the given instant. A zero limit means no limit; with a
// positive limit the bound may be absent.
func scan(p Pattern, eff OpenPeriod, from time.Time, bound mo.Option[time.Time], limit int) []Period {
	switch pt := p.(type) {
	case Interval:
		return scanInterval(pt, eff, from, earliest(bound, pt.End), limit)
	case dailyPattern:
		return scanDaily(pt, eff, from, bound, limit)
	default:
		return nil
	}
}

func scanInterval(p Interval, eff OpenPeriod, from time.Time, bound mo.Option[time.Time], limit int) []Period {
	dur := p.Duration()

	// The occurrence containing from, or the last one before it
	k := p.floorIndex(from)
	if !p.start(k).Add(dur).After(from) {
		k++
	}
	// Starts before the effective range are not occurrences
	if minK := p.ceilIndex(eff.Start); k < minK {
		k = minK
	}

	var out []Period
	for ; ; k++ {
		start := p.start(k)
		if b, ok := bound.Get(); ok && !start.Before(b) {
			break
		}
		out = append(out, Period{Start: start, End: start.Add(dur)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func scanDaily(p dailyPattern, eff OpenPeriod, from time.Time, bound mo.Option[time.Time], limit int) []Period {
	d := p.daily()
	lower := from
	if eff.Start.After(lower) {
		lower = eff.Start
	}
	cursor := localDate(lower, d.Location)

	// Only a day before the cursor can still be running at the cursor day when
	// the pattern spills over midnight.
	if _, overnight := d.OvernightDuration().Get(); overnight {
		cursor = cursor.AddDate(0, 0, -1)
	}

	var out []Period
	for day := cursor; ; day = day.AddDate(0, 0, 1) {
		start := d.StartOn(day)
		if b, ok := bound.Get(); ok && !start.Before(b) {
			break
		}
		if !p.MatchesDate(day) {
			continue
		}
		period := Period{Start: start, End: start.Add(d.Duration())}
		if !period.End.After(from) || !eff.Contains(start) {
			continue
		}
		out = append(out, period)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}

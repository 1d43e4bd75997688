package filter

import (
	"time"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

const day = 24 * time.Hour

func (f *Factory[D]) daily(kind recurrence.Kind, w window, flags Flags) expr.Expr {
	kindCond := kindIs(kind)
	if (kind == recurrence.KindWeekday && flags.Has(NoWeekday)) ||
		(kind == recurrence.KindDayOfMonth && flags.Has(NoDayOfMonth)) {
		return kindCond
	}

	known := make([]any, 0, len(f.zones))
	branches := make([]expr.Expr, 0, len(f.zones)+1)
	for _, z := range f.zones {
		known = append(known, z.String())
		branches = append(branches, expr.AllOf(
			expr.Eq(storage.ColTimeZone, z.String()),
			dailyInZone(kind, w, z),
		))
	}
	branches = append(branches, expr.Not{X: expr.In(storage.ColTimeZone, known...)})

	return expr.AllOf(kindCond, expr.AnyOf(branches...))
}

// dailyInZone selects weekday or day-of-month definitions of zone loc with
// an occurrence intersecting the window. Occurrences on a day strictly
// inside the window always intersect it; the others are the previous
// day's overnight spill, an occurrence on from's day ending after from,
// and one on to's day starting before to.
//
// The boundary conditions compare minutes of day, which is only exact when
// the UTC offset is constant around the boundary. Otherwise the zone's
// definitions all match.
func dailyInZone(kind recurrence.Kind, w window, loc *time.Location) expr.Expr {
	from := recurrence.LocalDayOf(w.from, loc)
	to := recurrence.LocalDayOf(w.to, loc)
	if !stableOffset(from.Date, loc) || !stableOffset(to.Date, loc) {
		return expr.Const(true)
	}

	sel := selector(kind)
	cycle := 7
	if kind == recurrence.KindDayOfMonth {
		cycle = 31
	}

	inner := int(to.Date.Sub(from.Date)/day) - 1
	if inner >= cycle {
		return expr.Const(true)
	}
	var covered []time.Time
	for i := 1; i <= inner; i++ {
		covered = append(covered, from.Date.AddDate(0, 0, i))
	}

	end := expr.Plus(expr.Field(storage.ColTimeOfDay), expr.Field(storage.ColDuration))
	startsBefore := expr.Lt(storage.ColTimeOfDay, int64(to.MinuteCeil))

	terms := []expr.Expr{
		sel(covered...),
		expr.AllOf(
			sel(from.Date.AddDate(0, 0, -1)),
			expr.Compare(end, expr.OpGt, expr.V(int64(recurrence.MinutesPerDay+from.MinuteFloor))),
		),
	}

	sameDay := []expr.Expr{
		sel(from.Date),
		expr.Compare(end, expr.OpGt, expr.V(int64(from.MinuteFloor))),
	}
	if to.Date.Equal(from.Date) {
		sameDay = append(sameDay, startsBefore)
	} else {
		terms = append(terms, expr.AllOf(sel(to.Date), startsBefore))
	}
	terms = append(terms, expr.AllOf(sameDay...))

	return expr.AnyOf(terms...)
}

// selector returns a predicate matching definitions that fire on any of
// the given local dates
func selector(kind recurrence.Kind) func(dates ...time.Time) expr.Expr {
	if kind == recurrence.KindDayOfMonth {
		return func(dates ...time.Time) expr.Expr {
			if len(dates) == 0 {
				return expr.Const(false)
			}
			seen := make(map[int]bool)
			days := make([]any, 0, len(dates))
			for _, d := range dates {
				if !seen[d.Day()] {
					seen[d.Day()] = true
					days = append(days, int64(d.Day()))
				}
			}
			return expr.In(storage.ColDayOfMonth, days...)
		}
	}
	return func(dates ...time.Time) expr.Expr {
		var set recurrence.WeekdaySet
		for _, d := range dates {
			set = set.Add(recurrence.WeekdayOf(d))
		}
		terms := make([]expr.Expr, 0, set.Len())
		for _, wd := range set.Days() {
			terms = append(terms, expr.Eq(storage.WeekdayColumn(wd), true))
		}
		return expr.AnyOf(terms...)
	}
}

// stableOffset reports whether loc keeps one UTC offset from two days before
// date until two days after it
func stableOffset(date time.Time, loc *time.Location) bool {
	start := recurrence.DayStart(date.AddDate(0, 0, -2), loc)
	end := recurrence.DayStart(date.AddDate(0, 0, 2), loc)
	_, next := start.ZoneBounds()
	return next.IsZero() || !next.Before(end)
}

// Package filter turns a time window and a data predicate into a coarse
// predicate over record columns that a store can evaluate, and refines the
// fetched records into exact events.
//
// The coarse predicate is sound: every record contributing an event to the
// window satisfies it. It may also select records that contribute nothing;
// Refine drops those.
package filter

import (
	"time"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// Factory builds window predicates for records carrying data of type D
type Factory[D any] struct {
	fields expr.Fields[D]
	zones  []*time.Location
}

// NewFactory creates a factory. zones lists the time zones weekday and
// day-of-month predicates are computed for; definitions in other zones are
// only filtered by their effective range. Without zones, UTC is used.
func NewFactory[D any](fields expr.Fields[D], zones ...*time.Location) *Factory[D] {
	f := &Factory[D]{fields: fields}
	seen := make(map[string]bool)
	for _, z := range zones {
		if z == nil || seen[z.String()] {
			continue
		}
		seen[z.String()] = true
		f.zones = append(f.zones, z)
	}
	if len(f.zones) == 0 {
		f.zones = []*time.Location{time.UTC}
	}
	return f
}

// Fields returns the data field accessors
func (f *Factory[D]) Fields() expr.Fields[D] {
	return f.fields
}

// Zones returns the zones predicates are computed for
func (f *Factory[D]) Zones() []*time.Location {
	return f.zones
}

// Create returns the coarse predicate selecting every record that may
// contribute an event to [from, to) whose data satisfies data. data may be
// nil.
func (f *Factory[D]) Create(from, to time.Time, data expr.Expr, flags Flags) (expr.Expr, error) {
	if err := expr.Check(data, f.fields); err != nil {
		return nil, storage.InvalidInput(err, "invalid data predicate")
	}
	if !from.Before(to) {
		return expr.Const(false), nil
	}

	w := window{
		from:  from,
		to:    to,
		fromF: recurrence.ToMinutes(from),
		toC:   recurrence.CeilMinutes(to),
	}

	var dataPred expr.Expr
	if data != nil && !flags.Has(NoData) {
		dataPred = expr.Prefix(data, storage.DataPrefix)
	}

	return expr.AnyOf(
		oneTime(w, dataPred, flags),
		f.definitions(w, dataPred, flags),
		states(w, dataPred),
	), nil
}

type window struct {
	from, to time.Time
	// Bounds in minutes: from floored, to ceiled. Record columns hold whole
	// minutes, so comparisons against them stay exact.
	fromF, toC int64
}

func isType(t storage.RecordType) expr.Expr {
	return expr.Eq(storage.ColType, int64(t))
}

func oneTime(w window, dataPred expr.Expr, flags Flags) expr.Expr {
	terms := []expr.Expr{
		isType(storage.OneTime),
		expr.Gt(storage.ColEffectiveEnd, w.fromF),
	}
	if !flags.Has(NoPrecise) {
		terms = append(terms,
			expr.Lt(storage.ColEffectiveStart, w.toC),
			expr.Eq(storage.ColCancelled, false),
		)
	}
	return expr.AllOf(append(terms, dataPred)...)
}

// A state matters when its original occurrence is in the window, since it
// may cancel or move it away, or when it was moved into the window.
func states(w window, dataPred expr.Expr) expr.Expr {
	var data expr.Expr
	if dataPred != nil {
		data = expr.AnyOf(dataPred, storage.ParentMatch(dataPred))
	}
	return expr.AllOf(
		isType(storage.RecurrentState),
		expr.AnyOf(
			overlaps(storage.ColEffectiveStart, storage.ColEffectiveEnd, w),
			overlaps(storage.ColMovedStart, storage.ColMovedEnd, w),
		),
		data,
	)
}

func overlaps(startCol, endCol string, w window) expr.Expr {
	return expr.AllOf(expr.Lt(startCol, w.toC), expr.Gt(endCol, w.fromF))
}

func (f *Factory[D]) definitions(w window, dataPred expr.Expr, flags Flags) expr.Expr {
	// No occurrence starts before the effective start or at the effective
	// end, so the last one ends before effective_end + duration.
	gate := []expr.Expr{
		isType(storage.RecurrentDefinition),
		expr.Lt(storage.ColEffectiveStart, w.toC),
		expr.AnyOf(
			expr.IsNull{Field: storage.ColEffectiveEnd},
			expr.Compare(
				expr.Plus(expr.Field(storage.ColEffectiveEnd), expr.Field(storage.ColDuration)),
				expr.OpGt, expr.V(w.fromF)),
		),
		dataPred,
	}
	if flags.Has(NoPrecise) {
		return expr.AllOf(gate...)
	}
	return expr.AllOf(append(gate, expr.AnyOf(
		interval(w, flags),
		f.daily(recurrence.KindWeekday, w, flags),
		f.daily(recurrence.KindDayOfMonth, w, flags),
	))...)
}

func kindIs(k recurrence.Kind) expr.Expr {
	switch k {
	case recurrence.KindInterval:
		return expr.NotNull(storage.ColIntervalMinutes)
	case recurrence.KindDayOfMonth:
		return expr.NotNull(storage.ColDayOfMonth)
	default:
		return expr.AllOf(
			expr.IsNull{Field: storage.ColIntervalMinutes},
			expr.IsNull{Field: storage.ColDayOfMonth},
		)
	}
}

// interval matches when some occurrence anchor + k*interval may intersect
// the window. With r = (from - anchor) mod interval, the occurrence
// started r minutes before from covers it iff r < duration, and the next
// one starts inside it iff r > interval - width.
func interval(w window, flags Flags) expr.Expr {
	kind := kindIs(recurrence.KindInterval)
	if flags.Has(NoInterval) {
		return kind
	}
	widthFloor := int64(w.to.Sub(w.from) / time.Minute)
	widthCeil := w.toC - w.fromF
	phase := expr.Mod(
		expr.Minus(expr.V(w.fromF), expr.Field(storage.ColIntervalAnchor)),
		expr.Field(storage.ColIntervalMinutes),
	)
	return expr.AllOf(kind, expr.AnyOf(
		expr.Ge(storage.ColEffectiveStart, w.fromF),
		expr.Le(storage.ColIntervalMinutes, widthFloor),
		expr.Compare(phase, expr.OpLt, expr.Field(storage.ColDuration)),
		expr.Compare(phase, expr.OpGt,
			expr.Minus(expr.Field(storage.ColIntervalMinutes), expr.V(widthCeil))),
	))
}

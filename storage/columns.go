package storage

import (
	"strings"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
)

// Column names of the record table. Predicates built by the filter package
// reference these names and every store resolves them the same way.
const (
	ColID               = "id"
	ColType             = "type"
	ColEffectiveStart   = "effective_start"
	ColEffectiveEnd     = "effective_end"
	ColRecurrentEventID = "recurrent_event_id"
	ColSunday           = "sunday"
	ColMonday           = "monday"
	ColTuesday          = "tuesday"
	ColWednesday        = "wednesday"
	ColThursday         = "thursday"
	ColFriday           = "friday"
	ColSaturday         = "saturday"
	ColDayOfMonth       = "day_of_month"
	ColIntervalMinutes  = "interval_minutes"
	ColIntervalAnchor   = "interval_anchor"
	ColIntervalEnd      = "interval_end"
	ColTimeOfDay        = "time_of_day_minutes"
	ColDuration         = "duration_minutes"
	ColTimeZone         = "time_zone"
	ColMovedStart       = "moved_start"
	ColMovedEnd         = "moved_end"
	ColCancelled        = "cancelled"
	ColData             = "data"
)

// DataPrefix addresses fields of the record's data payload, as in "data.title"
const DataPrefix = ColData + "."

// RelParent is the relation from a state to its recurrence definition
const RelParent = "parent"

// WeekdayColumns lists the weekday flag columns indexed by recurrence.Weekday
var WeekdayColumns = [7]string{ColSunday, ColMonday, ColTuesday, ColWednesday, ColThursday, ColFriday, ColSaturday}

// Columns lists every scalar column, data excluded
var Columns = []string{
	ColID, ColType, ColEffectiveStart, ColEffectiveEnd, ColRecurrentEventID,
	ColSunday, ColMonday, ColTuesday, ColWednesday, ColThursday, ColFriday, ColSaturday,
	ColDayOfMonth, ColIntervalMinutes, ColIntervalAnchor, ColIntervalEnd,
	ColTimeOfDay, ColDuration, ColTimeZone, ColMovedStart, ColMovedEnd, ColCancelled,
}

// WeekdayColumn returns the flag column of d
func WeekdayColumn(d recurrence.Weekday) string {
	return WeekdayColumns[d]
}

// ParentMatch is true for a state whose definition satisfies x
func ParentMatch(x expr.Expr) expr.Expr {
	return expr.Related{Relation: RelParent, X: x}
}

// ParentLookup finds a definition record by event ID
type ParentLookup[D any] func(key RecordKey) (Record[D], bool)

// Resolver evaluates record columns and data fields for expr.Eval
type Resolver[D any] struct {
	Record Record[D]
	Fields expr.Fields[D]
	Parent ParentLookup[D]
}

// NewResolver returns a resolver for rec. parent may be nil, in which case
// parent relations never match.
func NewResolver[D any](rec Record[D], fields expr.Fields[D], parent ParentLookup[D]) Resolver[D] {
	return Resolver[D]{Record: rec, Fields: fields, Parent: parent}
}

func (r Resolver[D]) Lookup(field string) (any, bool) {
	if strings.HasPrefix(field, DataPrefix) {
		return expr.Resolve(r.Record.Data, r.Fields, DataPrefix).Lookup(field)
	}
	return ColumnValue(r.Record, field)
}

func (r Resolver[D]) Related(relation string) (expr.Resolver, bool) {
	if relation != RelParent || r.Parent == nil || r.Record.RecurrentEventID == nil {
		return nil, false
	}
	parent, ok := r.Parent(DefinitionKey(*r.Record.RecurrentEventID))
	if !ok {
		return nil, false
	}
	return Resolver[D]{Record: parent, Fields: r.Fields}, true
}

// Matches evaluates pred against rec
func Matches[D any](pred expr.Expr, rec Record[D], fields expr.Fields[D], parent ParentLookup[D]) (bool, error) {
	return expr.Eval(pred, NewResolver(rec, fields, parent))
}

// ColumnValue returns the value of a scalar column, nil for SQL NULL
func ColumnValue[D any](r Record[D], column string) (any, bool) {
	s := r.Summary
	switch column {
	case ColID:
		return r.ID.String(), true
	case ColType:
		return int64(r.Type), true
	case ColEffectiveStart:
		return r.EffectiveStart, true
	case ColEffectiveEnd:
		return nullInt64(r.EffectiveEnd), true
	case ColRecurrentEventID:
		if r.RecurrentEventID == nil {
			return nil, true
		}
		return r.RecurrentEventID.String(), true
	case ColSunday, ColMonday, ColTuesday, ColWednesday, ColThursday, ColFriday, ColSaturday:
		if s == nil {
			return nil, true
		}
		for i, name := range WeekdayColumns {
			if name == column {
				return s.Weekdays().Has(recurrence.Weekday(i)), true
			}
		}
	case ColDayOfMonth:
		if s == nil || s.DayOfMonth == nil {
			return nil, true
		}
		return int64(*s.DayOfMonth), true
	case ColIntervalMinutes:
		if s == nil || s.IntervalMinutes == nil {
			return nil, true
		}
		return int64(*s.IntervalMinutes), true
	case ColIntervalAnchor:
		if s == nil {
			return nil, true
		}
		return nullInt64(s.IntervalAnchor), true
	case ColIntervalEnd:
		if s == nil {
			return nil, true
		}
		return nullInt64(s.IntervalEnd), true
	case ColTimeOfDay:
		if s == nil {
			return nil, true
		}
		return int64(s.TimeOfDayMinutes), true
	case ColDuration:
		if s == nil {
			return nil, true
		}
		return int64(s.DurationMinutes), true
	case ColTimeZone:
		if s == nil {
			return nil, true
		}
		return s.TimeZone, true
	case ColMovedStart:
		return nullInt64(r.MovedStart), true
	case ColMovedEnd:
		return nullInt64(r.MovedEnd), true
	case ColCancelled:
		return r.Cancelled, true
	}
	return nil, false
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

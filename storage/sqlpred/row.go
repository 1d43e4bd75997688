package sqlpred

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// Row is the flat table layout of a storage.Record. Summary columns are NULL
// for records without a pattern.
type Row struct {
	ID               string  `gorm:"column:id;primaryKey"`
	Type             int64   `gorm:"column:type;not null;index:idx_records_window,priority:1"`
	EffectiveStart   int64   `gorm:"column:effective_start;not null;index:idx_records_window,priority:2;uniqueIndex:idx_records_state,priority:2"`
	EffectiveEnd     *int64  `gorm:"column:effective_end"`
	RecurrentEventID *string `gorm:"column:recurrent_event_id;uniqueIndex:idx_records_state,priority:1"`

	Sunday    *bool `gorm:"column:sunday"`
	Monday    *bool `gorm:"column:monday"`
	Tuesday   *bool `gorm:"column:tuesday"`
	Wednesday *bool `gorm:"column:wednesday"`
	Thursday  *bool `gorm:"column:thursday"`
	Friday    *bool `gorm:"column:friday"`
	Saturday  *bool `gorm:"column:saturday"`

	DayOfMonth       *int64  `gorm:"column:day_of_month"`
	IntervalMinutes  *int64  `gorm:"column:interval_minutes"`
	IntervalAnchor   *int64  `gorm:"column:interval_anchor"`
	IntervalEnd      *int64  `gorm:"column:interval_end"`
	TimeOfDayMinutes *int64  `gorm:"column:time_of_day_minutes"`
	DurationMinutes  *int64  `gorm:"column:duration_minutes"`
	TimeZone         *string `gorm:"column:time_zone"`

	MovedStart *int64 `gorm:"column:moved_start"`
	MovedEnd   *int64 `gorm:"column:moved_end"`
	Cancelled  bool   `gorm:"column:cancelled;not null;default:false"`

	Data       *string `gorm:"column:data;type:text"`
	DataFields string  `gorm:"column:data_fields;type:text;not null;default:'{}'"`
}

// TableName names the table for gorm
func (Row) TableName() string { return Table }

// RowColumns lists the columns in the order of Row.Pointers
var RowColumns = append(append([]string(nil), storage.Columns...), storage.ColData, FieldsColumn)

// Pointers returns pointers to the fields in RowColumns order, for scanning
func (r *Row) Pointers() []any {
	return []any{
		&r.ID, &r.Type, &r.EffectiveStart, &r.EffectiveEnd, &r.RecurrentEventID,
		&r.Sunday, &r.Monday, &r.Tuesday, &r.Wednesday, &r.Thursday, &r.Friday, &r.Saturday,
		&r.DayOfMonth, &r.IntervalMinutes, &r.IntervalAnchor, &r.IntervalEnd,
		&r.TimeOfDayMinutes, &r.DurationMinutes, &r.TimeZone, &r.MovedStart, &r.MovedEnd, &r.Cancelled,
		&r.Data, &r.DataFields,
	}
}

// Values returns the field values in RowColumns order
func (r *Row) Values() []any {
	ptrs := r.Pointers()
	values := make([]any, len(ptrs))
	for i, p := range ptrs {
		switch v := p.(type) {
		case *string:
			values[i] = *v
		case *int64:
			values[i] = *v
		case *bool:
			values[i] = *v
		case **string:
			values[i] = *v
		case **int64:
			values[i] = *v
		case **bool:
			values[i] = *v
		}
	}
	return values
}

// ToRow flattens rec. fields computes the data_fields column.
func ToRow[D any](rec storage.Record[D], fields expr.Fields[D]) (Row, error) {
	row := Row{
		ID:             rec.ID.String(),
		Type:           int64(rec.Type),
		EffectiveStart: rec.EffectiveStart,
		EffectiveEnd:   rec.EffectiveEnd,
		MovedStart:     rec.MovedStart,
		MovedEnd:       rec.MovedEnd,
		Cancelled:      rec.Cancelled,
	}
	if rec.RecurrentEventID != nil {
		id := rec.RecurrentEventID.String()
		row.RecurrentEventID = &id
	}
	if s := rec.Summary; s != nil {
		for i, p := range []**bool{&row.Sunday, &row.Monday, &row.Tuesday, &row.Wednesday, &row.Thursday, &row.Friday, &row.Saturday} {
			on := s.Weekdays().Has(recurrence.Weekday(i))
			*p = &on
		}
		row.DayOfMonth = intPtr(s.DayOfMonth)
		row.IntervalMinutes = intPtr(s.IntervalMinutes)
		row.IntervalAnchor = s.IntervalAnchor
		row.IntervalEnd = s.IntervalEnd
		tod, dur, tz := int64(s.TimeOfDayMinutes), int64(s.DurationMinutes), s.TimeZone
		row.TimeOfDayMinutes, row.DurationMinutes, row.TimeZone = &tod, &dur, &tz
	}

	if rec.Data != nil {
		data, err := json.Marshal(rec.Data)
		if err != nil {
			return Row{}, storage.InvalidInput(err, "failed to encode data of %s", rec.Key())
		}
		s := string(data)
		row.Data = &s
	}
	values, err := json.Marshal(FieldValues(rec.Data, fields))
	if err != nil {
		return Row{}, storage.InvalidInput(err, "failed to encode data fields of %s", rec.Key())
	}
	row.DataFields = string(values)
	return row, nil
}

// FromRow rebuilds the record a row was flattened from
func FromRow[D any](row Row) (storage.Record[D], error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return storage.Record[D]{}, storage.Invariant(err, "row has an invalid id %q", row.ID)
	}
	rec := storage.Record[D]{
		ID:             id,
		Type:           storage.RecordType(row.Type),
		EffectiveStart: row.EffectiveStart,
		EffectiveEnd:   row.EffectiveEnd,
		MovedStart:     row.MovedStart,
		MovedEnd:       row.MovedEnd,
		Cancelled:      row.Cancelled,
	}
	if row.RecurrentEventID != nil {
		eventID, err := uuid.Parse(*row.RecurrentEventID)
		if err != nil {
			return storage.Record[D]{}, storage.Invariant(err, "row %s has an invalid event id", row.ID)
		}
		rec.RecurrentEventID = &eventID
	}
	if row.DurationMinutes != nil {
		s := &recurrence.PatternSummary{
			DayOfMonth:      fromIntPtr(row.DayOfMonth),
			IntervalMinutes: fromIntPtr(row.IntervalMinutes),
			IntervalAnchor:  row.IntervalAnchor,
			IntervalEnd:     row.IntervalEnd,
		}
		var set recurrence.WeekdaySet
		for i, p := range []*bool{row.Sunday, row.Monday, row.Tuesday, row.Wednesday, row.Thursday, row.Friday, row.Saturday} {
			if p != nil && *p {
				set = set.Add(recurrence.Weekday(i))
			}
		}
		s.SetWeekdays(set)
		s.TimeOfDayMinutes = int(deref(row.TimeOfDayMinutes))
		s.DurationMinutes = int(*row.DurationMinutes)
		if row.TimeZone != nil {
			s.TimeZone = *row.TimeZone
		}
		rec.Summary = s
	}
	if row.Data != nil {
		var data D
		if err := json.Unmarshal([]byte(*row.Data), &data); err != nil {
			return storage.Record[D]{}, storage.Invariant(err, "failed to decode data of row %s", row.ID)
		}
		rec.Data = &data
	}
	return rec, nil
}

func intPtr(v *int) *int64 {
	if v == nil {
		return nil
	}
	x := int64(*v)
	return &x
}

func fromIntPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	x := int(*v)
	return &x
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// KeyCondition selects the row of key, with placeholders rendered by d
// starting at the n-th parameter
func KeyCondition(key storage.RecordKey, d Dialect, n int) (string, []any) {
	if key.Type == storage.RecurrentState {
		return fmt.Sprintf("%s = %s AND %s = %s AND %s = %s",
				storage.ColType, d.Placeholder(n),
				storage.ColRecurrentEventID, d.Placeholder(n+1),
				storage.ColEffectiveStart, d.Placeholder(n+2)),
			[]any{int64(key.Type), key.RecurrentEventID.String(), key.OccurrenceStart}
	}
	return fmt.Sprintf("%s = %s AND %s = %s",
			storage.ColType, d.Placeholder(n),
			storage.ColID, d.Placeholder(n+1)),
		[]any{int64(key.Type), key.ID.String()}
}

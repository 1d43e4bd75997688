package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// stateNamespace derives deterministic state IDs, so that two writers
// creating the same state produce the same row
var stateNamespace = uuid.MustParse("6f1c7a52-29f4-4c5e-9d43-1e0b7d2a8c61")

// StateID returns the record ID of the state of one occurrence
func StateID(eventID uuid.UUID, occurrenceStartMinutes int64) uuid.UUID {
	return uuid.NewSHA1(stateNamespace, fmt.Appendf(nil, "%s/%d", eventID, occurrenceStartMinutes))
}

func wrongType(r storage.RecordType, want storage.RecordType) error {
	return storage.Invariant(nil, "expected a %s record, got %s", want, r)
}

func dataOf[D any](p *D) D {
	if p == nil {
		var zero D
		return zero
	}
	return *p
}

func ptr[D any](v D) *D {
	return &v
}

// Record converts the event into its storage row
func (e OneTimeEvent[D]) Record() (storage.Record[D], error) {
	if err := e.Period.Validate(); err != nil {
		return storage.Record[D]{}, storage.InvalidInput(err, "invalid period for one-time event %s", e.ID)
	}
	return storage.Record[D]{
		ID:             e.ID,
		Type:           storage.OneTime,
		EffectiveStart: recurrence.ToMinutes(e.Period.Start),
		EffectiveEnd:   storage.Int64(recurrence.ToMinutes(e.Period.End)),
		Cancelled:      e.Cancelled,
		Data:           ptr(e.Data),
	}, nil
}

// OneTimeFromRecord converts a one-time row back into an event
func OneTimeFromRecord[D any](r storage.Record[D]) (OneTimeEvent[D], error) {
	if r.Type != storage.OneTime {
		return OneTimeEvent[D]{}, wrongType(r.Type, storage.OneTime)
	}
	if r.EffectiveEnd == nil {
		return OneTimeEvent[D]{}, storage.Invariant(nil, "one-time record %s has no end", r.ID)
	}
	return OneTimeEvent[D]{
		ID: r.ID,
		Period: recurrence.Period{
			Start: recurrence.FromMinutes(r.EffectiveStart),
			End:   recurrence.FromMinutes(*r.EffectiveEnd),
		},
		Cancelled: r.Cancelled,
		Data:      dataOf(r.Data),
	}, nil
}

// Record converts the event into its definition row
func (e RecurrentEvent[D]) Record() (storage.Record[D], error) {
	if err := e.Validate(); err != nil {
		return storage.Record[D]{}, storage.InvalidInput(err, "invalid recurrent event %s", e.ID)
	}
	summary := recurrence.Summarize(e.Pattern)
	rec := storage.Record[D]{
		ID:             e.ID,
		Type:           storage.RecurrentDefinition,
		EffectiveStart: recurrence.ToMinutes(e.Effective.Start),
		Summary:        &summary,
		Data:           ptr(e.Data),
	}
	if end, ok := e.Effective.End.Get(); ok {
		rec.EffectiveEnd = storage.Int64(recurrence.ToMinutes(end))
	}
	return rec, nil
}

// RecurrentFromRecord converts a definition row back into an event
func RecurrentFromRecord[D any](r storage.Record[D]) (RecurrentEvent[D], error) {
	if r.Type != storage.RecurrentDefinition {
		return RecurrentEvent[D]{}, wrongType(r.Type, storage.RecurrentDefinition)
	}
	if r.Summary == nil {
		return RecurrentEvent[D]{}, storage.Invariant(recurrence.ErrUnconvertibleSummary, "definition %s has no summary", r.ID)
	}
	p, err := r.Summary.Pattern()
	if err != nil {
		return RecurrentEvent[D]{}, storage.Invariant(err, "definition %s has an unconvertible summary", r.ID)
	}
	return RecurrentEvent[D]{
		ID:        r.ID,
		Pattern:   p,
		Effective: r.Effective(),
		Data:      dataOf(r.Data),
	}, nil
}

// Record converts the state into its row. The row ID is derived from the
// state's key.
func (s OccurrenceState[D]) Record() (storage.Record[D], error) {
	if err := s.Period.Validate(); err != nil {
		return storage.Record[D]{}, storage.InvalidInput(err, "invalid period for state %s", s.Key())
	}
	start := recurrence.ToMinutes(s.Period.Start)
	eventID := s.RecurrentEventID
	rec := storage.Record[D]{
		ID:               StateID(eventID, start),
		Type:             storage.RecurrentState,
		EffectiveStart:   start,
		EffectiveEnd:     storage.Int64(recurrence.ToMinutes(s.Period.End)),
		RecurrentEventID: &eventID,
		Cancelled:        s.Cancelled,
	}
	if moved, ok := s.MovedTo.Get(); ok {
		if err := moved.Validate(); err != nil {
			return storage.Record[D]{}, storage.InvalidInput(err, "invalid move for state %s", s.Key())
		}
		rec.MovedStart = storage.Int64(recurrence.ToMinutes(moved.Start))
		rec.MovedEnd = storage.Int64(recurrence.ToMinutes(moved.End))
	}
	if data, ok := s.Data.Get(); ok {
		rec.Data = ptr(data)
	}
	return rec, nil
}

// StateFromRecord converts a state row back into a state
func StateFromRecord[D any](r storage.Record[D]) (OccurrenceState[D], error) {
	if r.Type != storage.RecurrentState {
		return OccurrenceState[D]{}, wrongType(r.Type, storage.RecurrentState)
	}
	if r.RecurrentEventID == nil || r.EffectiveEnd == nil {
		return OccurrenceState[D]{}, storage.Invariant(nil, "state record %s is missing its event or period", r.ID)
	}
	period := recurrence.Period{
		Start: recurrence.FromMinutes(r.EffectiveStart),
		End:   recurrence.FromMinutes(*r.EffectiveEnd),
	}
	s := OccurrenceState[D]{
		RecurrentEventID: *r.RecurrentEventID,
		OccurrenceStart:  period.Start,
		Period:           period,
		MovedTo:          r.Moved(),
		Cancelled:        r.Cancelled,
		Data:             mo.None[D](),
	}
	if r.Data != nil {
		s.Data = mo.Some(*r.Data)
	}
	return s, nil
}

// Project converts and projects one definition with its state rows onto
// [from, to)
func Project[D any](def storage.Record[D], states []storage.Record[D], from, to time.Time) ([]Event[D], error) {
	ev, err := RecurrentFromRecord(def)
	if err != nil {
		return nil, err
	}
	overlays := make([]OccurrenceState[D], 0, len(states))
	for _, r := range states {
		s, err := StateFromRecord(r)
		if err != nil {
			return nil, err
		}
		overlays = append(overlays, s)
	}
	return ToEvents(ev, from, to, overlays)
}

package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// AddRecurrent stages a new recurrent event
func (s *Session[D]) AddRecurrent(pattern recurrence.Pattern, effective recurrence.OpenPeriod, data D) (event.RecurrentEvent[D], error) {
	ev, err := event.NewRecurrentEvent(pattern, effective, data)
	if err != nil {
		return event.RecurrentEvent[D]{}, storage.InvalidInput(err, "invalid recurrent event")
	}
	rec, err := ev.Record()
	if err != nil {
		return event.RecurrentEvent[D]{}, err
	}
	s.stage(storage.Add(rec))
	return ev, nil
}

// GetRecurrent returns a recurrent event
func (s *Session[D]) GetRecurrent(ctx context.Context, id uuid.UUID) (event.RecurrentEvent[D], error) {
	rec, err := s.get(ctx, storage.DefinitionKey(id))
	if err != nil {
		return event.RecurrentEvent[D]{}, err
	}
	return event.RecurrentFromRecord(rec)
}

// UpdateRecurrentData replaces the default data of a recurrent event
func (s *Session[D]) UpdateRecurrentData(ctx context.Context, id uuid.UUID, data D) error {
	rec, err := s.get(ctx, storage.DefinitionKey(id))
	if err != nil {
		return err
	}
	rec.Data = &data
	s.stage(storage.Update(rec))
	return nil
}

// DeleteRecurrent removes a recurrent event with all of its states
func (s *Session[D]) DeleteRecurrent(ctx context.Context, id uuid.UUID) error {
	rec, err := s.get(ctx, storage.DefinitionKey(id))
	if err != nil {
		return err
	}
	states, err := s.states(ctx, id)
	if err != nil {
		return err
	}
	for _, st := range states {
		s.stage(storage.Remove(st))
	}
	s.stage(storage.Remove(rec))
	return nil
}

// Move relocates the occurrence starting at occurrenceStart to period to
func (s *Session[D]) Move(ctx context.Context, id uuid.UUID, occurrenceStart time.Time, to recurrence.Period) error {
	st, exists, err := s.occurrence(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}
	st.MovedTo = mo.Some(to)
	return s.putState(st, exists)
}

// CancelAppearance cancels the single occurrence starting at
// occurrenceStart
func (s *Session[D]) CancelAppearance(ctx context.Context, id uuid.UUID, occurrenceStart time.Time) error {
	st, exists, err := s.occurrence(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}
	if exists && st.Cancelled {
		return nil
	}
	st.Cancelled = true
	return s.putState(st, exists)
}

// Cancel ends a recurrent event at since. States of occurrences originally
// at or after since are deleted, unless they were moved before since. States
// of earlier occurrences that still take place at or after since are
// cancelled.
func (s *Session[D]) Cancel(ctx context.Context, id uuid.UUID, since time.Time) error {
	if err := recurrence.CheckAligned(since); err != nil {
		return storage.InvalidInput(err, "invalid cancellation time")
	}
	ev, err := s.GetRecurrent(ctx, id)
	if err != nil {
		return err
	}
	ev.Effective = ev.Effective.Until(since)
	def, err := ev.Record()
	if err != nil {
		return err
	}
	s.stage(storage.Update(def))

	states, err := s.states(ctx, id)
	if err != nil {
		return err
	}
	for _, r := range states {
		st, err := event.StateFromRecord(r)
		if err != nil {
			return err
		}
		actual := st.Actual()
		switch {
		case !st.OccurrenceStart.Before(since):
			if actual.Start.Before(since) {
				continue
			}
			s.stage(storage.Remove(r))
		case actual.End.After(since) && !st.Cancelled:
			st.Cancelled = true
			if err := s.putState(st, true); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveData sets the data override of an occurrence, replacing an existing
// one
func (s *Session[D]) SaveData(ctx context.Context, id uuid.UUID, occurrenceStart time.Time, data D) error {
	st, exists, err := s.occurrence(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}
	st.Data = mo.Some(data)
	return s.putState(st, exists)
}

// AddData sets the data override of an occurrence that has none
func (s *Session[D]) AddData(ctx context.Context, id uuid.UUID, occurrenceStart time.Time, data D) error {
	st, exists, err := s.occurrence(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}
	if st.Data.IsPresent() {
		return storage.AlreadyExists("%s already has data", st.Key())
	}
	st.Data = mo.Some(data)
	return s.putState(st, exists)
}

// UpdateData replaces the existing data override of an occurrence
func (s *Session[D]) UpdateData(ctx context.Context, id uuid.UUID, occurrenceStart time.Time, data D) error {
	st, exists, err := s.occurrence(ctx, id, occurrenceStart)
	if err != nil {
		return err
	}
	if !st.Data.IsPresent() {
		return storage.NotFound("%s has no data", st.Key())
	}
	st.Data = mo.Some(data)
	return s.putState(st, exists)
}

// DeleteState removes every override of an occurrence
func (s *Session[D]) DeleteState(ctx context.Context, id uuid.UUID, occurrenceStart time.Time) error {
	rec, err := s.get(ctx, storage.StateKey(id, recurrence.ToMinutes(occurrenceStart)))
	if err != nil {
		return err
	}
	s.stage(storage.Remove(rec))
	return nil
}

// GetState returns the stored state of an occurrence
func (s *Session[D]) GetState(ctx context.Context, id uuid.UUID, occurrenceStart time.Time) (event.OccurrenceState[D], error) {
	rec, err := s.get(ctx, storage.StateKey(id, recurrence.ToMinutes(occurrenceStart)))
	if err != nil {
		return event.OccurrenceState[D]{}, err
	}
	return event.StateFromRecord(rec)
}

// occurrence returns the state of the occurrence starting at start, or a
// fresh one when none is stored. The event must have an occurrence there.
func (s *Session[D]) occurrence(ctx context.Context, id uuid.UUID, start time.Time) (event.OccurrenceState[D], bool, error) {
	if err := recurrence.CheckAligned(start); err != nil {
		return event.OccurrenceState[D]{}, false, storage.InvalidInput(err, "invalid occurrence start")
	}
	recs, err := s.Get(ctx, storage.StateKey(id, recurrence.ToMinutes(start)))
	if err != nil {
		return event.OccurrenceState[D]{}, false, err
	}
	if len(recs) > 0 {
		st, err := event.StateFromRecord(recs[0])
		return st, err == nil, err
	}

	ev, err := s.GetRecurrent(ctx, id)
	if err != nil {
		return event.OccurrenceState[D]{}, false, err
	}
	period, ok := recurrence.MatchPeriod(ev.Pattern, ev.Effective, start).Get()
	if !ok {
		return event.OccurrenceState[D]{}, false, storage.NotFound("event %s has no occurrence at %s", id, start.Format(time.RFC3339))
	}
	return event.NewOccurrenceState[D](id, period), false, nil
}

func (s *Session[D]) putState(st event.OccurrenceState[D], exists bool) error {
	rec, err := st.Record()
	if err != nil {
		return err
	}
	if exists {
		s.stage(storage.Update(rec))
	} else {
		s.stage(storage.Add(rec))
	}
	return nil
}

// states returns the stored states of an event, staged versions included
func (s *Session[D]) states(ctx context.Context, id uuid.UUID) ([]storage.Record[D], error) {
	recs, err := s.svc.store.Query(ctx, expr.AllOf(
		expr.Eq(storage.ColType, int64(storage.RecurrentState)),
		expr.Eq(storage.ColRecurrentEventID, id.String()),
	))
	if err != nil {
		return nil, err
	}

	var out []storage.Record[D]
	for _, r := range recs {
		if _, ok := s.overlay[r.Key()]; !ok {
			out = append(out, r)
		}
	}
	for key, st := range s.overlay {
		if key.Type == storage.RecurrentState && key.RecurrentEventID == id && !st.removed {
			out = append(out, st.rec)
		}
	}
	return out, nil
}

package calendar

import (
	"context"

	"github.com/google/uuid"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// AddOneTime stages a new one-time event
func (s *Session[D]) AddOneTime(period recurrence.Period, data D) (event.OneTimeEvent[D], error) {
	ev, err := event.NewOneTimeEvent(period, data)
	if err != nil {
		return event.OneTimeEvent[D]{}, storage.InvalidInput(err, "invalid one-time event")
	}
	rec, err := ev.Record()
	if err != nil {
		return event.OneTimeEvent[D]{}, err
	}
	s.stage(storage.Add(rec))
	return ev, nil
}

// GetOneTime returns a one-time event
func (s *Session[D]) GetOneTime(ctx context.Context, id uuid.UUID) (event.OneTimeEvent[D], error) {
	rec, err := s.get(ctx, storage.OneTimeKey(id))
	if err != nil {
		return event.OneTimeEvent[D]{}, err
	}
	return event.OneTimeFromRecord(rec)
}

// UpdateOneTime replaces the period, data and cancellation of an existing
// one-time event
func (s *Session[D]) UpdateOneTime(ctx context.Context, ev event.OneTimeEvent[D]) error {
	if _, err := s.get(ctx, storage.OneTimeKey(ev.ID)); err != nil {
		return err
	}
	rec, err := ev.Record()
	if err != nil {
		return err
	}
	s.stage(storage.Update(rec))
	return nil
}

// DeleteOneTime removes a one-time event
func (s *Session[D]) DeleteOneTime(ctx context.Context, id uuid.UUID) error {
	rec, err := s.get(ctx, storage.OneTimeKey(id))
	if err != nil {
		return err
	}
	s.stage(storage.Remove(rec))
	return nil
}

// CancelOneTime hides a one-time event from calculated results while
// keeping it stored
func (s *Session[D]) CancelOneTime(ctx context.Context, id uuid.UUID) error {
	rec, err := s.get(ctx, storage.OneTimeKey(id))
	if err != nil {
		return err
	}
	if rec.Cancelled {
		return nil
	}
	rec.Cancelled = true
	s.stage(storage.Update(rec))
	return nil
}

// Package event holds the calendar-level views of stored records: one-time
// events, recurrent events with their per-occurrence states, and the flat
// Event projection returned to callers.
package event

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// Kind tells where a projected Event came from
type Kind int

const (
	KindOneTime Kind = iota + 1
	KindRecurrent
)

func (k Kind) String() string {
	switch k {
	case KindOneTime:
		return "one_time"
	case KindRecurrent:
		return "recurrent"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one concrete appearance in a queried window
type Event[D any] struct {
	// ID of the one-time event or of the recurrent event the occurrence belongs to
	ID     uuid.UUID
	Kind   Kind
	Period recurrence.Period

	// Original start of a recurrent occurrence. It keys the occurrence's state.
	OccurrenceStart mo.Option[time.Time]
	// Pattern-computed period of an occurrence that was moved elsewhere
	MovedFrom mo.Option[recurrence.Period]

	Data D
}

// Key returns the key of the record holding the event's per-appearance data:
// the one-time record itself, or the state of the occurrence.
func (e Event[D]) Key() storage.RecordKey {
	if start, ok := e.OccurrenceStart.Get(); ok {
		return storage.StateKey(e.ID, recurrence.ToMinutes(start))
	}
	return storage.OneTimeKey(e.ID)
}

// OneTimeEvent is a single appearance without a pattern
type OneTimeEvent[D any] struct {
	ID        uuid.UUID
	Period    recurrence.Period
	Cancelled bool
	Data      D
}

// NewOneTimeEvent creates a one-time event with a fresh ID
func NewOneTimeEvent[D any](period recurrence.Period, data D) (OneTimeEvent[D], error) {
	if err := period.Validate(); err != nil {
		return OneTimeEvent[D]{}, err
	}
	return OneTimeEvent[D]{ID: uuid.New(), Period: period, Data: data}, nil
}

// ToEvents projects the event onto [from, to). The result has at most one
// element.
func (e OneTimeEvent[D]) ToEvents(from, to time.Time) []Event[D] {
	if e.Cancelled || !e.Period.IntersectsRange(from, to) {
		return nil
	}
	return []Event[D]{{ID: e.ID, Kind: KindOneTime, Period: e.Period, Data: e.Data}}
}

// RecurrentEvent is a pattern active during an effective range. Data is the
// default payload of occurrences without a data override.
type RecurrentEvent[D any] struct {
	ID        uuid.UUID
	Pattern   recurrence.Pattern
	Effective recurrence.OpenPeriod
	Data      D
}

// NewRecurrentEvent creates a recurrent event with a fresh ID
func NewRecurrentEvent[D any](pattern recurrence.Pattern, effective recurrence.OpenPeriod, data D) (RecurrentEvent[D], error) {
	ev := RecurrentEvent[D]{ID: uuid.New(), Pattern: pattern, Effective: effective, Data: data}
	if err := ev.Validate(); err != nil {
		return RecurrentEvent[D]{}, err
	}
	return ev, nil
}

// Validate checks the pattern and the effective range
func (e RecurrentEvent[D]) Validate() error {
	if e.Pattern == nil {
		return fmt.Errorf("%w: recurrent event %s has no pattern", recurrence.ErrInvalidPattern, e.ID)
	}
	if err := e.Pattern.Validate(); err != nil {
		return err
	}
	return e.Effective.Validate()
}

// OccurrenceState overrides one occurrence of a recurrent event
type OccurrenceState[D any] struct {
	RecurrentEventID uuid.UUID
	OccurrenceStart  time.Time
	// Pattern-computed period of the occurrence
	Period recurrence.Period

	MovedTo   mo.Option[recurrence.Period]
	Cancelled bool
	Data      mo.Option[D]
}

// NewOccurrenceState returns an empty override of the occurrence at period
func NewOccurrenceState[D any](eventID uuid.UUID, period recurrence.Period) OccurrenceState[D] {
	return OccurrenceState[D]{RecurrentEventID: eventID, OccurrenceStart: period.Start, Period: period}
}

// Key returns the state's record key
func (s OccurrenceState[D]) Key() storage.RecordKey {
	return storage.StateKey(s.RecurrentEventID, recurrence.ToMinutes(s.OccurrenceStart))
}

// Actual returns where the occurrence takes place after a move
func (s OccurrenceState[D]) Actual() recurrence.Period {
	return s.MovedTo.OrElse(s.Period)
}

// ToEvents projects a recurrent event onto [from, to), merging per-occurrence
// states. A moved occurrence appears at its new period, and only when that
// period intersects the window, even if its original period lies outside.
// Cancelled occurrences are dropped. The result is sorted by start.
func ToEvents[D any](ev RecurrentEvent[D], from, to time.Time, states []OccurrenceState[D]) ([]Event[D], error) {
	if !from.Before(to) {
		return nil, nil
	}
	periods, err := recurrence.Occurrences(ev.Pattern, ev.Effective, from, mo.Some(to))
	if err != nil {
		return nil, fmt.Errorf("failed to compute occurrences of %s: %w", ev.ID, err)
	}

	byStart := make(map[int64]OccurrenceState[D], len(states))
	for _, s := range states {
		if s.RecurrentEventID != ev.ID {
			return nil, storage.Invariant(nil, "state %s does not belong to event %s", s.Key(), ev.ID)
		}
		byStart[s.OccurrenceStart.UnixNano()] = s
	}

	out := make([]Event[D], 0, len(periods))
	emit := func(p recurrence.Period, s mo.Option[OccurrenceState[D]]) {
		e := Event[D]{
			ID:              ev.ID,
			Kind:            KindRecurrent,
			Period:          p,
			OccurrenceStart: mo.Some(p.Start),
			Data:            ev.Data,
		}
		if st, ok := s.Get(); ok {
			if st.Cancelled {
				return
			}
			if moved, ok := st.MovedTo.Get(); ok {
				if !moved.IntersectsRange(from, to) {
					return
				}
				e.Period = moved
				e.MovedFrom = mo.Some(p)
			}
			e.Data = st.Data.OrElse(ev.Data)
		}
		out = append(out, e)
	}

	for _, p := range periods {
		key := p.Start.UnixNano()
		st, ok := byStart[key]
		if !ok {
			emit(p, mo.None[OccurrenceState[D]]())
			continue
		}
		delete(byStart, key)
		emit(p, mo.Some(st))
	}

	// States whose origin is outside the window but were moved into it
	for _, st := range byStart {
		if moved, ok := st.MovedTo.Get(); ok && moved.IntersectsRange(from, to) {
			emit(st.Period, mo.Some(st))
		}
	}

	SortEvents(out)
	return out, nil
}

// SortEvents orders events by start, then end, then ID
func SortEvents[D any](events []Event[D]) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Period.Start.Equal(b.Period.Start) {
			return a.Period.Start.Before(b.Period.Start)
		}
		if !a.Period.End.Equal(b.Period.End) {
			return a.Period.End.Before(b.Period.End)
		}
		return a.ID.String() < b.ID.String()
	})
}

package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
	"github.com/cyp0633/librecur/storage"
)

// Getter fetches records by key. Stores and caches implement it.
type Getter[D any] interface {
	Get(ctx context.Context, keys ...storage.RecordKey) ([]storage.Record[D], error)
}

// Refine computes the exact events of [from, to) whose data satisfies data,
// from records selected by a predicate built with Create. Definitions of
// states that are not among the records are fetched through parents, which
// may be nil when the records are known to include them.
func (f *Factory[D]) Refine(ctx context.Context, records []storage.Record[D], from, to time.Time, data expr.Expr, parents Getter[D]) ([]event.Event[D], error) {
	pred, err := expr.Compile(data, f.fields)
	if err != nil {
		return nil, storage.InvalidInput(err, "invalid data predicate")
	}
	if !from.Before(to) {
		return nil, nil
	}

	var oneTimes []storage.Record[D]
	defs := make(map[uuid.UUID]storage.Record[D])
	children := make(map[uuid.UUID][]storage.Record[D])
	for _, r := range records {
		switch r.Type {
		case storage.OneTime:
			oneTimes = append(oneTimes, r)
		case storage.RecurrentDefinition:
			defs[r.ID] = r
		case storage.RecurrentState:
			if r.RecurrentEventID == nil {
				return nil, storage.Invariant(nil, "state %s has no event", r.ID)
			}
			children[*r.RecurrentEventID] = append(children[*r.RecurrentEventID], r)
		default:
			return nil, storage.Invariant(nil, "record %s has unknown type %d", r.ID, int(r.Type))
		}
	}

	if err := f.fetchParents(ctx, defs, children, parents); err != nil {
		return nil, err
	}

	var out []event.Event[D]
	for _, r := range oneTimes {
		ev, err := event.OneTimeFromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ev.ToEvents(from, to)...)
	}
	for id, def := range defs {
		events, err := event.Project(def, children[id], from, to)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}

	kept := out[:0]
	for _, e := range out {
		if pred(e.Data) {
			kept = append(kept, e)
		}
	}
	event.SortEvents(kept)
	return kept, nil
}

func (f *Factory[D]) fetchParents(ctx context.Context, defs map[uuid.UUID]storage.Record[D], children map[uuid.UUID][]storage.Record[D], parents Getter[D]) error {
	var missing []storage.RecordKey
	for id := range children {
		if _, ok := defs[id]; !ok {
			missing = append(missing, storage.DefinitionKey(id))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if parents != nil {
		fetched, err := parents.Get(ctx, missing...)
		if err != nil {
			return fmt.Errorf("failed to fetch definitions: %w", err)
		}
		for _, r := range fetched {
			if r.Type == storage.RecurrentDefinition {
				defs[r.ID] = r
			}
		}
	}
	for _, key := range missing {
		if _, ok := defs[key.ID]; !ok {
			return storage.Invariant(nil, "definition %s of %d state(s) is missing", key.ID, len(children[key.ID]))
		}
	}
	return nil
}

// Match reports exactly whether rec is relevant to [from, to): a one-time
// event that is not cancelled and intersects the window, a definition with
// an occurrence in it, or a state whose original or moved period
// intersects it.
func (f *Factory[D]) Match(rec storage.Record[D], from, to time.Time) (bool, error) {
	if !from.Before(to) {
		return false, nil
	}
	switch rec.Type {
	case storage.OneTime:
		ev, err := event.OneTimeFromRecord(rec)
		if err != nil {
			return false, err
		}
		return len(ev.ToEvents(from, to)) > 0, nil
	case storage.RecurrentDefinition:
		ev, err := event.RecurrentFromRecord(rec)
		if err != nil {
			return false, err
		}
		first, ok := recurrence.First(ev.Pattern, ev.Effective, from).Get()
		return ok && first.Start.Before(to), nil
	case storage.RecurrentState:
		st, err := event.StateFromRecord(rec)
		if err != nil {
			return false, err
		}
		if st.Period.IntersectsRange(from, to) {
			return true, nil
		}
		moved, ok := st.MovedTo.Get()
		return ok && moved.IntersectsRange(from, to), nil
	}
	return false, storage.Invariant(nil, "record %s has unknown type %d", rec.ID, int(rec.Type))
}

// Filter keeps the records of view that may contribute an event to
// [from, to) with data satisfying data, plus the definitions of kept
// states. lookup resolves definitions from the same view.
func (f *Factory[D]) Filter(view []storage.Record[D], from, to time.Time, data expr.Expr, lookup storage.ParentLookup[D]) ([]storage.Record[D], error) {
	pred, err := f.Create(from, to, data, 0)
	if err != nil {
		return nil, err
	}

	var out []storage.Record[D]
	included := make(map[storage.RecordKey]bool)
	for _, rec := range view {
		ok, err := storage.Matches(pred, rec, f.fields, lookup)
		if err != nil {
			return nil, storage.InvalidInput(err, "failed to evaluate predicate")
		}
		if !ok {
			continue
		}
		if ok, err = f.Match(rec, from, to); err != nil {
			return nil, err
		} else if !ok {
			continue
		}
		out = append(out, rec)
		included[rec.Key()] = true
	}

	for _, rec := range out {
		if rec.Type != storage.RecurrentState {
			continue
		}
		key := storage.DefinitionKey(*rec.RecurrentEventID)
		if included[key] {
			continue
		}
		parent, ok := lookup(key)
		if !ok {
			return nil, storage.Invariant(nil, "definition of state %s is missing", rec.Key())
		}
		out = append(out, parent)
		included[key] = true
	}
	return out, nil
}

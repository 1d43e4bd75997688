package calendar

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyp0633/librecur/cache"
	"github.com/cyp0633/librecur/event"
	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

type staged[D any] struct {
	rec     storage.Record[D]
	removed bool
}

// Session stages changes and commits them to the store in one batch. Reads
// through a session see its uncommitted changes.
type Session[D any] struct {
	svc     *Service[D]
	changes []storage.Change[D]
	// Latest staged version of every touched record
	overlay map[storage.RecordKey]staged[D]
}

func (s *Session[D]) stage(c storage.Change[D]) {
	s.changes = append(s.changes, c)
	s.overlay[c.Record.Key()] = staged[D]{rec: c.Record, removed: c.Op == storage.OpRemove}
}

// Pending returns the staged changes in order
func (s *Session[D]) Pending() []storage.Change[D] {
	return append([]storage.Change[D](nil), s.changes...)
}

// Rollback drops the staged changes
func (s *Session[D]) Rollback() {
	s.changes = nil
	s.overlay = make(map[storage.RecordKey]staged[D])
}

// Commit pushes the staged changes to the cache and applies them to the
// store. When the store rejects them, the pushed batch is discarded and the
// changes stay staged.
func (s *Session[D]) Commit(ctx context.Context) error {
	if len(s.changes) == 0 {
		return nil
	}
	changes := s.changes

	batch := s.svc.cache.Push(changes...)
	if err := s.svc.store.Apply(cache.WithBatch(ctx, batch), changes); err != nil {
		s.svc.cache.Discard(batch)
		s.svc.logger.Warn("commit failed", zap.Int("changes", len(changes)), zap.Error(err))
		return fmt.Errorf("failed to commit %d change(s): %w", len(changes), err)
	}

	s.svc.logger.Debug("committed", zap.Int("changes", len(changes)), zap.Uint64("batch", batch))
	s.Rollback()
	return nil
}

// Get fetches records by key, staged versions first. Missing and removed
// keys are skipped.
func (s *Session[D]) Get(ctx context.Context, keys ...storage.RecordKey) ([]storage.Record[D], error) {
	var out []storage.Record[D]
	var rest []storage.RecordKey
	for _, key := range keys {
		if st, ok := s.overlay[key]; ok {
			if !st.removed {
				out = append(out, st.rec)
			}
			continue
		}
		rest = append(rest, key)
	}
	if len(rest) == 0 {
		return out, nil
	}
	fetched, err := s.svc.store.Get(ctx, rest...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	return append(out, fetched...), nil
}

func (s *Session[D]) get(ctx context.Context, key storage.RecordKey) (storage.Record[D], error) {
	recs, err := s.Get(ctx, key)
	if err != nil {
		return storage.Record[D]{}, err
	}
	if len(recs) == 0 {
		return storage.Record[D]{}, storage.NotFound("%s not found", key)
	}
	return recs[0], nil
}

// GetCalculated returns the events of [from, to) whose data satisfies data,
// including the session's staged changes
func (s *Session[D]) GetCalculated(ctx context.Context, from, to time.Time, data expr.Expr) ([]event.Event[D], error) {
	records, err := s.candidates(ctx, from, to, data)
	if err != nil {
		return nil, err
	}
	return s.svc.factory.Refine(ctx, records, from, to, data, s)
}

// candidates reads the window from the cache, or from the store on a miss,
// and replaces the records the session touched with their staged versions
func (s *Session[D]) candidates(ctx context.Context, from, to time.Time, data expr.Expr) ([]storage.Record[D], error) {
	hit, err := s.svc.cache.TryGetAll(from, to, data)
	if err != nil {
		return nil, err
	}
	records, ok := hit.Get()
	if !ok {
		pred, err := s.svc.factory.Create(from, to, data, s.svc.flags)
		if err != nil {
			return nil, err
		}
		if records, err = s.svc.store.Query(ctx, pred); err != nil {
			return nil, fmt.Errorf("failed to query events: %w", err)
		}
	}
	if len(s.overlay) == 0 {
		return records, nil
	}

	merged := make([]storage.Record[D], 0, len(records)+len(s.overlay))
	for _, r := range records {
		if _, ok := s.overlay[r.Key()]; !ok {
			merged = append(merged, r)
		}
	}
	for _, st := range s.overlay {
		if st.removed {
			continue
		}
		ok, err := s.svc.factory.Match(st.rec, from, to)
		if err != nil {
			return nil, err
		}
		if ok {
			merged = append(merged, st.rec)
		}
	}
	return merged, nil
}

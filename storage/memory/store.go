// memory based implementation for testing purposes
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

// Store implements storage.Store using an in-memory map, evaluating
// predicates in process
type Store[D any] struct {
	mu      sync.RWMutex
	records map[storage.RecordKey]storage.Record[D]
	fields  expr.Fields[D]

	storage.Notifier
}

// New creates a new in-memory store. fields resolves "data." predicate
// fields against the payload.
func New[D any](fields expr.Fields[D]) *Store[D] {
	return &Store[D]{
		records: make(map[storage.RecordKey]storage.Record[D]),
		fields:  fields,
	}
}

func (s *Store[D]) Query(_ context.Context, pred expr.Expr) ([]storage.Record[D], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent := func(key storage.RecordKey) (storage.Record[D], bool) {
		rec, ok := s.records[key]
		return rec, ok
	}

	var out []storage.Record[D]
	for _, rec := range s.records {
		ok, err := storage.Matches(pred, rec, s.fields, parent)
		if err != nil {
			return nil, &storage.Error{
				Type:    storage.ErrInvalidInput,
				Message: "failed to evaluate predicate",
				Err:     err,
			}
		}
		if ok {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *Store[D]) Get(_ context.Context, keys ...storage.RecordKey) ([]storage.Record[D], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Record[D], 0, len(keys))
	seen := make(map[storage.RecordKey]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if rec, ok := s.records[key]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Apply validates and applies every change to a copy of the records, swapping
// it in only when all of them succeed.
func (s *Store[D]) Apply(ctx context.Context, changes []storage.Change[D]) error {
	if len(changes) == 0 {
		return nil
	}
	for _, c := range changes {
		if c.Op == storage.OpRemove {
			continue
		}
		if err := c.Record.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	next := maps.Clone(s.records)
	for _, c := range changes {
		if err := storage.ApplyTo(next, c, false); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.records = next
	s.mu.Unlock()

	s.Notify(ctx)
	return nil
}

// Len returns the number of stored records
func (s *Store[D]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortRecords[D any](records []storage.Record[D]) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Key(), records[j].Key()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Type == storage.RecurrentState && a.RecurrentEventID != b.RecurrentEventID {
			return a.RecurrentEventID.String() < b.RecurrentEventID.String()
		}
		if a.OccurrenceStart != b.OccurrenceStart {
			return a.OccurrenceStart < b.OccurrenceStart
		}
		return a.ID.String() < b.ID.String()
	})
}

var _ storage.Store[struct{}] = (*Store[struct{}])(nil)

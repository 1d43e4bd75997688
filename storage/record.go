package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/cyp0633/librecur/recurrence"
)

// RecordType distinguishes the three kinds of stored rows
type RecordType int

const (
	OneTime RecordType = iota + 1
	RecurrentDefinition
	RecurrentState
)

func (t RecordType) String() string {
	switch t {
	case OneTime:
		return "one_time"
	case RecurrentDefinition:
		return "recurrent_definition"
	case RecurrentState:
		return "recurrent_state"
	}
	return fmt.Sprintf("record_type(%d)", int(t))
}

// Record is the storage row shared by one-time events, recurrence
// definitions and per-occurrence states. Instants are minutes since the
// Unix epoch.
//
// Records are values; the Data pointer is shared between copies and must
// not be mutated once a record has been handed to a store or cache.
type Record[D any] struct {
	ID   uuid.UUID
	Type RecordType

	// For states the effective range is the original occurrence period
	EffectiveStart int64
	EffectiveEnd   *int64

	RecurrentEventID *uuid.UUID                 // states only
	Summary          *recurrence.PatternSummary // definitions only

	MovedStart *int64
	MovedEnd   *int64
	Cancelled  bool

	Data *D
}

// RecordKey is the logical identity of a record. One-time events and
// definitions are keyed by ID, states by their event and occurrence start.
type RecordKey struct {
	Type             RecordType
	ID               uuid.UUID
	RecurrentEventID uuid.UUID
	OccurrenceStart  int64
}

// OneTimeKey keys a one-time event
func OneTimeKey(id uuid.UUID) RecordKey {
	return RecordKey{Type: OneTime, ID: id}
}

// DefinitionKey keys a recurrence definition
func DefinitionKey(id uuid.UUID) RecordKey {
	return RecordKey{Type: RecurrentDefinition, ID: id}
}

// StateKey keys the state of one occurrence
func StateKey(eventID uuid.UUID, occurrenceStart int64) RecordKey {
	return RecordKey{Type: RecurrentState, RecurrentEventID: eventID, OccurrenceStart: occurrenceStart}
}

func (k RecordKey) String() string {
	if k.Type == RecurrentState {
		return fmt.Sprintf("%s/%s@%s", k.Type, k.RecurrentEventID,
			recurrence.FromMinutes(k.OccurrenceStart).Format(time.RFC3339))
	}
	return fmt.Sprintf("%s/%s", k.Type, k.ID)
}

// Key returns the record's logical identity
func (r Record[D]) Key() RecordKey {
	if r.Type == RecurrentState {
		var event uuid.UUID
		if r.RecurrentEventID != nil {
			event = *r.RecurrentEventID
		}
		return StateKey(event, r.EffectiveStart)
	}
	return RecordKey{Type: r.Type, ID: r.ID}
}

// Effective returns the effective range as instants
func (r Record[D]) Effective() recurrence.OpenPeriod {
	eff := recurrence.Since(recurrence.FromMinutes(r.EffectiveStart))
	if r.EffectiveEnd != nil {
		eff.End = mo.Some(recurrence.FromMinutes(*r.EffectiveEnd))
	}
	return eff
}

// Moved returns the moved-to period of a state, if any
func (r Record[D]) Moved() mo.Option[recurrence.Period] {
	if r.MovedStart == nil || r.MovedEnd == nil {
		return mo.None[recurrence.Period]()
	}
	return mo.Some(recurrence.Period{
		Start: recurrence.FromMinutes(*r.MovedStart),
		End:   recurrence.FromMinutes(*r.MovedEnd),
	})
}

// Validate checks the shape each record type requires
func (r Record[D]) Validate() error {
	if r.EffectiveEnd != nil && *r.EffectiveEnd < r.EffectiveStart {
		return InvalidInput(recurrence.ErrInvalidPeriod, "record %s ends before it starts", r.Key())
	}
	switch r.Type {
	case OneTime:
		if r.EffectiveEnd == nil {
			return InvalidInput(nil, "one-time record %s has no end", r.ID)
		}
	case RecurrentDefinition:
		if r.Summary == nil {
			return InvalidInput(nil, "definition %s has no pattern summary", r.ID)
		}
	case RecurrentState:
		if r.RecurrentEventID == nil || r.EffectiveEnd == nil {
			return InvalidInput(nil, "state %s is missing its event or period", r.ID)
		}
		if (r.MovedStart == nil) != (r.MovedEnd == nil) {
			return InvalidInput(nil, "state %s has a half-open move", r.Key())
		}
		if r.MovedStart != nil && *r.MovedEnd < *r.MovedStart {
			return InvalidInput(recurrence.ErrInvalidPeriod, "state %s is moved to a reversed period", r.Key())
		}
	default:
		return InvalidInput(nil, "unknown record type %d", int(r.Type))
	}
	return nil
}

// Int64 returns a pointer to v, for building nullable columns
func Int64(v int64) *int64 {
	return &v
}

// ChangeOp is the kind of a staged mutation
type ChangeOp int

const (
	OpAdd ChangeOp = iota + 1
	OpUpdate
	OpRemove
)

func (o ChangeOp) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Change is one add, update or remove of a record. For removals only the
// record's key matters.
type Change[D any] struct {
	Op     ChangeOp
	Record Record[D]
}

// Add stages an insert
func Add[D any](r Record[D]) Change[D] {
	return Change[D]{Op: OpAdd, Record: r}
}

// Update stages a replacement of an existing record
func Update[D any](r Record[D]) Change[D] {
	return Change[D]{Op: OpUpdate, Record: r}
}

// Remove stages a deletion
func Remove[D any](r Record[D]) Change[D] {
	return Change[D]{Op: OpRemove, Record: r}
}

// ApplyTo applies c to a key-indexed set of records. An add over an existing
// key yields ErrAlreadyExists and an update or remove of a missing key yields
// ErrNotFound. With lenient set, adds and updates become upserts and missing
// removals are ignored.
func ApplyTo[D any](m map[RecordKey]Record[D], c Change[D], lenient bool) error {
	key := c.Record.Key()
	_, exists := m[key]
	switch c.Op {
	case OpAdd:
		if exists && !lenient {
			return AlreadyExists("record %s already exists", key)
		}
		m[key] = c.Record
	case OpUpdate:
		if !exists && !lenient {
			return NotFound("record %s not found", key)
		}
		m[key] = c.Record
	case OpRemove:
		if !exists && !lenient {
			return NotFound("record %s not found", key)
		}
		delete(m, key)
	default:
		return InvalidInput(nil, "unknown change op %d", int(c.Op))
	}
	return nil
}

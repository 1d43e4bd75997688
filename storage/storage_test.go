package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/recurrence"
)

type note struct {
	Title string
}

var noteFields = expr.Fields[note]{
	"title": func(n note) any { return n.Title },
}

func definition(id uuid.UUID, title string) Record[note] {
	summary := recurrence.PatternSummary{Monday: true, TimeOfDayMinutes: 60, DurationMinutes: 30, TimeZone: "UTC"}
	return Record[note]{ID: id, Type: RecurrentDefinition, EffectiveStart: 100, Summary: &summary, Data: &note{Title: title}}
}

func state(eventID uuid.UUID, start int64) Record[note] {
	return Record[note]{
		ID:               uuid.New(),
		Type:             RecurrentState,
		EffectiveStart:   start,
		EffectiveEnd:     Int64(start + 30),
		RecurrentEventID: &eventID,
	}
}

func TestRecordKey(t *testing.T) {
	id := uuid.New()
	eventID := uuid.New()

	assert.Equal(t, OneTimeKey(id), Record[note]{ID: id, Type: OneTime}.Key())
	assert.Equal(t, DefinitionKey(id), definition(id, "x").Key())

	// States are keyed by event and occurrence, not by their own ID
	a, b := state(eventID, 500), state(eventID, 500)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, StateKey(eventID, 500), a.Key())
	assert.NotEqual(t, a.Key(), state(eventID, 560).Key())
}

func TestRecordValidate(t *testing.T) {
	eventID := uuid.New()
	tests := []struct {
		name    string
		record  Record[note]
		wantErr bool
	}{
		{"one-time", Record[note]{Type: OneTime, EffectiveStart: 1, EffectiveEnd: Int64(2)}, false},
		{"one-time without end", Record[note]{Type: OneTime, EffectiveStart: 1}, true},
		{"reversed", Record[note]{Type: OneTime, EffectiveStart: 3, EffectiveEnd: Int64(2)}, true},
		{"definition", definition(uuid.New(), "x"), false},
		{"definition without summary", Record[note]{Type: RecurrentDefinition}, true},
		{"state", state(eventID, 10), false},
		{"state half moved", func() Record[note] {
			s := state(eventID, 10)
			s.MovedStart = Int64(20)
			return s
		}(), true},
		{"unknown type", Record[note]{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.True(t, HasType(err, ErrInvalidInput), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApplyTo(t *testing.T) {
	id := uuid.New()
	rec := definition(id, "a")
	m := map[RecordKey]Record[note]{}

	require.NoError(t, ApplyTo(m, Add(rec), false))
	assert.True(t, IsAlreadyExists(ApplyTo(m, Add(rec), false)))
	assert.NoError(t, ApplyTo(m, Add(rec), true))

	updated := definition(id, "b")
	require.NoError(t, ApplyTo(m, Update(updated), false))
	assert.Equal(t, "b", m[rec.Key()].Data.Title)

	require.NoError(t, ApplyTo(m, Remove(rec), false))
	assert.Empty(t, m)
	assert.True(t, IsNotFound(ApplyTo(m, Remove(rec), false)))
	assert.True(t, IsNotFound(ApplyTo(m, Update(rec), false)))
	assert.NoError(t, ApplyTo(m, Remove(rec), true))

	require.NoError(t, ApplyTo(m, Update(rec), true))
	assert.Len(t, m, 1)
}

func TestResolver(t *testing.T) {
	eventID := uuid.New()
	parent := definition(eventID, "standup")
	child := state(eventID, 500)
	lookup := func(key RecordKey) (Record[note], bool) {
		if key == parent.Key() {
			return parent, true
		}
		return Record[note]{}, false
	}

	tests := []struct {
		name     string
		pred     expr.Expr
		record   Record[note]
		expected bool
	}{
		{"type column", expr.Eq(ColType, int64(RecurrentState)), child, true},
		{"null end", expr.IsNull{Field: ColEffectiveEnd}, parent, true},
		{"weekday flag", expr.Eq(ColMonday, true), parent, true},
		{"weekday flag unset", expr.Eq(ColTuesday, true), parent, false},
		{"weekday flag on state is null", expr.IsNull{Field: ColMonday}, child, true},
		{"duration arithmetic", expr.Compare(expr.Plus(expr.Field(ColTimeOfDay), expr.Field(ColDuration)), expr.OpEq, expr.V(90)), parent, true},
		{"data field", expr.Eq("data.title", "standup"), parent, true},
		{"data field on nil data", expr.IsNull{Field: "data.title"}, child, true},
		{"parent data", ParentMatch(expr.Eq("data.title", "standup")), child, true},
		{"parent data mismatch", ParentMatch(expr.Eq("data.title", "retro")), child, false},
		{"parent of definition", ParentMatch(expr.Const(true)), parent, false},
		{"event id", expr.Eq(ColRecurrentEventID, eventID.String()), child, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Matches(tt.pred, tt.record, noteFields, lookup)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}

	_, err := Matches(expr.Eq("nope", 1), parent, noteFields, lookup)
	assert.ErrorIs(t, err, expr.ErrUnknownField)
}

func TestPredicateForKeys(t *testing.T) {
	eventID := uuid.New()
	def := definition(eventID, "x")
	s1, s2 := state(eventID, 500), state(eventID, 600)
	pred := PredicateForKeys([]RecordKey{def.Key(), s2.Key()})

	for _, tt := range []struct {
		record   Record[note]
		expected bool
	}{{def, true}, {s1, false}, {s2, true}, {definition(uuid.New(), "y"), false}} {
		ok, err := Matches(pred, tt.record, noteFields, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, ok, tt.record.Key().String())
	}

	assert.Equal(t, expr.Const(false), PredicateForKeys(nil))
}

func TestNotifier(t *testing.T) {
	var n Notifier
	var calls []string

	cancelA := n.Subscribe(func(context.Context) { calls = append(calls, "a") })
	n.Subscribe(func(context.Context) { calls = append(calls, "b") })
	n.Notify(context.Background())
	cancelA()
	n.Notify(context.Background())

	assert.Equal(t, []string{"a", "b", "b"}, calls)
}

func TestErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), NotFound("event %d", 7))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsInvariant(wrapped))
	assert.ErrorIs(t, wrapped, &Error{Type: ErrNotFound})
	assert.Equal(t, "not_found: event 7", NotFound("event %d", 7).Error())

	inner := errors.New("boom")
	inv := Invariant(inner, "apply %s", "x")
	assert.ErrorIs(t, inv, inner)
	assert.Equal(t, "invariant: apply x: boom", inv.Error())
}

func TestMockStore(t *testing.T) {
	m := &MockStore[note]{}
	notified := 0
	m.Subscribe(func(context.Context) { notified++ })

	changes := []Change[note]{Add(definition(uuid.New(), "x"))}
	m.On("Apply", mock.Anything, changes).Return(nil).Once()
	m.On("Apply", mock.Anything, mock.Anything).Return(errors.New("down")).Once()

	require.NoError(t, m.Apply(context.Background(), changes))
	assert.Error(t, m.Apply(context.Background(), nil))
	assert.Equal(t, 1, notified)
	m.AssertExpectations(t)
}

package expr

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type task struct {
	Title    string
	Priority int
	Done     bool
	Due      *time.Time
	Owner    uuid.UUID
}

var taskFields = Fields[task]{
	"title":    func(t task) any { return t.Title },
	"priority": func(t task) any { return t.Priority },
	"done":     func(t task) any { return t.Done },
	"due":      func(t task) any { return t.Due },
	"owner":    func(t task) any { return t.Owner },
}

type mapResolver map[string]any

func (m mapResolver) Lookup(field string) (any, bool) {
	v, ok := m[field]
	return v, ok
}

type withParent struct {
	mapResolver
	parent Resolver
}

func (w withParent) Related(relation string) (Resolver, bool) {
	if relation != "parent" || w.parent == nil {
		return nil, false
	}
	return w.parent, true
}

func TestCompile(t *testing.T) {
	due := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	owner := uuid.MustParse("0b9e5c2a-7e55-4d8e-9a57-7d3f7f1f3c11")
	sample := task{Title: "review", Priority: 3, Due: &due, Owner: owner}

	tests := []struct {
		name     string
		expr     Expr
		expected bool
	}{
		{"nil accepts", nil, true},
		{"string equality", Eq("title", "review"), true},
		{"string inequality", Ne("title", "review"), false},
		{"int less than", Lt("priority", 5), true},
		{"int against float", Ge("priority", 2.5), true},
		{"bool equality", Eq("done", false), true},
		{"bool has no order", Gt("done", false), false},
		{"time comparison", Lt("due", due.Add(time.Hour)), true},
		{"uuid as string", Eq("owner", owner.String()), true},
		{"in list", In("priority", 1, 2, 3), true},
		{"not in list", In("priority", 4, 5), false},
		{"and", AllOf(Eq("title", "review"), Gt("priority", 1)), true},
		{"or", AnyOf(Eq("title", "x"), Gt("priority", 1)), true},
		{"not", Not{X: Eq("title", "review")}, false},
		{"is null on set pointer", IsNull{Field: "due"}, false},
		{"mismatched types are false", Eq("title", 3), false},
		{"arith", Compare(Mod(Field("priority"), V(2)), OpEq, V(1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := Compile(tt.expr, taskFields)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pred(sample))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(Eq("missing", 1), taskFields)
	assert.ErrorIs(t, err, ErrUnknownField)

	_, err = Compile(Related{Relation: "parent", X: Eq("title", "x")}, taskFields)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNullSemantics(t *testing.T) {
	pred, err := Compile(Not{X: Eq("due", time.Now())}, taskFields)
	require.NoError(t, err)
	// A null comparison is false, so its negation is true
	assert.True(t, pred(task{}))

	isNull, err := Compile(IsNull{Field: "due"}, taskFields)
	require.NoError(t, err)
	assert.True(t, isNull(task{}))
}

func TestArithmetic(t *testing.T) {
	r := mapResolver{"a": int64(-7), "b": int64(3), "n": nil}

	tests := []struct {
		name     string
		term     Term
		expected int64
	}{
		{"add", Plus(Field("a"), Field("b")), -4},
		{"sub", Minus(Field("a"), Field("b")), -10},
		{"floored mod of negative", Mod(Field("a"), Field("b")), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := Eval(Compare(tt.term, OpEq, V(tt.expected)), r)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}

	ok, err := Eval(Compare(Plus(Field("a"), Field("n")), OpLt, V(100)), r)
	require.NoError(t, err)
	assert.False(t, ok, "arithmetic with null yields null")
}

func TestRelated(t *testing.T) {
	parent := mapResolver{"title": "standup"}
	child := withParent{mapResolver: mapResolver{"title": nil}, parent: parent}
	orphan := withParent{mapResolver: mapResolver{"title": nil}}

	e := AnyOf(Eq("title", "standup"), Related{Relation: "parent", X: Eq("title", "standup")})

	ok, err := Eval(e, child)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval(e, orphan)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Eval(e, mapResolver{"title": nil})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestUnknownField(t *testing.T) {
	_, err := Eval(Eq("nope", 1), mapResolver{})
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestAllOfAnyOf(t *testing.T) {
	assert.Equal(t, Const(true), AllOf())
	assert.Equal(t, Const(false), AnyOf())
	assert.Equal(t, Const(false), AllOf(Eq("a", 1), Const(false)))
	assert.Equal(t, Const(true), AnyOf(Eq("a", 1), Const(true)))
	assert.Equal(t, Eq("a", 1), AllOf(Const(true), Eq("a", 1)))
	assert.Equal(t, And{Eq("a", 1), Eq("b", 2), Eq("c", 3)}, AllOf(AllOf(Eq("a", 1), Eq("b", 2)), Eq("c", 3)))
	assert.Equal(t, Or{Eq("a", 1), Eq("b", 2)}, AnyOf(nil, Eq("a", 1), Eq("b", 2)))
}

func TestPrefix(t *testing.T) {
	e := AllOf(Eq("title", "x"), IsNull{Field: "due"}, Compare(Plus(Field("priority"), V(1)), OpGt, V(2)))
	prefixed := Prefix(e, "data.")
	assert.ElementsMatch(t, []string{"data.title", "data.due", "data.priority"}, FieldNames(prefixed))
	assert.Equal(t, `(data.title = "x" AND data.due IS NULL AND (data.priority + 1) > 2)`, String(prefixed))
}

func TestResolve(t *testing.T) {
	sample := task{Title: "review"}
	r := Resolve(&sample, taskFields, "data.")

	v, ok := r.Lookup("data.title")
	require.True(t, ok)
	assert.Equal(t, "review", v)

	_, ok = r.Lookup("title")
	assert.False(t, ok)

	empty := Resolve[task](nil, taskFields, "data.")
	v, ok = empty.Lookup("data.title")
	assert.True(t, ok)
	assert.Nil(t, v)
}

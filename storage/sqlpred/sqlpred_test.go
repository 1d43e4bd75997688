package sqlpred

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		expr     expr.Expr
		dialect  Dialect
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "nil is true",
			dialect: Postgres,
			wantSQL: "TRUE",
		},
		{
			name:     "column comparison",
			expr:     expr.Gt(storage.ColEffectiveEnd, int64(10)),
			dialect:  Postgres,
			wantSQL:  "(r.effective_end > $1)",
			wantArgs: []any{int64(10)},
		},
		{
			name:     "conjunction with sqlite placeholders",
			expr:     expr.And{expr.Eq(storage.ColType, 1), expr.Eq(storage.ColCancelled, false)},
			dialect:  SQLite,
			wantSQL:  "((r.type = ?) AND (r.cancelled = ?))",
			wantArgs: []any{int64(1), false},
		},
		{
			name:     "negation is two-valued",
			expr:     expr.Not{X: expr.Eq(storage.ColTimeZone, "UTC")},
			dialect:  Postgres,
			wantSQL:  "NOT COALESCE((r.time_zone = $1), FALSE)",
			wantArgs: []any{"UTC"},
		},
		{
			name:    "empty disjunction",
			expr:    expr.Or{},
			dialect: SQLite,
			wantSQL: "FALSE",
		},
		{
			name:    "null check",
			expr:    expr.IsNull{Field: storage.ColMovedStart},
			dialect: SQLite,
			wantSQL: "r.moved_start IS NULL",
		},
		{
			name:     "in keeps matching kinds",
			expr:     expr.In(storage.ColDayOfMonth, 1, "x", 15, nil),
			dialect:  Postgres,
			wantSQL:  "(r.day_of_month IN ($1, $2))",
			wantArgs: []any{int64(1), int64(15)},
		},
		{
			name:    "kind mismatch is false",
			expr:    expr.Eq(storage.ColTimeZone, 3),
			dialect: Postgres,
			wantSQL: "FALSE",
		},
		{
			name:    "ordering booleans is false",
			expr:    expr.Lt(storage.ColSunday, true),
			dialect: Postgres,
			wantSQL: "FALSE",
		},
		{
			name: "floored modulo",
			expr: expr.Compare(
				expr.Mod(expr.Minus(expr.V(int64(100)), expr.Field(storage.ColIntervalAnchor)), expr.Field(storage.ColIntervalMinutes)),
				expr.OpLt,
				expr.Field(storage.ColDuration)),
			dialect: SQLite,
			wantSQL:  "((((((((?) - (r.interval_anchor)))) % NULLIF((r.interval_minutes), 0)) + NULLIF((r.interval_minutes), 0)) % NULLIF((r.interval_minutes), 0)) < r.duration_minutes)",
			wantArgs: []any{int64(100)},
		},
		{
			name:     "data field in postgres",
			expr:     expr.Ge(storage.DataPrefix+"priority", 3),
			dialect:  Postgres,
			wantSQL:  "((CASE WHEN jsonb_typeof(r.data_fields->'priority') = 'number' THEN (r.data_fields->>'priority')::numeric END) >= $1)",
			wantArgs: []any{int64(3)},
		},
		{
			name:     "data field in sqlite",
			expr:     expr.Eq(storage.DataPrefix+"title", "standup"),
			dialect:  SQLite,
			wantSQL:  "((CASE WHEN json_type(r.data_fields, '$.title') IN ('text') THEN json_extract(r.data_fields, '$.title') END) = ?)",
			wantArgs: []any{"standup"},
		},
		{
			name:     "parent relation",
			expr:     storage.ParentMatch(expr.Eq(storage.DataPrefix+"done", true)),
			dialect:  SQLite,
			wantSQL:  "EXISTS (SELECT 1 FROM records p1 WHERE p1.type = 2 AND p1.id = r.recurrent_event_id AND ((CASE WHEN json_type(p1.data_fields, '$.done') IN ('true', 'false') THEN json_extract(p1.data_fields, '$.done') END) = ?))",
			wantArgs: []any{true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := Compile(tt.expr, tt.dialect)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		expr    expr.Expr
		wantErr error
	}{
		{"unknown column", expr.Eq("colour", "red"), expr.ErrUnknownField},
		{"unknown relation", expr.Related{Relation: "child", X: expr.Const(true)}, expr.ErrUnsupported},
		{"untyped data comparison", expr.Compare(expr.Field("data.a"), expr.OpEq, expr.Field("data.b")), expr.ErrUnsupported},
		{"unsafe data field", expr.Eq("data.a'b", 1), expr.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Compile(tt.expr, Postgres)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFieldValues(t *testing.T) {
	type note struct {
		Title string
		Due   time.Time
		Tags  []string
	}
	fields := expr.Fields[note]{
		"title": func(n note) any { return n.Title },
		"due":   func(n note) any { return n.Due },
		"tags":  func(n note) any { return n.Tags },
	}

	due := time.Date(2024, time.March, 1, 9, 30, 0, 0, time.FixedZone("X", 3600))
	got := FieldValues(&note{Title: "a", Due: due, Tags: []string{"x"}}, fields)
	assert.Equal(t, map[string]any{
		"title": "a",
		"due":   "2024-03-01T08:30:00.000000000Z",
	}, got)

	assert.Empty(t, FieldValues[note](nil, fields))
}

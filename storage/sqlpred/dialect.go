package sqlpred

import "fmt"

// Postgres targets PostgreSQL with FieldsColumn stored as jsonb
var Postgres Dialect = postgres{}

// SQLite targets SQLite with FieldsColumn stored as JSON text
var SQLite Dialect = sqlite{}

type postgres struct{}

func (postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgres) JSONField(column, key string, kind Kind) string {
	switch kind {
	case KindNumber:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s->'%[2]s') = 'number' THEN (%[1]s->>'%[2]s')::numeric END)", column, key)
	case KindText:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s->'%[2]s') = 'string' THEN %[1]s->>'%[2]s' END)", column, key)
	case KindBool:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%[1]s->'%[2]s') = 'boolean' THEN (%[1]s->>'%[2]s')::boolean END)", column, key)
	}
	return fmt.Sprintf("(%s->'%s')", column, key)
}

type sqlite struct{}

func (sqlite) Placeholder(int) string { return "?" }

func (sqlite) JSONField(column, key string, kind Kind) string {
	path := fmt.Sprintf("'$.%s'", key)
	var types string
	switch kind {
	case KindNumber:
		types = "'integer', 'real'"
	case KindText:
		types = "'text'"
	case KindBool:
		types = "'true', 'false'"
	default:
		return fmt.Sprintf("json_extract(%s, %s)", column, path)
	}
	return fmt.Sprintf("(CASE WHEN json_type(%[1]s, %[2]s) IN (%[3]s) THEN json_extract(%[1]s, %[2]s) END)", column, path, types)
}

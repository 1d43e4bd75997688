// Package sqlpred compiles expr trees over the record columns into SQL WHERE
// clauses. Compiled clauses select exactly the records storage.Matches
// accepts in process, nulls and type mismatches included.
package sqlpred

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cyp0633/librecur/expr"
	"github.com/cyp0633/librecur/storage"
)

// Table is the record table both SQL stores use
const Table = "records"

// Alias is the alias of the record table in compiled clauses
const Alias = "r"

// FieldsColumn holds the data accessor values as a JSON object, so that data
// predicates can be evaluated without decoding the payload
const FieldsColumn = "data_fields"

// TimeLayout renders time values in FieldsColumn and in arguments compared
// against them. Fixed width keeps text order equal to time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Kind is the SQL type a comparison is evaluated in
type Kind int

const (
	KindUnknown Kind = iota
	KindNumber
	KindText
	KindBool
)

// Dialect renders the parts of a clause that differ between databases
type Dialect interface {
	// Placeholder returns the n-th (1-based) bind parameter
	Placeholder(n int) string
	// JSONField extracts key from the JSON object in column as kind, or NULL
	// when the stored value has another JSON type
	JSONField(column, key string, kind Kind) string
}

var columnKinds = func() map[string]Kind {
	kinds := make(map[string]Kind, len(storage.Columns))
	for _, c := range storage.Columns {
		kinds[c] = KindNumber
	}
	for _, c := range []string{storage.ColID, storage.ColRecurrentEventID, storage.ColTimeZone} {
		kinds[c] = KindText
	}
	for _, c := range append(storage.WeekdayColumns[:], storage.ColCancelled) {
		kinds[c] = KindBool
	}
	return kinds
}()

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile renders e as a WHERE clause over Table aliased as Alias. A nil
// expression is TRUE.
func Compile(e expr.Expr, d Dialect) (string, []any, error) {
	c := &compiler{dialect: d}
	if err := c.expr(e, Alias); err != nil {
		return "", nil, err
	}
	return c.sql.String(), c.args, nil
}

type compiler struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
	depth   int
}

func (c *compiler) bind(v any) {
	c.args = append(c.args, v)
	c.sql.WriteString(c.dialect.Placeholder(len(c.args)))
}

func (c *compiler) expr(e expr.Expr, alias string) error {
	switch v := e.(type) {
	case nil:
		c.sql.WriteString("TRUE")
	case expr.Const:
		if v {
			c.sql.WriteString("TRUE")
		} else {
			c.sql.WriteString("FALSE")
		}
	case expr.And:
		return c.list(v, " AND ", "TRUE", alias)
	case expr.Or:
		return c.list(v, " OR ", "FALSE", alias)
	case expr.Not:
		// A NULL operand counts as false in process, so its negation is true
		c.sql.WriteString("NOT COALESCE(")
		if err := c.expr(v.X, alias); err != nil {
			return err
		}
		c.sql.WriteString(", FALSE)")
	case expr.IsNull:
		col, err := c.column(v.Field, alias, KindUnknown)
		if err != nil {
			return err
		}
		c.sql.WriteString(col + " IS NULL")
	case expr.Cmp:
		return c.cmp(v, alias)
	case expr.Related:
		return c.related(v, alias)
	default:
		return fmt.Errorf("%w: %T", expr.ErrUnsupported, e)
	}
	return nil
}

func (c *compiler) list(xs []expr.Expr, sep, empty, alias string) error {
	if len(xs) == 0 {
		c.sql.WriteString(empty)
		return nil
	}
	c.sql.WriteString("(")
	for i, x := range xs {
		if i > 0 {
			c.sql.WriteString(sep)
		}
		if err := c.expr(x, alias); err != nil {
			return err
		}
	}
	c.sql.WriteString(")")
	return nil
}

func (c *compiler) related(r expr.Related, alias string) error {
	if r.Relation != storage.RelParent {
		return fmt.Errorf("%w: relation %q", expr.ErrUnsupported, r.Relation)
	}
	c.depth++
	parent := fmt.Sprintf("p%d", c.depth)
	fmt.Fprintf(&c.sql, "EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = %d AND %s.%s = %s.%s AND ",
		Table, parent,
		parent, storage.ColType, int(storage.RecurrentDefinition),
		parent, storage.ColID, alias, storage.ColRecurrentEventID)
	if err := c.expr(r.X, parent); err != nil {
		return err
	}
	c.sql.WriteString(")")
	return nil
}

func (c *compiler) cmp(v expr.Cmp, alias string) error {
	kind, err := c.kindOf(v.Left)
	if err != nil {
		return err
	}
	if kind == KindUnknown {
		if kind, err = c.kindOf(v.Right); err != nil {
			return err
		}
	}
	if kind == KindUnknown {
		return fmt.Errorf("%w: cannot infer the type of %s", expr.ErrUnsupported, expr.String(v))
	}

	if v.Op == expr.OpIn {
		return c.in(v, kind, alias)
	}
	if !c.compatible(v.Left, kind) || !c.compatible(v.Right, kind) {
		c.sql.WriteString("FALSE")
		return nil
	}
	// Only equality is defined on booleans
	if kind == KindBool && v.Op != expr.OpEq && v.Op != expr.OpNe {
		c.sql.WriteString("FALSE")
		return nil
	}

	c.sql.WriteString("(")
	if err := c.term(v.Left, kind, alias); err != nil {
		return err
	}
	c.sql.WriteString(" " + v.Op.String() + " ")
	if err := c.term(v.Right, kind, alias); err != nil {
		return err
	}
	c.sql.WriteString(")")
	return nil
}

func (c *compiler) in(v expr.Cmp, kind Kind, alias string) error {
	list, ok := v.Right.(expr.Value)
	if !ok {
		return fmt.Errorf("%w: IN needs a literal list", expr.ErrUnsupported)
	}
	items, _ := list.V.([]any)
	var keep []any
	for _, item := range items {
		if val, k := literal(item); k == kind && val != nil {
			keep = append(keep, val)
		}
	}
	if len(keep) == 0 || !c.compatible(v.Left, kind) {
		c.sql.WriteString("FALSE")
		return nil
	}

	c.sql.WriteString("(")
	if err := c.term(v.Left, kind, alias); err != nil {
		return err
	}
	c.sql.WriteString(" IN (")
	for i, item := range keep {
		if i > 0 {
			c.sql.WriteString(", ")
		}
		c.bind(item)
	}
	c.sql.WriteString("))")
	return nil
}

// kindOf returns the kind a term evaluates to, unknown for data fields
func (c *compiler) kindOf(t expr.Term) (Kind, error) {
	switch v := t.(type) {
	case expr.Field:
		if strings.HasPrefix(string(v), storage.DataPrefix) {
			return KindUnknown, nil
		}
		kind, ok := columnKinds[string(v)]
		if !ok {
			return KindUnknown, fmt.Errorf("%w: %s", expr.ErrUnknownField, v)
		}
		return kind, nil
	case expr.Value:
		if list, ok := v.V.([]any); ok {
			for _, item := range list {
				if _, k := literal(item); k != KindUnknown {
					return k, nil
				}
			}
			return KindUnknown, nil
		}
		_, k := literal(v.V)
		return k, nil
	case expr.Arith:
		return KindNumber, nil
	}
	return KindUnknown, fmt.Errorf("%w: term %T", expr.ErrUnsupported, t)
}

// compatible reports whether t can evaluate to kind. Mismatches are false
// in process.
func (c *compiler) compatible(t expr.Term, kind Kind) bool {
	switch v := t.(type) {
	case expr.Field:
		if strings.HasPrefix(string(v), storage.DataPrefix) {
			return true
		}
		return columnKinds[string(v)] == kind
	case expr.Value:
		if _, ok := v.V.([]any); ok {
			return true
		}
		_, k := literal(v.V)
		return k == kind
	case expr.Arith:
		return kind == KindNumber
	}
	return false
}

func (c *compiler) term(t expr.Term, kind Kind, alias string) error {
	switch v := t.(type) {
	case expr.Field:
		col, err := c.column(string(v), alias, kind)
		if err != nil {
			return err
		}
		c.sql.WriteString(col)
	case expr.Value:
		val, _ := literal(v.V)
		c.bind(val)
	case expr.Arith:
		return c.arith(v, alias)
	default:
		return fmt.Errorf("%w: term %T", expr.ErrUnsupported, t)
	}
	return nil
}

func (c *compiler) arith(a expr.Arith, alias string) error {
	operand := func(t expr.Term) error {
		c.sql.WriteString("(")
		err := c.term(t, KindNumber, alias)
		c.sql.WriteString(")")
		return err
	}
	switch a.Op {
	case expr.ArithAdd, expr.ArithSub:
		c.sql.WriteString("(")
		if err := operand(a.Left); err != nil {
			return err
		}
		c.sql.WriteString(" " + a.Op.String() + " ")
		if err := operand(a.Right); err != nil {
			return err
		}
		c.sql.WriteString(")")
	case expr.ArithMod:
		// Floored modulo; a zero divisor yields NULL
		divisor := func() error {
			c.sql.WriteString("NULLIF(")
			err := operand(a.Right)
			c.sql.WriteString(", 0)")
			return err
		}
		c.sql.WriteString("((((")
		if err := operand(a.Left); err != nil {
			return err
		}
		c.sql.WriteString(") % ")
		if err := divisor(); err != nil {
			return err
		}
		c.sql.WriteString(") + ")
		if err := divisor(); err != nil {
			return err
		}
		c.sql.WriteString(") % ")
		if err := divisor(); err != nil {
			return err
		}
		c.sql.WriteString(")")
	default:
		return fmt.Errorf("%w: %s", expr.ErrUnsupported, a.Op)
	}
	return nil
}

func (c *compiler) column(name, alias string, kind Kind) (string, error) {
	if field, ok := strings.CutPrefix(name, storage.DataPrefix); ok {
		if !fieldName.MatchString(field) {
			return "", fmt.Errorf("%w: invalid data field name %q", expr.ErrUnsupported, field)
		}
		return c.dialect.JSONField(alias+"."+FieldsColumn, field, kind), nil
	}
	if _, ok := columnKinds[name]; !ok {
		return "", fmt.Errorf("%w: %s", expr.ErrUnknownField, name)
	}
	return alias + "." + name, nil
}

// literal converts a value to its bind argument and kind
func literal(v any) (any, Kind) {
	switch x := expr.Normalize(v).(type) {
	case int64, float64:
		return x, KindNumber
	case string:
		return x, KindText
	case bool:
		return x, KindBool
	case time.Time:
		return x.UTC().Format(TimeLayout), KindText
	}
	return nil, KindUnknown
}

// FieldValues evaluates the accessors of fields on data for FieldsColumn.
// Values that cannot be compared in SQL are left out.
func FieldValues[D any](data *D, fields expr.Fields[D]) map[string]any {
	out := make(map[string]any, len(fields))
	if data == nil {
		return out
	}
	for name, get := range fields {
		if val, kind := literal(get(*data)); kind != KindUnknown {
			out[name] = val
		}
	}
	return out
}

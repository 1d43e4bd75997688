// Package expr is a small boolean expression language over named fields.
//
// Expressions are plain data: the same tree is evaluated in process against a
// Resolver and compiled to SQL by storage/sqlpred.
package expr

import (
	"fmt"
	"strings"
)

// Expr is a boolean expression node
type Expr interface {
	isExpr()
}

// Term is a value-producing node used as a comparison operand
type Term interface {
	isTerm()
}

// Op is a comparison operator
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn // right operand is a Value holding []any
)

var opSymbols = map[Op]string{
	OpEq: "=",
	OpNe: "<>",
	OpLt: "<",
	OpLe: "<=",
	OpGt: ">",
	OpGe: ">=",
	OpIn: "IN",
}

func (o Op) String() string {
	if s, ok := opSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ArithOp is an integer arithmetic operator
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMod // floored modulo, the result has the sign of the divisor
)

func (o ArithOp) String() string {
	switch o {
	case ArithAdd:
		return "+"
	case ArithSub:
		return "-"
	case ArithMod:
		return "mod"
	}
	return fmt.Sprintf("arith(%d)", int(o))
}

// Const is a literal true or false
type Const bool

// And is true when every child is true. An empty And is true.
type And []Expr

// Or is true when any child is true. An empty Or is false.
type Or []Expr

// Not negates X
type Not struct {
	X Expr
}

// IsNull is true when the field has no value
type IsNull struct {
	Field string
}

// Cmp compares two terms. A comparison involving a null operand is false.
type Cmp struct {
	Left  Term
	Op    Op
	Right Term
}

// Related evaluates X against the entity reachable through the named
// relation. It is false when the relation does not resolve.
type Related struct {
	Relation string
	X        Expr
}

// Field references a named field
type Field string

// Value is a literal operand
type Value struct {
	V any
}

// Arith combines two integer terms
type Arith struct {
	Op    ArithOp
	Left  Term
	Right Term
}

func (Const) isExpr()   {}
func (And) isExpr()     {}
func (Or) isExpr()      {}
func (Not) isExpr()     {}
func (IsNull) isExpr()  {}
func (Cmp) isExpr()     {}
func (Related) isExpr() {}

func (Field) isTerm() {}
func (Value) isTerm() {}
func (Arith) isTerm() {}

// V wraps a literal
func V(v any) Value { return Value{V: v} }

func cmp(field string, op Op, v any) Cmp {
	return Cmp{Left: Field(field), Op: op, Right: Value{V: v}}
}

func Eq(field string, v any) Cmp { return cmp(field, OpEq, v) }
func Ne(field string, v any) Cmp { return cmp(field, OpNe, v) }
func Lt(field string, v any) Cmp { return cmp(field, OpLt, v) }
func Le(field string, v any) Cmp { return cmp(field, OpLe, v) }
func Gt(field string, v any) Cmp { return cmp(field, OpGt, v) }
func Ge(field string, v any) Cmp { return cmp(field, OpGe, v) }

// In matches when the field equals one of values
func In(field string, values ...any) Cmp {
	return cmp(field, OpIn, values)
}

// Compare builds a comparison between arbitrary terms
func Compare(left Term, op Op, right Term) Cmp {
	return Cmp{Left: left, Op: op, Right: right}
}

func Plus(a, b Term) Arith  { return Arith{Op: ArithAdd, Left: a, Right: b} }
func Minus(a, b Term) Arith { return Arith{Op: ArithSub, Left: a, Right: b} }
func Mod(a, b Term) Arith   { return Arith{Op: ArithMod, Left: a, Right: b} }

// NotNull is true when the field has a value
func NotNull(field string) Expr {
	return Not{X: IsNull{Field: field}}
}

// AllOf builds a flattened conjunction, folding constants
func AllOf(xs ...Expr) Expr {
	out := make(And, 0, len(xs))
	for _, x := range xs {
		switch v := x.(type) {
		case nil:
			continue
		case Const:
			if !v {
				return Const(false)
			}
		case And:
			out = append(out, v...)
		default:
			out = append(out, x)
		}
	}
	switch len(out) {
	case 0:
		return Const(true)
	case 1:
		return out[0]
	}
	return out
}

// AnyOf builds a flattened disjunction, folding constants
func AnyOf(xs ...Expr) Expr {
	out := make(Or, 0, len(xs))
	for _, x := range xs {
		switch v := x.(type) {
		case nil:
			continue
		case Const:
			if v {
				return Const(true)
			}
		case Or:
			out = append(out, v...)
		default:
			out = append(out, x)
		}
	}
	switch len(out) {
	case 0:
		return Const(false)
	case 1:
		return out[0]
	}
	return out
}

// Prefix re-roots every field reference under prefix, so "title" becomes
// "data.title" for prefix "data.".
func Prefix(e Expr, prefix string) Expr {
	return mapFields(e, func(f string) string { return prefix + f })
}

func mapFields(e Expr, fn func(string) string) Expr {
	switch v := e.(type) {
	case And:
		out := make(And, len(v))
		for i, c := range v {
			out[i] = mapFields(c, fn)
		}
		return out
	case Or:
		out := make(Or, len(v))
		for i, c := range v {
			out[i] = mapFields(c, fn)
		}
		return out
	case Not:
		return Not{X: mapFields(v.X, fn)}
	case IsNull:
		return IsNull{Field: fn(v.Field)}
	case Cmp:
		return Cmp{Left: mapTerm(v.Left, fn), Op: v.Op, Right: mapTerm(v.Right, fn)}
	case Related:
		return Related{Relation: v.Relation, X: mapFields(v.X, fn)}
	}
	return e
}

func mapTerm(t Term, fn func(string) string) Term {
	switch v := t.(type) {
	case Field:
		return Field(fn(string(v)))
	case Arith:
		return Arith{Op: v.Op, Left: mapTerm(v.Left, fn), Right: mapTerm(v.Right, fn)}
	}
	return t
}

// FieldNames lists the distinct fields referenced outside Related nodes
func FieldNames(e Expr) []string {
	seen := map[string]bool{}
	var names []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			names = append(names, f)
		}
	}
	var walkTerm func(Term)
	walkTerm = func(t Term) {
		switch v := t.(type) {
		case Field:
			add(string(v))
		case Arith:
			walkTerm(v.Left)
			walkTerm(v.Right)
		}
	}
	var walk func(Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case And:
			for _, c := range v {
				walk(c)
			}
		case Or:
			for _, c := range v {
				walk(c)
			}
		case Not:
			walk(v.X)
		case IsNull:
			add(v.Field)
		case Cmp:
			walkTerm(v.Left)
			walkTerm(v.Right)
		}
	}
	walk(e)
	return names
}

// String renders the expression for logs
func String(e Expr) string {
	var b strings.Builder
	writeExpr(&b, e)
	return b.String()
}

func writeExpr(b *strings.Builder, e Expr) {
	switch v := e.(type) {
	case nil:
		b.WriteString("<nil>")
	case Const:
		fmt.Fprintf(b, "%t", bool(v))
	case And:
		writeList(b, " AND ", []Expr(v))
	case Or:
		writeList(b, " OR ", []Expr(v))
	case Not:
		b.WriteString("NOT ")
		writeExpr(b, v.X)
	case IsNull:
		fmt.Fprintf(b, "%s IS NULL", v.Field)
	case Cmp:
		writeTerm(b, v.Left)
		fmt.Fprintf(b, " %s ", v.Op)
		writeTerm(b, v.Right)
	case Related:
		fmt.Fprintf(b, "%s(", v.Relation)
		writeExpr(b, v.X)
		b.WriteString(")")
	}
}

func writeList(b *strings.Builder, sep string, xs []Expr) {
	b.WriteString("(")
	for i, x := range xs {
		if i > 0 {
			b.WriteString(sep)
		}
		writeExpr(b, x)
	}
	b.WriteString(")")
}

func writeTerm(b *strings.Builder, t Term) {
	switch v := t.(type) {
	case Field:
		b.WriteString(string(v))
	case Value:
		fmt.Fprintf(b, "%#v", v.V)
	case Arith:
		b.WriteString("(")
		writeTerm(b, v.Left)
		fmt.Fprintf(b, " %s ", v.Op)
		writeTerm(b, v.Right)
		b.WriteString(")")
	}
}

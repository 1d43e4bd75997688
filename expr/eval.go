package expr

import (
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrUnknownField is returned when an expression references a field the
	// resolver does not know
	ErrUnknownField = errors.New("unknown field")
	// ErrUnsupported is returned for nodes a resolver cannot evaluate
	ErrUnsupported = errors.New("unsupported expression")
)

// Resolver supplies field values during evaluation. A known field without a
// value resolves to nil.
type Resolver interface {
	Lookup(field string) (any, bool)
}

// RelatedResolver additionally resolves named relations for Related nodes
type RelatedResolver interface {
	Resolver
	Related(relation string) (Resolver, bool)
}

// Eval evaluates e against r. Comparisons between values of different
// types, or involving a null, are false.
func Eval(e Expr, r Resolver) (bool, error) {
	switch v := e.(type) {
	case nil:
		return true, nil
	case Const:
		return bool(v), nil
	case And:
		for _, c := range v {
			ok, err := Eval(c, r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, c := range v {
			ok, err := Eval(c, r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Not:
		ok, err := Eval(v.X, r)
		return !ok, err
	case IsNull:
		val, err := lookup(r, v.Field)
		return val == nil, err
	case Cmp:
		left, err := evalTerm(v.Left, r)
		if err != nil {
			return false, err
		}
		right, err := evalTerm(v.Right, r)
		if err != nil {
			return false, err
		}
		return compare(left, v.Op, right), nil
	case Related:
		rr, ok := r.(RelatedResolver)
		if !ok {
			return false, fmt.Errorf("%w: relation %q", ErrUnsupported, v.Relation)
		}
		target, found := rr.Related(v.Relation)
		if !found {
			return false, nil
		}
		return Eval(v.X, target)
	}
	return false, fmt.Errorf("%w: %T", ErrUnsupported, e)
}

func lookup(r Resolver, field string) (any, error) {
	val, ok := r.Lookup(field)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return Normalize(val), nil
}

func evalTerm(t Term, r Resolver) (any, error) {
	switch v := t.(type) {
	case Field:
		return lookup(r, string(v))
	case Value:
		if list, ok := v.V.([]any); ok {
			out := make([]any, len(list))
			for i, item := range list {
				out[i] = Normalize(item)
			}
			return out, nil
		}
		return Normalize(v.V), nil
	case Arith:
		left, err := evalTerm(v.Left, r)
		if err != nil {
			return nil, err
		}
		right, err := evalTerm(v.Right, r)
		if err != nil {
			return nil, err
		}
		return arith(v.Op, left, right), nil
	}
	return nil, fmt.Errorf("%w: term %T", ErrUnsupported, t)
}

func arith(op ArithOp, left, right any) any {
	a, ok := left.(int64)
	if !ok {
		return nil
	}
	b, ok := right.(int64)
	if !ok {
		return nil
	}
	switch op {
	case ArithAdd:
		return a + b
	case ArithSub:
		return a - b
	case ArithMod:
		if b == 0 {
			return nil
		}
		return ((a % b) + b) % b
	}
	return nil
}

// Normalize maps Go values onto the small set of kinds evaluation compares:
// int64, float64, string, bool, time.Time and nil. Pointers are dereferenced
// and fmt.Stringer values such as UUIDs become strings.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64, float64, string, bool, time.Time:
		return x
	case int:
		return int64(x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	}
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func compare(left any, op Op, right any) bool {
	if left == nil || right == nil {
		return false
	}
	if op == OpIn {
		list, ok := right.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if item != nil && compare(left, OpEq, item) {
				return true
			}
		}
		return false
	}

	if a, isBool := left.(bool); isBool {
		b, ok := right.(bool)
		switch {
		case !ok:
			return false
		case op == OpEq:
			return a == b
		case op == OpNe:
			return a != b
		}
		return false
	}

	c, ok := order(left, right)
	if !ok {
		return false
	}
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// order returns -1, 0 or 1 for comparable values of the same kind
func order(left, right any) (int, bool) {
	switch a := left.(type) {
	case int64:
		switch b := right.(type) {
		case int64:
			return cmp3(a, b), true
		case float64:
			return cmp3(float64(a), b), true
		}
	case float64:
		switch b := right.(type) {
		case int64:
			return cmp3(a, float64(b)), true
		case float64:
			return cmp3(a, b), true
		}
	case string:
		if b, ok := right.(string); ok {
			return cmp3(a, b), true
		}
	case time.Time:
		if b, ok := right.(time.Time); ok {
			return a.Compare(b), true
		}
	}
	return 0, false
}

func cmp3[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

package expr

import (
	"fmt"
	"strings"
)

// Fields maps field names to accessors on the data type D
type Fields[D any] map[string]func(D) any

// Names returns the field names in no particular order
func (f Fields[D]) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	return names
}

// Predicate is a compiled expression over bare data
type Predicate[D any] func(D) bool

// True accepts everything
func True[D any]() Predicate[D] {
	return func(D) bool { return true }
}

// Compile checks e against fields and returns a predicate over D. A nil
// expression compiles to a predicate that accepts everything.
func Compile[D any](e Expr, fields Fields[D]) (Predicate[D], error) {
	if e == nil {
		return True[D](), nil
	}
	if err := Check(e, fields); err != nil {
		return nil, err
	}
	return func(d D) bool {
		ok, err := Eval(e, dataResolver[D]{data: d, fields: fields})
		return err == nil && ok
	}, nil
}

// Check verifies that every field e references exists and that e contains
// no relation nodes, which bare data cannot resolve.
func Check[D any](e Expr, fields Fields[D]) error {
	if hasRelated(e) {
		return fmt.Errorf("%w: relations cannot be evaluated against bare data", ErrUnsupported)
	}
	var unknown []string
	for _, name := range FieldNames(e) {
		if _, ok := fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(unknown, ", "))
	}
	return nil
}

func hasRelated(e Expr) bool {
	switch v := e.(type) {
	case Related:
		return true
	case And:
		for _, c := range v {
			if hasRelated(c) {
				return true
			}
		}
	case Or:
		for _, c := range v {
			if hasRelated(c) {
				return true
			}
		}
	case Not:
		return hasRelated(v.X)
	}
	return false
}

type dataResolver[D any] struct {
	data   D
	fields Fields[D]
}

func (r dataResolver[D]) Lookup(field string) (any, bool) {
	get, ok := r.fields[field]
	if !ok {
		return nil, false
	}
	return get(r.data), true
}

// Resolve returns a resolver evaluating field names directly against data.
// With a prefix, only names carrying it are resolved and the prefix is
// stripped first.
func Resolve[D any](data *D, fields Fields[D], prefix string) Resolver {
	return prefixResolver[D]{data: data, fields: fields, prefix: prefix}
}

type prefixResolver[D any] struct {
	data   *D
	fields Fields[D]
	prefix string
}

func (r prefixResolver[D]) Lookup(field string) (any, bool) {
	name, ok := strings.CutPrefix(field, r.prefix)
	if !ok {
		return nil, false
	}
	get, ok := r.fields[name]
	if !ok {
		return nil, false
	}
	if r.data == nil {
		return nil, true
	}
	return get(*r.data), true
}

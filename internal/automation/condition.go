package automation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Condition gates a rule. An error aborts that rule only.
type Condition interface {
	Evaluate(c Context) (bool, error)
}

// ConditionFunc adapts a Go function.
type ConditionFunc func(c Context) (bool, error)

func (f ConditionFunc) Evaluate(c Context) (bool, error) { return f(c) }

// Predicate adapts an infallible predicate.
func Predicate(fn func(c Context) bool) Condition {
	return ConditionFunc(func(c Context) (bool, error) { return fn(c), nil })
}

// Op is a comparison operator of a declarative clause.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpExists   Op = "exists"
	OpMissing  Op = "missing"
	OpContains Op = "contains"
)

var opAliases = map[string]Op{
	"==": OpEq, "=": OpEq, "!=": OpNe,
	">": OpGt, ">=": OpGte, "<": OpLt, "<=": OpLte,
	"nin": OpNotIn,
}

var errNotComparable = errors.New("values are not comparable")

// Clause is a single field/op/value predicate over the context.
type Clause struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Expr is a declarative condition. All clauses in All must hold and, when Any
// is non-empty, at least one of Any must hold. An empty Expr is true.
type Expr struct {
	All []Clause `json:"all,omitempty"`
	Any []Clause `json:"any,omitempty"`
}

// Where builds an Expr with a single clause.
func Where(field string, op Op, value any) Expr {
	return Expr{All: []Clause{{Field: field, Op: op, Value: value}}}
}

func (e Expr) Validate() error {
	for _, group := range [][]Clause{e.All, e.Any} {
		for i := range group {
			if err := group[i].validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e Expr) Evaluate(c Context) (bool, error) {
	for _, cl := range e.All {
		ok, err := cl.Evaluate(c)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(e.Any) == 0 {
		return true, nil
	}
	for _, cl := range e.Any {
		ok, err := cl.Evaluate(c)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func normalizeOp(op Op) Op {
	s := strings.ToLower(strings.TrimSpace(string(op)))
	if a, ok := opAliases[s]; ok {
		return a
	}
	return Op(s)
}

func (cl Clause) validate() error {
	if strings.TrimSpace(cl.Field) == "" {
		return errors.New("clause field is required")
	}
	switch normalizeOp(cl.Op) {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpExists, OpMissing, OpContains:
		return nil
	case OpIn, OpNotIn:
		if _, ok := listOf(cl.Value); !ok {
			return fmt.Errorf("clause %q: %s needs a list value", cl.Field, cl.Op)
		}
		return nil
	}
	return fmt.Errorf("clause %q: unknown op %q", cl.Field, cl.Op)
}

// Evaluate applies the clause. Ordering ops on a missing field are false;
// ordering ops across incompatible types are an error.
func (cl Clause) Evaluate(c Context) (bool, error) {
	got, present := c[cl.Field]
	present = present && got != nil

	switch op := normalizeOp(cl.Op); op {
	case OpExists:
		return present, nil
	case OpMissing:
		return !present, nil
	case OpEq:
		return present && equal(got, cl.Value), nil
	case OpNe:
		return !present || !equal(got, cl.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false, nil
		}
		cmp, err := compare(got, cl.Value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", cl.Field, err)
		}
		switch op {
		case OpGt:
			return cmp > 0, nil
		case OpGte:
			return cmp >= 0, nil
		case OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case OpIn, OpNotIn:
		list, ok := listOf(cl.Value)
		if !ok {
			return false, fmt.Errorf("field %q: %s needs a list value", cl.Field, op)
		}
		found := false
		if present {
			for _, v := range list {
				if equal(got, v) {
					found = true
					break
				}
			}
		}
		if op == OpIn {
			return found, nil
		}
		return !found, nil
	case OpContains:
		return present && strings.Contains(fmt.Sprint(got), fmt.Sprint(cl.Value)), nil
	default:
		return false, fmt.Errorf("field %q: unknown op %q", cl.Field, cl.Op)
	}
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(a, b any) (int, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	if at, ok := toTime(a); ok {
		if bt, ok := toTime(b); ok {
			return at.Compare(bt), nil
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("%w: %T vs %T", errNotComparable, a, b)
}

func listOf(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

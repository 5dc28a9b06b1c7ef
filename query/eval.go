package query

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tinydb-go/tinydb/bson"
)

// ErrUnknownFunction is wrapped by EvaluateValue when a Call names a
// function the dispatcher has no implementation for.
var ErrUnknownFunction = errors.New("query: unknown function")

// errBadConvert is the evaluation-time failure of a Convert node; the
// enclosing comparison treats it as a non-match.
var errBadConvert = errors.New("query: conversion failed")

// Evaluate applies expr to doc. A nil expr matches everything.
func Evaluate(expr Expr, doc *bson.Document) bool {
	if expr == nil {
		return true
	}
	switch e := expr.(type) {
	case FieldCmp:
		return evalFieldCmp(e, doc)
	case Cmp:
		l, err := EvaluateValue(e.Left, doc)
		if err != nil {
			return false
		}
		r, err := EvaluateValue(e.Right, doc)
		if err != nil {
			return false
		}
		return CompareOp(l, e.Op, r)
	case And:
		return Evaluate(e.Left, doc) && Evaluate(e.Right, doc)
	case Or:
		return Evaluate(e.Left, doc) || Evaluate(e.Right, doc)
	case Not:
		return !Evaluate(e.Operand, doc)
	default:
		return false
	}
}

func fieldValue(doc *bson.Document, field string) bson.Value {
	v, ok := doc.GetNested(strings.Split(field, "."))
	if !ok {
		return nil
	}
	return v
}

func evalFieldCmp(e FieldCmp, doc *bson.Document) bool {
	return CompareOp(fieldValue(doc, e.Field), e.Op, e.Value)
}

// CompareOp applies op between an actual value and a constant, using
// BSON cross-type ordering: null sorts lower than any non-null value,
// two nulls compare equal.
func CompareOp(actual bson.Value, op Op, target bson.Value) bool {
	c := bson.Compare(actual, target)
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	default:
		return false
	}
}

// EvaluateValue produces the underlying BSON value of a value
// expression against doc. doc may be nil
// only for row-independent subtrees (the builder's constant folding
// relies on that).
func EvaluateValue(v ValueExpr, doc *bson.Document) (bson.Value, error) {
	switch e := v.(type) {
	case Constant:
		return e.Value, nil
	case Member:
		if doc == nil {
			return nil, errors.New("query: member access without a row")
		}
		return fieldValue(doc, e.Path), nil
	case Arith:
		return evalArith(e, doc)
	case Call:
		return evalCall(e, doc)
	case Unary:
		return evalUnary(e, doc)
	case Cond:
		if Evaluate(e.Test, doc) {
			return EvaluateValue(e.IfTrue, doc)
		}
		return EvaluateValue(e.IfFalse, doc)
	default:
		return nil, fmt.Errorf("query: unsupported value expression %T", v)
	}
}

func evalArith(e Arith, doc *bson.Document) (bson.Value, error) {
	l, err := EvaluateValue(e.Left, doc)
	if err != nil {
		return nil, err
	}
	r, err := EvaluateValue(e.Right, doc)
	if err != nil {
		return nil, err
	}
	li, lOk := toInt64(l)
	ri, rOk := toInt64(r)
	if lOk && rOk && !isFloat(l) && !isFloat(r) {
		switch e.Op {
		case ArithAdd:
			return li + ri, nil
		case ArithSub:
			return li - ri, nil
		case ArithMul:
			return li * ri, nil
		case ArithDiv:
			if ri == 0 {
				return nil, errors.New("query: integer division by zero")
			}
			return li / ri, nil
		}
	}
	lf, lOk := toFloat64(l)
	rf, rOk := toFloat64(r)
	if !lOk || !rOk {
		return nil, fmt.Errorf("query: non-numeric operand to %v", e.Op)
	}
	switch e.Op {
	case ArithAdd:
		return lf + rf, nil
	case ArithSub:
		return lf - rf, nil
	case ArithMul:
		return lf * rf, nil
	case ArithDiv:
		return lf / rf, nil
	}
	return nil, fmt.Errorf("query: unknown arithmetic operator %d", e.Op)
}

func evalUnary(e Unary, doc *bson.Document) (bson.Value, error) {
	val, err := EvaluateValue(e.Operand, doc)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case UnaryNegate:
		if i, ok := toInt64(val); ok && !isFloat(val) {
			return -i, nil
		}
		if f, ok := toFloat64(val); ok {
			return -f, nil
		}
		return nil, errors.New("query: negate of non-numeric value")
	case UnaryArrayLength:
		switch a := val.(type) {
		case *bson.Array:
			return int64(a.Len()), nil
		case bson.Binary:
			return int64(len(a.Data)), nil
		case nil:
			return nil, nil
		}
		return nil, errors.New("query: length of non-sequence value")
	case UnaryConvert:
		return convertValue(val, e.To)
	}
	return nil, fmt.Errorf("query: unknown unary operator %d", e.Op)
}

func convertValue(val bson.Value, to ConvertType) (bson.Value, error) {
	switch to {
	case ConvertInt32:
		if i, ok := toInt64(val); ok {
			return int32(i), nil
		}
		if s, ok := val.(string); ok {
			i, err := strconv.ParseInt(s, 10, 32)
			if err != nil {
				return nil, errBadConvert
			}
			return int32(i), nil
		}
	case ConvertInt64:
		if i, ok := toInt64(val); ok {
			return i, nil
		}
		if s, ok := val.(string); ok {
			i, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, errBadConvert
			}
			return i, nil
		}
	case ConvertDouble:
		if f, ok := toFloat64(val); ok {
			return f, nil
		}
		if s, ok := val.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errBadConvert
			}
			return f, nil
		}
	case ConvertString:
		return stringify(val), nil
	}
	return nil, errBadConvert
}

// evalCall dispatches a function by receiver type: string
// methods, sequence methods, datetime methods, numeric statics (nil
// receiver), and the universal ToString.
func evalCall(e Call, doc *bson.Document) (bson.Value, error) {
	args := make([]bson.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := EvaluateValue(a, doc)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	if e.Target == nil {
		return evalStaticCall(e.Name, args)
	}
	recv, err := EvaluateValue(e.Target, doc)
	if err != nil {
		return nil, err
	}
	if e.Name == "ToString" {
		return stringify(recv), nil
	}
	switch r := recv.(type) {
	case string:
		return evalStringCall(e.Name, r, args)
	case *bson.Array:
		return evalSequenceCall(e.Name, r, args)
	case time.Time:
		return evalDateTimeCall(e.Name, r, args)
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s on %T", ErrUnknownFunction, e.Name, recv)
}

func evalStringCall(name, s string, args []bson.Value) (bson.Value, error) {
	argStr := func(i int) (string, bool) {
		if i >= len(args) {
			return "", false
		}
		v, ok := args[i].(string)
		return v, ok
	}
	argInt := func(i int) (int, bool) {
		if i >= len(args) {
			return 0, false
		}
		v, ok := toInt64(args[i])
		return int(v), ok
	}
	switch name {
	case "Contains":
		a, ok := argStr(0)
		return ok && strings.Contains(s, a), nil
	case "StartsWith":
		a, ok := argStr(0)
		return ok && strings.HasPrefix(s, a), nil
	case "EndsWith":
		a, ok := argStr(0)
		return ok && strings.HasSuffix(s, a), nil
	case "ToLower":
		return strings.ToLower(s), nil
	case "ToUpper":
		return strings.ToUpper(s), nil
	case "Trim":
		return strings.TrimSpace(s), nil
	case "Substring":
		start, ok := argInt(0)
		if !ok || start < 0 || start > len(s) {
			return nil, errBadConvert
		}
		if n, ok := argInt(1); ok {
			if start+n > len(s) {
				return nil, errBadConvert
			}
			return s[start : start+n], nil
		}
		return s[start:], nil
	case "Replace":
		from, ok1 := argStr(0)
		to, ok2 := argStr(1)
		if !ok1 || !ok2 {
			return nil, errBadConvert
		}
		return strings.ReplaceAll(s, from, to), nil
	case "Length":
		return int64(len(s)), nil
	}
	return nil, fmt.Errorf("%w: string.%s", ErrUnknownFunction, name)
}

func evalSequenceCall(name string, a *bson.Array, args []bson.Value) (bson.Value, error) {
	switch name {
	case "Contains":
		if len(args) != 1 {
			return nil, errBadConvert
		}
		for _, v := range a.Values() {
			if bson.Equal(v, args[0]) {
				return true, nil
			}
		}
		return false, nil
	case "Count", "Length":
		return int64(a.Len()), nil
	}
	return nil, fmt.Errorf("%w: sequence.%s", ErrUnknownFunction, name)
}

func evalDateTimeCall(name string, t time.Time, args []bson.Value) (bson.Value, error) {
	argFloat := func() (float64, bool) {
		if len(args) != 1 {
			return 0, false
		}
		return toFloat64(args[0])
	}
	switch name {
	case "AddDays":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.Add(time.Duration(n * 24 * float64(time.Hour))), nil
	case "AddHours":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.Add(time.Duration(n * float64(time.Hour))), nil
	case "AddMinutes":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.Add(time.Duration(n * float64(time.Minute))), nil
	case "AddSeconds":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.Add(time.Duration(n * float64(time.Second))), nil
	case "AddMonths":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.AddDate(0, int(n), 0), nil
	case "AddYears":
		n, ok := argFloat()
		if !ok {
			return nil, errBadConvert
		}
		return t.AddDate(int(n), 0, 0), nil
	case "Year":
		return int64(t.Year()), nil
	case "Month":
		return int64(t.Month()), nil
	case "Day":
		return int64(t.Day()), nil
	case "Hour":
		return int64(t.Hour()), nil
	case "Minute":
		return int64(t.Minute()), nil
	case "Second":
		return int64(t.Second()), nil
	case "DayOfWeek":
		return int64(t.Weekday()), nil
	}
	return nil, fmt.Errorf("%w: datetime.%s", ErrUnknownFunction, name)
}

func evalStaticCall(name string, args []bson.Value) (bson.Value, error) {
	argFloat := func(i int) (float64, bool) {
		if i >= len(args) {
			return 0, false
		}
		return toFloat64(args[i])
	}
	one := func() (float64, bool) {
		if len(args) != 1 {
			return 0, false
		}
		return argFloat(0)
	}
	two := func() (float64, float64, bool) {
		if len(args) != 2 {
			return 0, 0, false
		}
		a, ok1 := argFloat(0)
		b, ok2 := argFloat(1)
		return a, b, ok1 && ok2
	}
	switch name {
	case "Abs":
		if len(args) == 1 {
			if i, ok := toInt64(args[0]); ok && !isFloat(args[0]) {
				if i < 0 {
					return -i, nil
				}
				return i, nil
			}
		}
		f, ok := one()
		if !ok {
			return nil, errBadConvert
		}
		return math.Abs(f), nil
	case "Ceiling":
		f, ok := one()
		if !ok {
			return nil, errBadConvert
		}
		return math.Ceil(f), nil
	case "Floor":
		f, ok := one()
		if !ok {
			return nil, errBadConvert
		}
		return math.Floor(f), nil
	case "Round":
		f, ok := one()
		if !ok {
			return nil, errBadConvert
		}
		return math.Round(f), nil
	case "Sqrt":
		f, ok := one()
		if !ok {
			return nil, errBadConvert
		}
		return math.Sqrt(f), nil
	case "Min":
		a, b, ok := two()
		if !ok {
			return nil, errBadConvert
		}
		return math.Min(a, b), nil
	case "Max":
		a, b, ok := two()
		if !ok {
			return nil, errBadConvert
		}
		return math.Max(a, b), nil
	case "Pow":
		a, b, ok := two()
		if !ok {
			return nil, errBadConvert
		}
		return math.Pow(a, b), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

func stringify(v bson.Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bson.ObjectID:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toInt64(v bson.Value) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v bson.Value) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func isFloat(v bson.Value) bool {
	_, ok := v.(float64)
	return ok
}

// rootFieldPredicates flattens a top-level AND-only tree of FieldCmp
// leaves, for the optimizer's index scoring and the executor's scan
// pushdown. fullyPushed is false as soon as
// an Or/Not/Cmp/non-root expression is found anywhere in the tree; in
// that case leaves still collected are partial and must not be treated
// as a full pushdown.
func rootFieldPredicates(expr Expr) (leaves []FieldCmp, fullyPushed bool) {
	if expr == nil {
		return nil, true
	}
	switch e := expr.(type) {
	case FieldCmp:
		return []FieldCmp{e}, true
	case And:
		l1, ok1 := rootFieldPredicates(e.Left)
		l2, ok2 := rootFieldPredicates(e.Right)
		return append(l1, l2...), ok1 && ok2
	default:
		return nil, false
	}
}

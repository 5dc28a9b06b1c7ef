package query

import "github.com/tinydb-go/tinydb/bson"

// FieldBuilder accumulates comparisons against one document field. The
// zero value is unusable; start from Field.
type FieldBuilder struct {
	name string
}

// Field starts a predicate over a (possibly dotted, e.g. "address.zip")
// field path. A bare "Id" maps to the stored "_id" field; no camelCase
// inference is needed since Go call sites just write the field name
// they mean.
func Field(name string) FieldBuilder {
	if name == "Id" {
		name = "_id"
	}
	return FieldBuilder{name: name}
}

func (f FieldBuilder) Eq(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpEq, Value: v} }
func (f FieldBuilder) Ne(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpNe, Value: v} }
func (f FieldBuilder) Gt(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpGt, Value: v} }
func (f FieldBuilder) Gte(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpGe, Value: v} }
func (f FieldBuilder) Lt(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpLt, Value: v} }
func (f FieldBuilder) Lte(v bson.Value) Expr { return FieldCmp{Field: f.name, Op: OpLe, Value: v} }

// Value lifts the field into a value expression for computed
// predicates (arithmetic, functions, conversions).
func (f FieldBuilder) Value() ValueBuilder { return ValueBuilder{expr: Member{Path: f.name}} }

// String-function shorthands on a bare field, the common cases.
func (f FieldBuilder) Contains(s string) Expr   { return f.Value().Contains(s) }
func (f FieldBuilder) StartsWith(s string) Expr { return f.Value().StartsWith(s) }
func (f FieldBuilder) EndsWith(s string) Expr   { return f.Value().EndsWith(s) }
func (f FieldBuilder) ToLower() ValueBuilder    { return f.Value().ToLower() }
func (f FieldBuilder) ToUpper() ValueBuilder    { return f.Value().ToUpper() }

// ValueBuilder composes value expressions fluently; every method wraps
// the current expression in another IR node. Terminal comparison
// methods produce an Expr (a normalized FieldCmp when the shape allows,
// so the optimizer can still use indexes and pushdown; a general Cmp
// otherwise).
type ValueBuilder struct {
	expr ValueExpr
}

// Const wraps a literal as a value expression.
func Const(v bson.Value) ValueBuilder { return ValueBuilder{expr: Constant{Value: v}} }

// Expr exposes the built value expression.
func (b ValueBuilder) Expr() ValueExpr { return b.expr }

func (b ValueBuilder) with(e ValueExpr) ValueBuilder { return ValueBuilder{expr: fold(e)} }

func (b ValueBuilder) Add(v bson.Value) ValueBuilder {
	return b.with(Arith{Op: ArithAdd, Left: b.expr, Right: Constant{Value: v}})
}
func (b ValueBuilder) Sub(v bson.Value) ValueBuilder {
	return b.with(Arith{Op: ArithSub, Left: b.expr, Right: Constant{Value: v}})
}
func (b ValueBuilder) Mul(v bson.Value) ValueBuilder {
	return b.with(Arith{Op: ArithMul, Left: b.expr, Right: Constant{Value: v}})
}
func (b ValueBuilder) Div(v bson.Value) ValueBuilder {
	return b.with(Arith{Op: ArithDiv, Left: b.expr, Right: Constant{Value: v}})
}
func (b ValueBuilder) Negate() ValueBuilder {
	return b.with(Unary{Op: UnaryNegate, Operand: b.expr})
}
func (b ValueBuilder) ArrayLength() ValueBuilder {
	return b.with(Unary{Op: UnaryArrayLength, Operand: b.expr})
}
func (b ValueBuilder) Convert(to ConvertType) ValueBuilder {
	return b.with(Unary{Op: UnaryConvert, Operand: b.expr, To: to})
}

// Call builds an arbitrary method call on the current value; the named
// functions below cover the evaluator's dispatch table, and anything else
// surfaces ErrUnknownFunction at evaluation time.
func (b ValueBuilder) Call(name string, args ...bson.Value) ValueBuilder {
	ca := make([]ValueExpr, len(args))
	for i, a := range args {
		ca[i] = Constant{Value: a}
	}
	return b.with(Call{Name: name, Target: b.expr, Args: ca})
}

func (b ValueBuilder) ToLower() ValueBuilder          { return b.Call("ToLower") }
func (b ValueBuilder) ToUpper() ValueBuilder          { return b.Call("ToUpper") }
func (b ValueBuilder) Trim() ValueBuilder             { return b.Call("Trim") }
func (b ValueBuilder) Length() ValueBuilder           { return b.Call("Length") }
func (b ValueBuilder) Substring(args ...bson.Value) ValueBuilder { return b.Call("Substring", args...) }
func (b ValueBuilder) Replace(from, to string) ValueBuilder      { return b.Call("Replace", from, to) }
func (b ValueBuilder) ToString() ValueBuilder         { return b.Call("ToString") }
func (b ValueBuilder) AddDays(n float64) ValueBuilder { return b.Call("AddDays", n) }
func (b ValueBuilder) Year() ValueBuilder             { return b.Call("Year") }
func (b ValueBuilder) Month() ValueBuilder            { return b.Call("Month") }
func (b ValueBuilder) Day() ValueBuilder              { return b.Call("Day") }
func (b ValueBuilder) DayOfWeek() ValueBuilder        { return b.Call("DayOfWeek") }

// Static invokes a receiver-less numeric function (Abs, Ceiling, Floor,
// Round, Min, Max, Pow, Sqrt) over value-expression arguments.
func Static(name string, args ...ValueBuilder) ValueBuilder {
	ca := make([]ValueExpr, len(args))
	for i, a := range args {
		ca[i] = a.expr
	}
	return ValueBuilder{expr: fold(Call{Name: name, Args: ca})}
}

func (b ValueBuilder) Contains(s string) Expr {
	return Cmp{Op: OpEq, Left: b.Call("Contains", s).expr, Right: Constant{Value: true}}
}
func (b ValueBuilder) StartsWith(s string) Expr {
	return Cmp{Op: OpEq, Left: b.Call("StartsWith", s).expr, Right: Constant{Value: true}}
}
func (b ValueBuilder) EndsWith(s string) Expr {
	return Cmp{Op: OpEq, Left: b.Call("EndsWith", s).expr, Right: Constant{Value: true}}
}

func (b ValueBuilder) Eq(v bson.Value) Expr  { return b.cmp(OpEq, v) }
func (b ValueBuilder) Ne(v bson.Value) Expr  { return b.cmp(OpNe, v) }
func (b ValueBuilder) Gt(v bson.Value) Expr  { return b.cmp(OpGt, v) }
func (b ValueBuilder) Gte(v bson.Value) Expr { return b.cmp(OpGe, v) }
func (b ValueBuilder) Lt(v bson.Value) Expr  { return b.cmp(OpLt, v) }
func (b ValueBuilder) Lte(v bson.Value) Expr { return b.cmp(OpLe, v) }

// cmp normalizes `member op constant` back to FieldCmp — the shape the
// optimizer matches indexes against and the scan path pushes down —
// and emits a general Cmp for anything computed.
func (b ValueBuilder) cmp(op Op, v bson.Value) Expr {
	if m, ok := b.expr.(Member); ok {
		return FieldCmp{Field: m.Path, Op: op, Value: v}
	}
	return Cmp{Op: op, Left: b.expr, Right: Constant{Value: v}}
}

// CompareValues compares two computed value expressions directly.
func CompareValues(left ValueBuilder, op Op, right ValueBuilder) Expr {
	lm, lIsMember := left.expr.(Member)
	if rc, rIsConst := right.expr.(Constant); lIsMember && rIsConst {
		return FieldCmp{Field: lm.Path, Op: op, Value: rc.Value}
	}
	if lc, lIsConst := left.expr.(Constant); lIsConst {
		if rm, rIsMember := right.expr.(Member); rIsMember {
			return FieldCmp{Field: rm.Path, Op: op.flip(), Value: lc.Value}
		}
	}
	return Cmp{Op: op, Left: left.expr, Right: right.expr}
}

// All folds a list of predicates into a left-associative conjunction.
// All() with no arguments matches every document.
func All(exprs ...Expr) Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = And{Left: out, Right: e}
	}
	return out
}

// Any folds a list of predicates into a left-associative disjunction.
func Any(exprs ...Expr) Expr {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = Or{Left: out, Right: e}
	}
	return out
}

// Negate negates a predicate.
func Negate(e Expr) Expr { return Not{Operand: e} }

// Package query implements TinyDb's predicate IR, its typed and
// byte-level evaluators, the cost-based optimizer, and the four-
// strategy executor. Go has no expression trees to parse a lambda out
// of, so predicates are composed with a fluent builder: callers build
// Expr values directly instead of writing a closure a parser must
// reverse-engineer.
package query

import "github.com/tinydb-go/tinydb/bson"

// Op is a predicate comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

func (op Op) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	default:
		return "?"
	}
}

// flip returns the operator that keeps "a op b" true with its operands
// swapped (b op' a) — used by CompareValues when the constant is on the
// left.
func (op Op) flip() Op {
	switch op {
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	default:
		return op
	}
}

// ArithOp is an arithmetic operator over two value expressions.
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

// UnaryOp is a single-operand value operator.
type UnaryOp int

const (
	UnaryNegate UnaryOp = iota
	UnaryArrayLength
	UnaryConvert // target type carried on the Unary node
)

// ConvertType names the target of a UnaryConvert.
type ConvertType int

const (
	ConvertInt32 ConvertType = iota
	ConvertInt64
	ConvertDouble
	ConvertString
)

// ValueExpr is a node that produces a BSON value when evaluated against
// a row. Constant and Member are the leaves; Arith, Call, Unary, and
// Cond combine them. Any subtree the builder can prove independent of
// the row is folded to a Constant at construction time.
type ValueExpr interface{ isValueExpr() }

// Constant is a literal BSON value.
type Constant struct{ Value bson.Value }

// Member reads a (possibly dotted) field of the row document. The row
// parameter itself is implicit — a Member with no enclosing target is
// always rooted at the row.
type Member struct{ Path string }

// Arith combines two value expressions with +, -, *, or /.
type Arith struct {
	Op          ArithOp
	Left, Right ValueExpr
}

// Call invokes a named function on an optional receiver with arguments.
// Dispatch is by receiver type at evaluation time: string,
// sequence, datetime, numeric statics (nil Target), and the universal
// ToString. An unknown name is an evaluation error.
type Call struct {
	Name   string
	Target ValueExpr // nil for static functions (Abs, Min, Pow, ...)
	Args   []ValueExpr
}

// Unary applies Negate, ArrayLength, or Convert to one operand.
type Unary struct {
	Op      UnaryOp
	Operand ValueExpr
	To      ConvertType // meaningful only for UnaryConvert
}

// Cond is a conditional value: test ? ifTrue : ifFalse.
type Cond struct {
	Test            Expr
	IfTrue, IfFalse ValueExpr
}

func (Constant) isValueExpr() {}
func (Member) isValueExpr()   {}
func (Arith) isValueExpr()    {}
func (Call) isValueExpr()     {}
func (Unary) isValueExpr()    {}
func (Cond) isValueExpr()     {}

// Expr is a node in the boolean predicate tree. FieldCmp is the
// normalized `member op constant` shape the optimizer and the binary
// evaluator work on; Cmp is the general form for comparisons whose
// sides are computed (it always evaluates through the typed evaluator
// and is never pushed down or index-matched).
type Expr interface{ isExpr() }

// FieldCmp compares a (possibly dotted) document field against a
// constant BSON value.
type FieldCmp struct {
	Field string
	Op    Op
	Value bson.Value
}

// Cmp compares two computed value expressions. An evaluation error on
// either side (failed conversion, unknown function) makes the
// comparison false rather than aborting the query.
type Cmp struct {
	Op          Op
	Left, Right ValueExpr
}

// And is a conjunction of two predicates.
type And struct{ Left, Right Expr }

// Or is a disjunction of two predicates.
type Or struct{ Left, Right Expr }

// Not negates a predicate.
type Not struct{ Operand Expr }

func (FieldCmp) isExpr() {}
func (Cmp) isExpr()      {}
func (And) isExpr()      {}
func (Or) isExpr()       {}
func (Not) isExpr()      {}

// referencesRow reports whether any Member occurs in the subtree — the
// builder eagerly folds row-independent subtrees (closure captures,
// constant arithmetic) to Constants.
func referencesRow(v ValueExpr) bool {
	switch e := v.(type) {
	case Constant:
		return false
	case Member:
		return true
	case Arith:
		return referencesRow(e.Left) || referencesRow(e.Right)
	case Call:
		if e.Target != nil && referencesRow(e.Target) {
			return true
		}
		for _, a := range e.Args {
			if referencesRow(a) {
				return true
			}
		}
		return false
	case Unary:
		return referencesRow(e.Operand)
	case Cond:
		return exprReferencesRow(e.Test) || referencesRow(e.IfTrue) || referencesRow(e.IfFalse)
	default:
		return true
	}
}

func exprReferencesRow(e Expr) bool {
	switch x := e.(type) {
	case FieldCmp:
		return true
	case Cmp:
		return referencesRow(x.Left) || referencesRow(x.Right)
	case And:
		return exprReferencesRow(x.Left) || exprReferencesRow(x.Right)
	case Or:
		return exprReferencesRow(x.Left) || exprReferencesRow(x.Right)
	case Not:
		return exprReferencesRow(x.Operand)
	default:
		return true
	}
}

// fold eagerly evaluates a row-independent value expression down to a
// Constant; anything touching the row is left intact. Evaluation
// failures also leave the node intact so the error resurfaces (as a
// non-match) at query time instead of at build time.
func fold(v ValueExpr) ValueExpr {
	if _, isConst := v.(Constant); isConst {
		return v
	}
	if referencesRow(v) {
		switch e := v.(type) {
		case Arith:
			return Arith{Op: e.Op, Left: fold(e.Left), Right: fold(e.Right)}
		case Call:
			out := Call{Name: e.Name, Args: make([]ValueExpr, len(e.Args))}
			if e.Target != nil {
				out.Target = fold(e.Target)
			}
			for i, a := range e.Args {
				out.Args[i] = fold(a)
			}
			return out
		case Unary:
			return Unary{Op: e.Op, Operand: fold(e.Operand), To: e.To}
		default:
			return v
		}
	}
	val, err := EvaluateValue(v, nil)
	if err != nil {
		return v
	}
	return Constant{Value: val}
}
